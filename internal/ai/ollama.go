package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"
)

type OllamaProvider struct {
	BaseURL string
	Model   string
	Client  *http.Client
}

func NewOllamaProvider(baseURL, model string) *OllamaProvider {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "llama3:latest"
	}
	return &OllamaProvider{
		BaseURL: baseURL,
		Model:   model,
		Client:  &http.Client{Timeout: 90 * time.Second},
	}
}

type ollamaChatReq struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

// ollamaChunk is one NDJSON stream line.
type ollamaChunk struct {
	Message Message `json:"message"`
	Done    bool    `json:"done"`
	Error   string  `json:"error,omitempty"`
}

func (p *OllamaProvider) request(ctx context.Context, messages []Message) (*http.Request, error) {
	if p.Client == nil {
		return nil, errors.New("ollama: http client is nil")
	}
	return newJSONRequest(ctx, strings.TrimRight(p.BaseURL, "/")+"/api/chat", ollamaChatReq{
		Model:    p.Model,
		Messages: messages,
		Stream:   true,
	})
}

// StreamChat reads the NDJSON chat stream, one JSON object per line.
func (p *OllamaProvider) StreamChat(ctx context.Context, messages []Message) (<-chan string, <-chan error) {
	req, err := p.request(ctx, messages)
	if err != nil {
		return failedStream(err)
	}
	return streamLines(ctx, "ollama", p.Client, req, func(line []byte) (string, bool, error) {
		var c ollamaChunk
		if err := json.Unmarshal(line, &c); err != nil {
			return "", false, malformedChunk{err}
		}
		if c.Error != "" {
			return "", false, errors.New(c.Error)
		}
		return c.Message.Content, c.Done, nil
	})
}
