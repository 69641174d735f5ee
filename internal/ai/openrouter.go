package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"
)

// OpenRouterProvider speaks the OpenRouter chat completions API.
type OpenRouterProvider struct {
	BaseURL string
	APIKey  string
	Model   string
	// SiteURL and AppName are sent as attribution headers when set.
	SiteURL string
	AppName string
	Client  *http.Client
}

func NewOpenRouterProvider(baseURL, apiKey, model, siteURL, appName string) *OpenRouterProvider {
	if baseURL == "" {
		baseURL = "https://openrouter.ai/api/v1"
	}
	return &OpenRouterProvider{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Model:   model,
		SiteURL: siteURL,
		AppName: appName,
		Client:  &http.Client{Timeout: 90 * time.Second},
	}
}

type openRouterChatReq struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type openRouterError struct {
	Message string `json:"message"`
}

// openRouterResp is one SSE data payload.
type openRouterResp struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Error *openRouterError `json:"error,omitempty"`
}

func (r *openRouterResp) err() error {
	if r.Error != nil && r.Error.Message != "" {
		return errors.New(r.Error.Message)
	}
	return nil
}

func (p *OpenRouterProvider) request(ctx context.Context, messages []Message) (*http.Request, error) {
	if p.Client == nil {
		return nil, errors.New("openrouter: http client is nil")
	}
	if strings.TrimSpace(p.APIKey) == "" {
		return nil, errors.New("openrouter: api key is required")
	}
	model := strings.TrimSpace(p.Model)
	if model == "" {
		return nil, errors.New("openrouter: model is required")
	}

	req, err := newJSONRequest(ctx, strings.TrimRight(p.BaseURL, "/")+"/chat/completions", openRouterChatReq{
		Model:    model,
		Messages: messages,
		Stream:   true,
	})
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+p.APIKey)
	req.Header.Set("Accept", "text/event-stream")
	if p.SiteURL != "" {
		req.Header.Set("HTTP-Referer", p.SiteURL)
	}
	if p.AppName != "" {
		req.Header.Set("X-Title", p.AppName)
	}
	return req, nil
}

var (
	sseData = []byte("data:")
	sseDone = []byte("[DONE]")
)

// StreamChat reads the SSE stream. Comment lines such as
// ": OPENROUTER PROCESSING" are ignored.
func (p *OpenRouterProvider) StreamChat(ctx context.Context, messages []Message) (<-chan string, <-chan error) {
	req, err := p.request(ctx, messages)
	if err != nil {
		return failedStream(err)
	}
	return streamLines(ctx, "openrouter", p.Client, req, func(line []byte) (string, bool, error) {
		if !bytes.HasPrefix(line, sseData) {
			return "", false, errSkip
		}
		data := bytes.TrimSpace(line[len(sseData):])
		if bytes.Equal(data, sseDone) {
			return "", true, nil
		}
		var c openRouterResp
		if err := json.Unmarshal(data, &c); err != nil {
			return "", false, malformedChunk{err}
		}
		if err := c.err(); err != nil {
			return "", false, err
		}
		if len(c.Choices) == 0 {
			return "", false, errSkip
		}
		return c.Choices[0].Delta.Content, false, nil
	})
}
