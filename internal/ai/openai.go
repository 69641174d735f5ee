package ai

import (
	"context"
	"errors"
	"io"
	"strings"

	openai "github.com/meguminnnnnnnnn/go-openai"
)

// OpenAIProvider talks to the OpenAI chat completions API, or any server
// that speaks it when BaseURL is set.
type OpenAIProvider struct {
	client *openai.Client
	model  string
}

func NewOpenAIProvider(apiKey, model, baseURL string) *OpenAIProvider {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &OpenAIProvider{
		client: openai.NewClientWithConfig(config),
		model:  model,
	}
}

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		role := openai.ChatMessageRoleUser
		switch m.Role {
		case RoleSystem:
			role = openai.ChatMessageRoleSystem
		case RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return out
}

func (p *OpenAIProvider) StreamChat(ctx context.Context, messages []Message) (<-chan string, <-chan error) {
	chunks := make(chan string, 16)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)

		if strings.TrimSpace(p.model) == "" {
			errs <- errors.New("openai: model is required")
			return
		}

		stream, err := p.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
			Model:    p.model,
			Messages: toOpenAIMessages(messages),
			Stream:   true,
		})
		if err != nil {
			errs <- err
			return
		}
		defer stream.Close()

		for {
			response, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				errs <- err
				return
			}
			if len(response.Choices) == 0 {
				continue
			}
			if delta := response.Choices[0].Delta.Content; delta != "" {
				if !emit(ctx, chunks, delta) {
					return
				}
			}
		}
	}()

	return chunks, errs
}
