package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	anthropic "github.com/liushuangls/go-anthropic/v2"
)

const anthropicMaxTokens = 4096

type AnthropicProvider struct {
	client *anthropic.Client
	model  string
}

func NewAnthropicProvider(apiKey, model string) *AnthropicProvider {
	return &AnthropicProvider{client: anthropic.NewClient(apiKey), model: model}
}

// toAnthropicRequest moves system turns into the system blocks; the messages
// API only accepts user and assistant roles.
func (p *AnthropicProvider) toAnthropicRequest(messages []Message) anthropic.MessagesRequest {
	var system []anthropic.MessageSystemPart
	msgs := make([]anthropic.Message, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, anthropic.MessageSystemPart{Type: "text", Text: m.Content})
		case RoleAssistant:
			msgs = append(msgs, anthropic.Message{
				Role:    anthropic.RoleAssistant,
				Content: []anthropic.MessageContent{anthropic.NewTextMessageContent(m.Content)},
			})
		default:
			msgs = append(msgs, anthropic.Message{
				Role:    anthropic.RoleUser,
				Content: []anthropic.MessageContent{anthropic.NewTextMessageContent(m.Content)},
			})
		}
	}

	req := anthropic.MessagesRequest{
		Model:     anthropic.Model(p.model),
		Messages:  msgs,
		MaxTokens: anthropicMaxTokens,
	}
	if len(system) > 0 {
		req.MultiSystem = system
	}
	return req
}

func (p *AnthropicProvider) StreamChat(ctx context.Context, messages []Message) (<-chan string, <-chan error) {
	chunks := make(chan string, 16)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)

		if strings.TrimSpace(p.model) == "" {
			errs <- errors.New("anthropic: model is required")
			return
		}

		// the SDK drives the callbacks synchronously; cancelling streamCtx
		// makes CreateMessagesStream return once the consumer is gone
		streamCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		var streamErr error
		req := anthropic.MessagesStreamRequest{MessagesRequest: p.toAnthropicRequest(messages)}
		req.OnError = func(errResp anthropic.ErrorResponse) {
			if streamErr == nil {
				streamErr = fmt.Errorf("anthropic: %v", errResp.Error)
			}
		}
		req.OnContentBlockDelta = func(delta anthropic.MessagesEventContentBlockDeltaData) {
			if delta.Delta.Type != "text_delta" || delta.Delta.Text == nil || *delta.Delta.Text == "" {
				return
			}
			if !emit(streamCtx, chunks, *delta.Delta.Text) {
				cancel()
			}
		}

		_, err := p.client.CreateMessagesStream(streamCtx, req)
		if streamErr != nil {
			errs <- streamErr
			return
		}
		if err != nil && ctx.Err() == nil {
			errs <- err
		}
	}()

	return chunks, errs
}
