package ai

import (
	"context"
	"strings"

	"github.com/suPer8Hu/hackgpt/internal/config"
)

// NewRegistryFromConfig registers every provider the process knows how to
// build. An empty model selects the provider's configured default.
func NewRegistryFromConfig(cfg config.Config) *Registry {
	reg := NewRegistry()
	pick := func(model, def string) string {
		if m := strings.TrimSpace(model); m != "" {
			return m
		}
		return def
	}

	reg.Register("ollama", func(ctx context.Context, model string) (StreamProvider, error) {
		return NewOllamaProvider(cfg.OllamaBaseURL, pick(model, cfg.OllamaModel)), nil
	})
	reg.Register("openrouter", func(ctx context.Context, model string) (StreamProvider, error) {
		return NewOpenRouterProvider(cfg.OpenRouterBaseURL, cfg.OpenRouterAPIKey,
			pick(model, cfg.OpenRouterModel), cfg.OpenRouterSiteURL, cfg.OpenRouterAppName), nil
	})
	reg.Register("openai", func(ctx context.Context, model string) (StreamProvider, error) {
		return NewOpenAIProvider(cfg.OpenAIAPIKey, pick(model, cfg.OpenAIModel), cfg.OpenAIBaseURL), nil
	})
	reg.Register("anthropic", func(ctx context.Context, model string) (StreamProvider, error) {
		return NewAnthropicProvider(cfg.AnthropicAPIKey, pick(model, cfg.AnthropicModel)), nil
	})
	return reg
}
