package ai

import (
	"context"
	"strings"

	"github.com/suPer8Hu/studytree-ai/internal/config"
)

// BuiltinRegistry registers every backend this service ships with, wired
// from cfg.
func BuiltinRegistry(cfg config.Config) *Registry {
	reg := NewRegistry()

	reg.Register("stub", func(ctx context.Context, model string) (Provider, error) {
		return NewStubProvider(), nil
	})

	reg.Register("ollama", func(ctx context.Context, model string) (Provider, error) {
		m := strings.TrimSpace(model)
		if m == "" {
			m = cfg.OllamaModel
		}
		return NewOllamaProvider(cfg.OllamaBaseURL, m), nil
	})

	openRouter := func(ctx context.Context, model string) (Provider, error) {
		m := strings.TrimSpace(model)
		if m == "" {
			m = cfg.OpenRouterModel
		}
		p := NewOpenRouterProvider(cfg.OpenRouterBaseURL, cfg.AIAPIKey, m, cfg.OpenRouterSiteURL, cfg.OpenRouterAppName)
		if err := p.check(); err != nil {
			return nil, err
		}
		return p, nil
	}
	reg.Register("openrouter", openRouter)
	reg.Register("openai", openRouter)

	return reg
}
