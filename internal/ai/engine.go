package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/suPer8Hu/studytree-ai/internal/apperr"
)

// Engine is the provider chosen at startup plus the model name reported on
// every artifact. It never retries: a partially streamed answer cannot be
// replayed safely, so retry policy stays with the caller.
type Engine struct {
	provider  Provider
	modelName string
}

// NewEngine resolves name in reg. An unknown name is a startup error.
func NewEngine(ctx context.Context, reg *Registry, name, model string) (*Engine, error) {
	p, err := reg.Get(ctx, name, model)
	if err != nil {
		return nil, fmt.Errorf("ai engine: %w", err)
	}
	return &Engine{provider: p, modelName: strings.ToLower(strings.TrimSpace(name))}, nil
}

// NewEngineWith wraps an already built provider.
func NewEngineWith(p Provider, modelName string) *Engine {
	return &Engine{provider: p, modelName: modelName}
}

func (e *Engine) ModelName() string { return e.modelName }

// Generate calls the provider and normalizes its failures to generation
// errors.
func (e *Engine) Generate(ctx context.Context, prompt string, stream bool) (TextResult, error) {
	res, err := e.provider.Generate(ctx, prompt, stream)
	if err != nil {
		var ae *apperr.Error
		if errors.As(err, &ae) {
			return TextResult{}, err
		}
		return TextResult{}, apperr.Generation("provider call failed", err)
	}
	if stream && res.Stream == nil {
		return TextResult{}, apperr.Generation("provider returned no stream", nil)
	}
	return res, nil
}
