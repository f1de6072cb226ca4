package embedding

import (
	"context"
	"fmt"

	"github.com/kalambet/cliprecall/internal/engine"
)

// Backend computes a fixed-length vector for a text string.
//
// Implementations are NOT safe for concurrent invocation. Every call site in
// the process must go through a single Serial.
type Backend interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// EngineBackend wraps an Engine and model name as a Backend.
type EngineBackend struct {
	engine engine.Engine
	model  string
}

// NewEngineBackend creates an EngineBackend using the given Engine and model name.
func NewEngineBackend(e engine.Engine, model string) *EngineBackend {
	return &EngineBackend{engine: e, model: model}
}

// Embed returns the embedding vector for a single text.
func (b *EngineBackend) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := b.engine.Embed(ctx, b.model, text)
	if err != nil {
		return nil, fmt.Errorf("embedding text: %w", err)
	}
	return vec, nil
}
