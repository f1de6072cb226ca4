package engine

import "context"

// Engine abstracts a local inference backend. The embedding adapter and the
// vision describer use this interface instead of a concrete client.
type Engine interface {
	// Chat sends messages to the given model and returns the assistant's reply.
	// format is passed through to the backend ("json" or empty).
	Chat(ctx context.Context, model string, messages []Message, format string) (string, error)

	// Embed returns the embedding vector for the given text using the specified model.
	Embed(ctx context.Context, model string, text string) ([]float32, error)

	// IsRunning reports whether the inference backend is reachable.
	IsRunning(ctx context.Context) bool

	// HasModel reports whether the given model name is available locally.
	HasModel(ctx context.Context, name string) bool

	// PullModel downloads a model. The optional callback receives progress updates.
	PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error
}
