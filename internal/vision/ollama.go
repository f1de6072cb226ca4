package vision

import (
	"context"
	"errors"
	"fmt"

	"github.com/kalambet/cliprecall/internal/engine"
)

// Chatter is the part of engine.Engine the Ollama describer needs.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []engine.Message, format string) (string, error)
}

// OllamaDescriber asks a local vision model (llava, qwen2.5vl, ...) for
// keywords describing a clip's stills.
type OllamaDescriber struct {
	chatter     Chatter
	model       string
	maxKeywords int
}

// NewOllamaDescriber creates an OllamaDescriber using the given chat backend
// and model name.
func NewOllamaDescriber(c Chatter, model string, maxKeywords int) *OllamaDescriber {
	return &OllamaDescriber{chatter: c, model: model, maxKeywords: maxKeywords}
}

// Describe returns the keywords the model sees in images.
func (d *OllamaDescriber) Describe(ctx context.Context, images [][]byte) ([]string, error) {
	if len(images) == 0 {
		return nil, errors.New("no images to describe")
	}
	messages := []engine.Message{
		{Role: "system", Content: buildSystemPrompt(d.maxKeywords)},
		{Role: "user", Content: userPrompt(len(images)), Images: images},
	}
	raw, err := d.chatter.Chat(ctx, d.model, messages, "json")
	if err != nil {
		return nil, fmt.Errorf("vision chat: %w", err)
	}
	return ParseKeywords(raw)
}
