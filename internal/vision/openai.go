package vision

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// DefaultOpenAIMaxTokens bounds the length of a describer reply.
const DefaultOpenAIMaxTokens = 300

// OpenAIDescriber sends a clip's stills to any OpenAI-compatible chat
// completion endpoint that accepts image inputs.
type OpenAIDescriber struct {
	client      *openai.Client
	model       string
	maxTokens   int
	maxKeywords int
}

// OpenAIOptions configures an OpenAIDescriber. BaseURL may be empty to use
// the OpenAI API.
type OpenAIOptions struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	MaxKeywords int
}

// NewOpenAIDescriber creates an OpenAIDescriber.
func NewOpenAIDescriber(opts OpenAIOptions) *OpenAIDescriber {
	clientConfig := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		clientConfig.BaseURL = opts.BaseURL
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultOpenAIMaxTokens
	}
	return &OpenAIDescriber{
		client:      openai.NewClientWithConfig(clientConfig),
		model:       opts.Model,
		maxTokens:   opts.MaxTokens,
		maxKeywords: opts.MaxKeywords,
	}
}

// Describe returns the keywords the model sees in images.
func (d *OpenAIDescriber) Describe(ctx context.Context, images [][]byte) ([]string, error) {
	if len(images) == 0 {
		return nil, errors.New("no images to describe")
	}

	parts := []openai.ChatMessagePart{
		{Type: openai.ChatMessagePartTypeText, Text: userPrompt(len(images))},
	}
	for _, img := range images {
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL:    "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(img),
				Detail: openai.ImageURLDetailLow,
			},
		})
	}

	req := openai.ChatCompletionRequest{
		Model: d.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: buildSystemPrompt(d.maxKeywords)},
			{Role: openai.ChatMessageRoleUser, MultiContent: parts},
		},
		MaxTokens:   d.maxTokens,
		Temperature: 0.2,
	}

	resp, err := d.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("vision completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrEmptyResponse
	}
	return ParseKeywords(resp.Choices[0].Message.Content)
}
