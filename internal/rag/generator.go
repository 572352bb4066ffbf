package rag

import (
	"context"
	"io"

	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"
	"github.com/tmc/langchaingo/llms"
)

// LLMGenerator streams completions from any langchaingo model (Ollama in
// the default deployment).
type LLMGenerator struct {
	model       llms.Model
	temperature float64
}

// NewLLMGenerator wraps model.
func NewLLMGenerator(model llms.Model) *LLMGenerator {
	return &LLMGenerator{model: model, temperature: 0.2}
}

func (g *LLMGenerator) Stream(ctx context.Context, prompt string, onFragment func(string)) error {
	_, err := llms.GenerateFromSinglePrompt(ctx, g.model, prompt,
		llms.WithTemperature(g.temperature),
		llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
			if len(chunk) > 0 {
				onFragment(string(chunk))
			}
			return nil
		}),
	)
	return err
}

// OpenAIGenerator streams chat completions from an OpenAI-compatible API.
type OpenAIGenerator struct {
	client *openai.Client
	model  string
}

// NewOpenAIGenerator builds a client for baseURL (empty for api.openai.com).
func NewOpenAIGenerator(apiKey, baseURL, model string) *OpenAIGenerator {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIGenerator{client: openai.NewClientWithConfig(cfg), model: model}
}

func (g *OpenAIGenerator) Stream(ctx context.Context, prompt string, onFragment func(string)) error {
	stream, err := g.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:  g.model,
		Stream: true,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return errors.Wrap(err, "openai: start stream")
	}
	defer stream.Close()

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "openai: receive")
		}
		for _, choice := range resp.Choices {
			if choice.Delta.Content != "" {
				onFragment(choice.Delta.Content)
			}
		}
	}
}
