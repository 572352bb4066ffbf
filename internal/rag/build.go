package rag

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/zulandar/botyard/internal/config"
)

// New assembles a Pipeline from configuration: Ollama embeddings, a Weaviate
// store and the configured generator. The Weaviate class is created if
// missing.
func New(ctx context.Context, cfg config.RAGConfig, log zerolog.Logger) (*Pipeline, error) {
	embedLLM, err := ollama.New(ollama.WithModel(cfg.EmbedModel), ollama.WithServerURL(cfg.OllamaURL))
	if err != nil {
		return nil, errors.Wrap(err, "rag: ollama embedder")
	}
	embedder, err := embeddings.NewEmbedder(embedLLM)
	if err != nil {
		return nil, errors.Wrap(err, "rag: embedder")
	}

	var gen Generator
	switch cfg.Generator {
	case "openai":
		gen = NewOpenAIGenerator(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Model)
	default:
		chatLLM, err := ollama.New(ollama.WithModel(cfg.ChatModel), ollama.WithServerURL(cfg.OllamaURL))
		if err != nil {
			return nil, errors.Wrap(err, "rag: ollama chat model")
		}
		gen = NewLLMGenerator(chatLLM)
	}

	client, err := NewWeaviateClient(cfg.Weaviate.Host, cfg.Weaviate.Scheme)
	if err != nil {
		return nil, err
	}
	store := NewWeaviateStore(client, cfg.Weaviate.Class, log)
	if err := store.EnsureSchema(ctx); err != nil {
		return nil, err
	}

	return NewPipeline(Options{
		Fetcher:   NewFetcher(int64(cfg.MaxDownloadMB)<<20, time.Duration(cfg.FetchTimeoutSec)*time.Second),
		Embedder:  embedder,
		Store:     store,
		Generator: gen,
		Splitter:  NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap),
		TopK:      cfg.TopK,
		Logger:    log,
	})
}
