// Package retrieval: OpenAI-backed embedding of queries and passages.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Embedder turns text into a dense vector. Implementations must produce
// vectors of a single fixed dimension.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// OpenAIEmbedder embeds text via the OpenAI embeddings API.
type OpenAIEmbedder struct {
	client openai.Client
	model  openai.EmbeddingModel
}

// EmbedderOption configures an OpenAIEmbedder.
type EmbedderOption func(*embedderOpts)

type embedderOpts struct {
	apiKey string
	model  openai.EmbeddingModel
}

// WithEmbedderAPIKey sets the API key explicitly instead of reading the
// environment.
func WithEmbedderAPIKey(key string) EmbedderOption {
	return func(o *embedderOpts) { o.apiKey = key }
}

// WithEmbeddingModel overrides the embedding model.
func WithEmbeddingModel(model openai.EmbeddingModel) EmbedderOption {
	return func(o *embedderOpts) { o.model = model }
}

// NewOpenAIEmbedder creates an embedder. Without WithEmbedderAPIKey the
// OPENAI_API_KEY environment variable is used by the underlying client.
func NewOpenAIEmbedder(opts ...EmbedderOption) *OpenAIEmbedder {
	cfg := embedderOpts{model: openai.EmbeddingModelTextEmbedding3Small}
	for _, opt := range opts {
		opt(&cfg)
	}
	var reqOpts []option.RequestOption
	if cfg.apiKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(cfg.apiKey))
	}
	slog.Debug("retrieval.NewOpenAIEmbedder: creating embedder", "model", cfg.model, "api_key_set", cfg.apiKey != "")
	return &OpenAIEmbedder{client: openai.NewClient(reqOpts...), model: cfg.model}
}

// Embed implements Embedder.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: e.model,
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
	})
	if err != nil {
		slog.Error("OpenAIEmbedder.Embed: embedding request failed", "error", err)
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("embedding response contained no data")
	}
	raw := resp.Data[0].Embedding
	vec := make([]float32, len(raw))
	for i, v := range raw {
		vec[i] = float32(v)
	}
	return vec, nil
}
