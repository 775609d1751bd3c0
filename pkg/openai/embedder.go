// Package openai wraps the OpenAI API for query embedding and answer
// generation. Both clients read the API key from the environment and honour
// configured timeouts.
package openai

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/onelab-ops/searchpipe/pkg/config"
)

// ErrAPIKeyNotSet is returned when no API key is available at construction.
var ErrAPIKeyNotSet = errors.New("openai api key not set")

// Embedder generates query embeddings via the OpenAI embeddings API.
type Embedder struct {
	client    openai.Client
	model     string
	dimension int
}

// NewEmbedder creates an Embedder for the configured model and dimension.
func NewEmbedder(apiKey string, cfg config.EmbeddingConfig) (*Embedder, error) {
	if apiKey == "" {
		return nil, ErrAPIKeyNotSet
	}
	return &Embedder{
		client:    openai.NewClient(option.WithAPIKey(apiKey)),
		model:     cfg.Model,
		dimension: cfg.Dimension,
	}, nil
}

// Embed returns the embedding vector for a single text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	params := openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(e.model),
		Input: openai.EmbeddingNewParamsInputUnion{
			OfString: openai.String(text),
		},
	}
	if e.dimension > 0 {
		params.Dimensions = openai.Int(int64(e.dimension))
	}

	resp, err := e.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("generating embedding: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("embedding response contained no data")
	}

	raw := resp.Data[0].Embedding
	vector := make([]float32, len(raw))
	for i, v := range raw {
		vector[i] = float32(v)
	}
	return vector, nil
}

// Dimension returns the configured embedding dimension.
func (e *Embedder) Dimension() int {
	return e.dimension
}
