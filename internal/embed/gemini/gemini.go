// Package gemini implements the embedding provider backed by the Google
// Generative AI API.
package gemini

import (
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const DefaultModel = "gemini-embedding-001"

// Embedder generates embeddings through a Gemini embedding model. It is
// safe for concurrent use.
type Embedder struct {
	client *genai.Client
	model  *genai.EmbeddingModel
	dim    int
}

// New dials the Generative AI API with the given key. The dimension must
// match what the chosen model produces.
func New(ctx context.Context, apiKey, model string, dim int) (*Embedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: api key is empty")
	}
	if model == "" {
		model = DefaultModel
	}
	if dim <= 0 {
		return nil, fmt.Errorf("gemini: invalid dimension %d", dim)
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}

	return &Embedder{
		client: client,
		model:  client.EmbeddingModel(model),
		dim:    dim,
	}, nil
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.model.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("gemini: embed content: %w", err)
	}
	if resp == nil || resp.Embedding == nil {
		return nil, fmt.Errorf("gemini: empty embedding response")
	}
	if len(resp.Embedding.Values) != e.dim {
		return nil, fmt.Errorf("gemini: model returned %d dimensions, want %d", len(resp.Embedding.Values), e.dim)
	}
	return resp.Embedding.Values, nil
}

func (e *Embedder) Dimensions() int {
	return e.dim
}

// Close releases the underlying API client.
func (e *Embedder) Close() error {
	return e.client.Close()
}
