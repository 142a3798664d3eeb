// Package embed defines the embedding provider contract shared by the
// cache tiers and the query path.
package embed

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Embedder turns text into a dense vector.
type Embedder interface {
	// Embed returns the embedding for text. Implementations must return
	// vectors of exactly Dimensions() length.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions reports the length of vectors produced by Embed.
	Dimensions() int
}

// Batch embeds texts concurrently, preserving input order. A failure on
// any text aborts the batch.
func Batch(ctx context.Context, e Embedder, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, text := range texts {
		g.Go(func() error {
			vec, err := e.Embed(ctx, text)
			if err != nil {
				return fmt.Errorf("embed text %d: %w", i, err)
			}
			out[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
