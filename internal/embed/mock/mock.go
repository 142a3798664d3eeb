// Package mock provides a deterministic embedder for tests and local
// runs without API access.
package mock

import (
	"context"
	"hash/fnv"
	"math"

	"github.com/minervahq/recall/internal/vector"
)

// Embedder derives a unit vector from a hash of the input text. Equal
// texts always map to equal vectors.
type Embedder struct {
	dim int
}

func New(dim int) *Embedder {
	return &Embedder{dim: dim}
}

func (m *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()

	out := make([]float32, m.dim)
	for i := range out {
		seed = seed*6364136223846793005 + 1442695040888963407
		out[i] = float32(int64(seed)) / float32(math.MaxInt64)
	}
	return vector.Normalize(out), nil
}

func (m *Embedder) Dimensions() int {
	return m.dim
}
