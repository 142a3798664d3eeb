package embed_test

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/minervahq/recall/internal/embed"
	"github.com/minervahq/recall/internal/embed/mock"
)

func TestMockDeterministic(t *testing.T) {
	ctx := context.Background()
	m := mock.New(16)

	a, err := m.Embed(ctx, "what is a w-2")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	b, err := m.Embed(ctx, "what is a w-2")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(a) != 16 {
		t.Fatalf("dimension = %d, want 16", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("embeddings differ at %d: %f vs %f", i, a[i], b[i])
		}
	}

	c, err := m.Embed(ctx, "different text")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	same := true
	for i := range a {
		if a[i] != c[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("distinct texts produced identical embeddings")
	}
}

func TestMockUnitNorm(t *testing.T) {
	m := mock.New(32)
	v, err := m.Embed(context.Background(), "normalize me")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if math.Abs(math.Sqrt(norm)-1) > 1e-5 {
		t.Errorf("norm = %f, want 1", math.Sqrt(norm))
	}
}

func TestBatchPreservesOrder(t *testing.T) {
	ctx := context.Background()
	m := mock.New(8)
	texts := []string{"one", "two", "three", "four", "five", "six"}

	got, err := embed.Batch(ctx, m, texts)
	if err != nil {
		t.Fatalf("Batch: %v", err)
	}
	if len(got) != len(texts) {
		t.Fatalf("got %d vectors, want %d", len(got), len(texts))
	}
	for i, text := range texts {
		want, _ := m.Embed(ctx, text)
		for j := range want {
			if got[i][j] != want[j] {
				t.Fatalf("vector %d does not match direct embedding", i)
			}
		}
	}
}

type failingEmbedder struct{}

func (failingEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("provider down")
}

func (failingEmbedder) Dimensions() int { return 8 }

func TestBatchPropagatesError(t *testing.T) {
	_, err := embed.Batch(context.Background(), failingEmbedder{}, []string{"a", "b"})
	if err == nil {
		t.Fatal("expected error from failing embedder")
	}
}
