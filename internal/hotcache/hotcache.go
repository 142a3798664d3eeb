// Package hotcache implements the hot tier: a small, shared, in-process
// vector index over the globally most-asked questions, backed by chromem-go.
//
// The hot tier is a derived, lossy view of the durable store. It is never
// pruned entry-by-entry; the orchestrator replaces its contents wholesale
// during refresh. Every operation fails soft at the call site above this
// package: callers treat an error as a cache miss, never as fatal.
package hotcache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/minervahq/recall/internal/answer"
	"github.com/minervahq/recall/internal/vector"
)

const collectionName = "hot_answers"

// IndexState reports what EnsureIndex found.
type IndexState int

const (
	IndexCreated IndexState = iota
	IndexAlreadyPresent
)

func (s IndexState) String() string {
	if s == IndexCreated {
		return "created"
	}
	return "already_present"
}

// Candidate is one ranked search result. No threshold is applied here;
// thresholding is the orchestrator's job, so callers can inspect best-effort
// similarity even on a below-threshold outcome.
type Candidate struct {
	Key        string
	Question   string
	Answer     answer.Payload
	Confidence float64
	Similarity float32
}

// Cache is the hot-tier index. Safe for concurrent use; Clear swaps the
// whole collection, so a search racing a rebuild may transiently miss
// entries (accepted eventual consistency of the hot tier).
type Cache struct {
	dim int

	mu  sync.RWMutex
	db  *chromem.DB
	col *chromem.Collection
}

// New creates an empty hot cache for embeddings of the given dimension.
func New(dim int) (*Cache, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("invalid embedding dimension %d", dim)
	}
	return &Cache{dim: dim, db: chromem.NewDB()}, nil
}

// EnsureIndex idempotently creates the backing collection. The returned
// state distinguishes creation from a no-op; neither is an error.
func (c *Cache) EnsureIndex() (IndexState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.col != nil {
		return IndexAlreadyPresent, nil
	}
	// We always supply embeddings ourselves, so no embedding func is wired.
	col, err := c.db.GetOrCreateCollection(collectionName, nil, nil)
	if err != nil {
		return IndexAlreadyPresent, fmt.Errorf("creating hot index: %w", err)
	}
	c.col = col
	return IndexCreated, nil
}

// Upsert writes or overwrites the entry keyed by id. The embedding is
// normalized before storage.
func (c *Cache) Upsert(ctx context.Context, id, question string, ans answer.Payload, confidence float64, embedding []float32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(embedding) != c.dim {
		return fmt.Errorf("embedding dimension %d does not match index dimension %d", len(embedding), c.dim)
	}

	col, err := c.collection()
	if err != nil {
		return err
	}

	answerJSON, err := json.Marshal(ans)
	if err != nil {
		return fmt.Errorf("marshalling answer: %w", err)
	}

	doc := chromem.Document{
		ID:        id,
		Content:   question,
		Embedding: vector.Normalize(embedding),
		Metadata: map[string]string{
			"answer":     string(answerJSON),
			"confidence": strconv.FormatFloat(confidence, 'f', -1, 64),
		},
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("adding hot entry %s: %w", id, err)
	}
	return nil
}

// Search returns up to topK candidates ranked by cosine similarity.
// An empty index yields an empty result, not an error. Entries with
// undecodable metadata are skipped.
func (c *Cache) Search(ctx context.Context, embedding []float32, topK int) ([]Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(embedding) != c.dim {
		return nil, fmt.Errorf("query dimension %d does not match index dimension %d", len(embedding), c.dim)
	}
	if topK <= 0 {
		topK = 1
	}

	col, err := c.collection()
	if err != nil {
		return nil, err
	}

	// chromem rejects nResults larger than the collection size.
	if n := col.Count(); n == 0 {
		return nil, nil
	} else if topK > n {
		topK = n
	}

	results, err := col.QueryEmbedding(ctx, vector.Normalize(embedding), topK, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("querying hot index: %w", err)
	}

	candidates := make([]Candidate, 0, len(results))
	for _, res := range results {
		ans, err := answer.Parse([]byte(res.Metadata["answer"]))
		if err != nil {
			continue
		}
		confidence, err := strconv.ParseFloat(res.Metadata["confidence"], 64)
		if err != nil {
			continue
		}
		candidates = append(candidates, Candidate{
			Key:        res.ID,
			Question:   res.Content,
			Answer:     ans,
			Confidence: confidence,
			Similarity: res.Similarity,
		})
	}
	return candidates, nil
}

// Clear drops all entries. The next EnsureIndex or write recreates the
// collection; used before a full generational rebuild.
func (c *Cache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.col == nil {
		return nil
	}
	if err := c.db.DeleteCollection(collectionName); err != nil {
		return fmt.Errorf("dropping hot index: %w", err)
	}
	col, err := c.db.GetOrCreateCollection(collectionName, nil, nil)
	if err != nil {
		return fmt.Errorf("recreating hot index: %w", err)
	}
	c.col = col
	return nil
}

// Len returns the current entry count (0 before EnsureIndex).
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.col == nil {
		return 0
	}
	return c.col.Count()
}

func (c *Cache) collection() (*chromem.Collection, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.col == nil {
		return nil, fmt.Errorf("hot index not initialized: call EnsureIndex first")
	}
	return c.col, nil
}
