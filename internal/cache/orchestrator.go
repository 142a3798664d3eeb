// Package cache coordinates the hot in-memory answer index with the
// durable store, deciding which tier serves a query and when the hot
// tier is rebuilt.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/minervahq/recall/internal/answer"
	"github.com/minervahq/recall/internal/hotcache"
	"github.com/minervahq/recall/internal/storage"
)

// Source identifies which tier produced a lookup result.
type Source int

const (
	SourceMiss Source = iota
	SourceHot
	SourceDurable
)

func (s Source) String() string {
	switch s {
	case SourceHot:
		return "hot"
	case SourceDurable:
		return "durable"
	default:
		return "miss"
	}
}

// Result is the outcome of a tiered lookup. Answer and Confidence are
// meaningful only when Source is not SourceMiss. On a miss, Similarity
// still carries the best hot tier score seen, so callers can observe
// how close a query came to a hit.
type Result struct {
	Source     Source
	Answer     answer.Payload
	Confidence float64
	Similarity float32
}

// DurableStore is the subset of the persistent store the orchestrator
// depends on.
type DurableStore interface {
	UpsertTurn(ctx context.Context, sessionID, question string, ans answer.Payload, embedding []float32, confidence float64) (int64, error)
	SemanticSearch(ctx context.Context, embedding []float32, threshold float32, topK int) (*storage.Match, error)
	UniqueQuestionCount(ctx context.Context) (int, error)
	TopQuestionsByHits(ctx context.Context, limit int) ([]storage.TopQuestion, error)
}

// HotIndex is the subset of the in-memory tier the orchestrator depends
// on.
type HotIndex interface {
	Upsert(ctx context.Context, id, question string, ans answer.Payload, confidence float64, embedding []float32) error
	Search(ctx context.Context, embedding []float32, topK int) ([]hotcache.Candidate, error)
	Clear() error
}

// Embedder re-embeds questions during a refresh when the stored vector
// is missing.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Options tune the tier thresholds and the promotion cadence.
type Options struct {
	// HotThreshold is the minimum cosine similarity for a hot tier hit.
	HotThreshold float32
	// DurableThreshold is the minimum similarity for a durable tier hit.
	DurableThreshold float32
	// TopK bounds how many candidates each tier considers.
	TopK int
	// PromoteEvery triggers a hot tier rebuild when the unique question
	// count reaches a multiple of it.
	PromoteEvery int
	// RefreshLimit caps how many questions a rebuild loads into the hot
	// tier.
	RefreshLimit int
	// HotTimeout bounds a single hot tier search. Zero disables the
	// bound.
	HotTimeout time.Duration
}

// DefaultOptions returns the production thresholds.
func DefaultOptions() Options {
	return Options{
		HotThreshold:     0.98,
		DurableThreshold: 0.90,
		TopK:             3,
		PromoteEvery:     23,
		RefreshLimit:     5,
		HotTimeout:       2 * time.Second,
	}
}

func (o Options) validate() error {
	if o.HotThreshold < o.DurableThreshold {
		return fmt.Errorf("hot threshold %.2f below durable threshold %.2f", o.HotThreshold, o.DurableThreshold)
	}
	if o.TopK <= 0 {
		return fmt.Errorf("top-k must be positive, got %d", o.TopK)
	}
	if o.PromoteEvery <= 0 {
		return fmt.Errorf("promotion cadence must be positive, got %d", o.PromoteEvery)
	}
	if o.RefreshLimit <= 0 {
		return fmt.Errorf("refresh limit must be positive, got %d", o.RefreshLimit)
	}
	return nil
}

// Tiered routes lookups through the hot tier first, then the durable
// store. A hot tier failure never fails a lookup.
type Tiered struct {
	store  DurableStore
	hot    HotIndex
	embed  Embedder
	ids    *Allocator
	opts   Options
	logger *slog.Logger
}

func NewTiered(store DurableStore, hot HotIndex, embedder Embedder, opts Options, logger *slog.Logger) (*Tiered, error) {
	if err := opts.validate(); err != nil {
		return nil, fmt.Errorf("cache options: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tiered{
		store:  store,
		hot:    hot,
		embed:  embedder,
		ids:    NewAllocator(),
		opts:   opts,
		logger: logger,
	}, nil
}

// Lookup checks the hot tier, then the durable store. It returns a miss
// result when neither tier clears its threshold. A failure in either
// tier is logged and treated as a miss: a degraded cache must never
// block the fallback pipeline.
func (t *Tiered) Lookup(ctx context.Context, embedding []float32) Result {
	hit, bestHot := t.searchHot(ctx, embedding)
	if hit.Source == SourceHot {
		return hit
	}

	match, err := t.store.SemanticSearch(ctx, embedding, t.opts.DurableThreshold, t.opts.TopK)
	if err != nil {
		t.logger.Warn("durable search failed, treating as miss", "error", err)
		return Result{Source: SourceMiss, Similarity: bestHot}
	}
	if match != nil {
		return Result{
			Source:     SourceDurable,
			Answer:     match.Turn.Answer,
			Confidence: match.Turn.Confidence,
			Similarity: match.Similarity,
		}
	}

	return Result{Source: SourceMiss, Similarity: bestHot}
}

// searchHot queries the hot tier. It returns the hit result when a
// candidate cleared the hot threshold, and the best similarity seen
// either way. Any failure is logged and treated as a miss so the
// durable tier still gets a chance.
func (t *Tiered) searchHot(ctx context.Context, embedding []float32) (Result, float32) {
	if t.opts.HotTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.opts.HotTimeout)
		defer cancel()
	}

	candidates, err := t.hot.Search(ctx, embedding, t.opts.TopK)
	if err != nil {
		t.logger.Warn("hot tier search failed, falling through", "error", err)
		return Result{}, 0
	}
	if len(candidates) == 0 {
		return Result{}, 0
	}

	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.Similarity > best.Similarity ||
			(c.Similarity == best.Similarity && c.Confidence > best.Confidence) {
			best = c
		}
	}
	if best.Similarity < t.opts.HotThreshold {
		t.logger.Debug("hot tier below threshold",
			"best_similarity", best.Similarity,
			"threshold", t.opts.HotThreshold)
		return Result{}, best.Similarity
	}

	return Result{
		Source:     SourceHot,
		Answer:     best.Answer,
		Confidence: best.Confidence,
		Similarity: best.Similarity,
	}, best.Similarity
}

// Record persists a served answer and updates the hot tier. Fresh
// answers are written through to the hot tier while the corpus is still
// small; every PromoteEvery-th unique question triggers a full rebuild
// instead.
func (t *Tiered) Record(ctx context.Context, sessionID, question string, ans answer.Payload, embedding []float32, confidence float64, fromMiss bool) error {
	if _, err := t.store.UpsertTurn(ctx, sessionID, question, ans, embedding, confidence); err != nil {
		return fmt.Errorf("persist turn: %w", err)
	}

	count, err := t.store.UniqueQuestionCount(ctx)
	if err != nil {
		return fmt.Errorf("count questions: %w", err)
	}

	switch {
	case count%t.opts.PromoteEvery == 0:
		if err := t.Refresh(ctx); err != nil {
			t.logger.Warn("hot tier refresh failed", "error", err)
		}
	case fromMiss && count < t.opts.PromoteEvery:
		if err := t.hot.Upsert(ctx, t.ids.Next(), question, ans, confidence, embedding); err != nil {
			t.logger.Warn("hot tier write-through failed", "error", err)
		}
	}
	return nil
}

// Refresh rebuilds the hot tier from the most asked questions in the
// durable store. Questions whose stored vector is missing are re-embedded
// before loading.
func (t *Tiered) Refresh(ctx context.Context) error {
	top, err := t.store.TopQuestionsByHits(ctx, t.opts.RefreshLimit)
	if err != nil {
		return fmt.Errorf("load top questions: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i := range top {
		if top[i].Embedding != nil {
			continue
		}
		g.Go(func() error {
			vec, err := t.embed.Embed(gctx, top[i].Question)
			if err != nil {
				return fmt.Errorf("re-embed %q: %w", top[i].Question, err)
			}
			top[i].Embedding = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if err := t.hot.Clear(); err != nil {
		return fmt.Errorf("clear hot tier: %w", err)
	}
	for _, q := range top {
		if err := t.hot.Upsert(ctx, t.ids.Next(), q.Question, q.Answer, q.Confidence, q.Embedding); err != nil {
			return fmt.Errorf("load hot tier: %w", err)
		}
	}
	t.logger.Info("hot tier refreshed", "entries", len(top))
	return nil
}
