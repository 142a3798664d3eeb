package storage

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/minervahq/recall/internal/answer"
	"github.com/minervahq/recall/internal/vector"
)

// idScore holds only the row id and similarity during the scan phase.
// Full rows are fetched only for top-K winners.
type idScore struct {
	ID    int64
	Score float32
}

// SemanticSearch finds the best stored answer for a query embedding.
//
// The query is normalized, the topK nearest rows by cosine similarity are
// collected with a brute-force scan over the vector column, and the candidate
// set is then re-sorted by confidence descending (not by distance): among
// near-duplicate questions the historically most confident answer wins over
// the geometrically closest one. The first candidate with similarity >=
// threshold is returned; nil means no match (empty store included).
// Ties on confidence fall back to similarity, then to most recent ask.
func (s *Store) SemanticSearch(ctx context.Context, embedding []float32, threshold float32, topK int) (*Match, error) {
	if len(embedding) != s.dim {
		return nil, fmt.Errorf("query dimension %d does not match store dimension %d", len(embedding), s.dim)
	}
	if topK <= 0 {
		topK = 1
	}
	query := vector.Normalize(embedding)

	// Phase 1: scan only id + embedding to find top-K candidates.
	rows, err := s.db.QueryContext(ctx, `SELECT turn_id, embedding FROM turn_vectors`)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}
	defer rows.Close()

	h := &idScoreHeap{}
	heap.Init(h)

	// Reusable buffer for decoding embeddings to avoid per-row allocations.
	var buf []float32

	for rows.Next() {
		var id int64
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("scanning vector row: %w", err)
		}

		buf, err = vector.DecodeInto(buf, blob)
		if err != nil || len(buf) != s.dim {
			// Corrupt or mis-sized vector entry: skip the record.
			slog.Warn("skipping corrupt vector entry", "turn", id, "error", err)
			continue
		}

		score := vector.Cosine(query, buf)
		if h.Len() < topK {
			heap.Push(h, idScore{ID: id, Score: score})
		} else if score > (*h)[0].Score {
			(*h)[0] = idScore{ID: id, Score: score}
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating vector rows: %w", err)
	}

	if h.Len() == 0 {
		return nil, nil
	}

	scores := make(map[int64]float32, h.Len())
	ids := make([]int64, 0, h.Len())
	for h.Len() > 0 {
		item := heap.Pop(h).(idScore)
		ids = append(ids, item.ID)
		scores[item.ID] = item.Score
	}

	// Phase 2: join candidates to their rows.
	candidates, err := s.turnsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	matches := make([]Match, 0, len(candidates))
	for _, t := range candidates {
		matches = append(matches, Match{Turn: t, Similarity: scores[t.ID]})
	}

	// Re-sort by confidence, not by distance.
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Confidence != matches[j].Confidence {
			return matches[i].Confidence > matches[j].Confidence
		}
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].LastAskedAt.After(matches[j].LastAskedAt)
	})

	for i := range matches {
		if matches[i].Similarity >= threshold {
			return &matches[i], nil
		}
	}
	return nil, nil
}

// turnsByIDs fetches full rows for the given ids. Rows with corrupt answer
// payloads are skipped, not fatal.
func (s *Store) turnsByIDs(ctx context.Context, ids []int64) ([]Turn, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	query := `SELECT id, session_id, question, answer, confidence, hit_count, created_at, last_asked_at
		FROM turns WHERE id IN (?` + strings.Repeat(",?", len(ids)-1) + `)`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetching candidate turns: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var (
			t                              Turn
			answerJSON, createdAt, askedAt string
		)
		if err := rows.Scan(&t.ID, &t.SessionID, &t.Question, &answerJSON, &t.Confidence, &t.HitCount, &createdAt, &askedAt); err != nil {
			return nil, fmt.Errorf("scanning candidate turn: %w", err)
		}

		ans, err := answer.Parse([]byte(answerJSON))
		if err != nil {
			slog.Warn("skipping candidate with corrupt answer", "turn", t.ID, "error", err)
			continue
		}
		t.Answer = ans

		if t.CreatedAt, err = time.Parse(timeFormat, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at for turn %d: %w", t.ID, err)
		}
		if t.LastAskedAt, err = time.Parse(timeFormat, askedAt); err != nil {
			return nil, fmt.Errorf("parsing last_asked_at for turn %d: %w", t.ID, err)
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// idScoreHeap is a min-heap of idScore ordered by Score, used to track
// top-K candidates during the scan phase.
type idScoreHeap []idScore

func (h idScoreHeap) Len() int           { return len(h) }
func (h idScoreHeap) Less(i, j int) bool { return h[i].Score < h[j].Score }
func (h idScoreHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *idScoreHeap) Push(x any)        { *h = append(*h, x.(idScore)) }
func (h *idScoreHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
