package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/minervahq/recall/internal/answer"
	"github.com/minervahq/recall/internal/vector"
)

// timeFormat keeps stored timestamps lexicographically ordered in SQL.
const timeFormat = time.RFC3339

// UpsertTurn records an answered question for a session.
//
// An exact (sessionID, question) repeat mutates the existing row: the answer
// is replaced, confidence overwritten, hit_count incremented and
// last_asked_at bumped. Otherwise a new row is inserted with hit_count 1.
// The attached vector entry is rewritten with delete-then-insert semantics in
// the same transaction, so a mid-write failure leaves neither a row without a
// vector nor a vector without a row.
func (s *Store) UpsertTurn(ctx context.Context, sessionID, question string, ans answer.Payload, embedding []float32, confidence float64) (int64, error) {
	if len(embedding) != s.dim {
		return 0, fmt.Errorf("embedding dimension %d does not match store dimension %d", len(embedding), s.dim)
	}

	answerJSON, err := json.Marshal(ans)
	if err != nil {
		return 0, fmt.Errorf("marshalling answer: %w", err)
	}
	blob := vector.Encode(vector.Normalize(embedding))
	now := time.Now().UTC().Format(timeFormat)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning upsert transaction: %w", err)
	}

	var id int64
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM turns WHERE session_id = ? AND question = ?`,
		sessionID, question,
	).Scan(&id)

	switch {
	case err == sql.ErrNoRows:
		res, err := tx.ExecContext(ctx, `
			INSERT INTO turns (session_id, question, answer, confidence, hit_count, created_at, last_asked_at)
			VALUES (?, ?, ?, ?, 1, ?, ?)`,
			sessionID, question, string(answerJSON), confidence, now, now,
		)
		if err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("inserting turn: %w", err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("reading new turn id: %w", err)
		}

	case err != nil:
		tx.Rollback()
		return 0, fmt.Errorf("looking up turn: %w", err)

	default:
		if _, err := tx.ExecContext(ctx, `
			UPDATE turns
			SET answer = ?, confidence = ?, hit_count = hit_count + 1, last_asked_at = ?
			WHERE id = ?`,
			string(answerJSON), confidence, now, id,
		); err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("updating turn %d: %w", id, err)
		}
	}

	// The vector column has no update-in-place: rewrite the entry.
	if _, err := tx.ExecContext(ctx, `DELETE FROM turn_vectors WHERE turn_id = ?`, id); err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("clearing vector for turn %d: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO turn_vectors (turn_id, embedding) VALUES (?, ?)`, id, blob); err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("inserting vector for turn %d: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing upsert for turn %d: %w", id, err)
	}
	return id, nil
}

// RecentHistory returns the last N turns for a session in chronological
// (oldest-first) order. An unknown session yields an empty slice, not an error.
func (s *Store) RecentHistory(ctx context.Context, sessionID string, lastN int) ([]HistoryTurn, error) {
	if lastN <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT question, answer, last_asked_at
		FROM turns WHERE session_id = ?
		ORDER BY id DESC LIMIT ?`,
		sessionID, lastN,
	)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	var turns []HistoryTurn
	for rows.Next() {
		var (
			question, answerJSON, askedAt string
		)
		if err := rows.Scan(&question, &answerJSON, &askedAt); err != nil {
			return nil, fmt.Errorf("scanning history row: %w", err)
		}

		ans, err := answer.Parse([]byte(answerJSON))
		if err != nil {
			// Corrupt payload: skip the turn rather than break the transcript.
			slog.Warn("skipping history turn with corrupt answer", "session", sessionID, "error", err)
			continue
		}

		t, err := time.Parse(timeFormat, askedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing last_asked_at: %w", err)
		}
		turns = append(turns, HistoryTurn{Question: question, Answer: ans, AskedAt: t})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating history rows: %w", err)
	}

	// Fetched newest-first; reverse to chronological order.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// UniqueQuestionCount returns the total number of distinct
// (session, question) rows. The orchestrator uses it to decide refresh cadence.
func (s *Store) UniqueQuestionCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM turns`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting turns: %w", err)
	}
	return count, nil
}

// TopQuestionsByHits ranks questions by cumulative hit count across all
// sessions (question text compared case-insensitively) and returns up to
// limit entries, most-hit first. Each entry carries the answer, confidence
// and stored embedding of the most recently asked row for that question.
// Used exclusively as the source for hot-cache rebuilds.
func (s *Store) TopQuestionsByHits(ctx context.Context, limit int) ([]TopQuestion, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT q.question, q.answer, q.confidence, stats.total_hits, v.embedding
		FROM turns q
		JOIN (
			SELECT LOWER(question) AS qkey,
			       SUM(hit_count) AS total_hits,
			       MAX(last_asked_at) AS latest
			FROM turns
			GROUP BY LOWER(question)
		) stats ON LOWER(q.question) = stats.qkey AND q.last_asked_at = stats.latest
		LEFT JOIN turn_vectors v ON v.turn_id = q.id
		ORDER BY stats.total_hits DESC, q.last_asked_at DESC, q.id DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("querying top questions: %w", err)
	}
	defer rows.Close()

	var (
		result []TopQuestion
		seen   = make(map[string]bool)
	)
	for rows.Next() {
		var (
			question, answerJSON string
			confidence           float64
			totalHits            int64
			blob                 []byte
		)
		if err := rows.Scan(&question, &answerJSON, &confidence, &totalHits, &blob); err != nil {
			return nil, fmt.Errorf("scanning top question: %w", err)
		}

		// Equal last_asked_at within a group can produce multiple
		// representative rows; keep the first (highest id).
		key := lowerKey(question)
		if seen[key] {
			continue
		}

		ans, err := answer.Parse([]byte(answerJSON))
		if err != nil {
			slog.Warn("skipping top question with corrupt answer", "question", question, "error", err)
			continue
		}

		var emb []float32
		if blob != nil {
			if emb, err = vector.Decode(blob); err != nil {
				slog.Warn("dropping corrupt embedding for top question", "question", question, "error", err)
				emb = nil
			}
		}

		seen[key] = true
		result = append(result, TopQuestion{
			Question:   question,
			Answer:     ans,
			Confidence: confidence,
			TotalHits:  totalHits,
			Embedding:  emb,
		})
		if len(result) == limit {
			break
		}
	}
	return result, rows.Err()
}

func lowerKey(question string) string {
	return strings.ToLower(question)
}
