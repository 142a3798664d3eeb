package storage

import (
	"time"

	"github.com/minervahq/recall/internal/answer"
)

// Turn is one recorded Q/A exchange.
type Turn struct {
	ID          int64
	SessionID   string
	Question    string
	Answer      answer.Payload
	Confidence  float64
	HitCount    int64
	CreatedAt   time.Time
	LastAskedAt time.Time
}

// Match is a semantic-search result: the winning turn plus its cosine
// similarity against the query embedding.
type Match struct {
	Turn
	Similarity float32
}

// TopQuestion is one row of the cross-session popularity ranking used as the
// source for hot-cache rebuilds. Answer and Confidence come from the most
// recently asked row sharing the question text; Embedding is that row's
// stored vector (nil if the vector entry is missing or corrupt).
type TopQuestion struct {
	Question   string
	Answer     answer.Payload
	Confidence float64
	TotalHits  int64
	Embedding  []float32
}

// HistoryTurn is a minimal (question, answer) pair for transcript rendering.
type HistoryTurn struct {
	Question string
	Answer   answer.Payload
	AskedAt  time.Time
}
