// Package transcript renders recent session history as the plain-text
// conversation block the answering pipeline consumes.
package transcript

import (
	"context"
	"log/slog"
	"strings"

	"github.com/minervahq/recall/internal/storage"
)

// HistoryStore loads the most recent turns of a session.
type HistoryStore interface {
	RecentHistory(ctx context.Context, sessionID string, lastN int) ([]storage.HistoryTurn, error)
}

// Formatter renders transcripts from stored history.
type Formatter struct {
	store  HistoryStore
	lastN  int
	logger *slog.Logger
}

func New(store HistoryStore, lastN int, logger *slog.Logger) *Formatter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Formatter{store: store, lastN: lastN, logger: logger}
}

// Render returns the session's recent turns oldest first, each as a
// "User:" line followed by an "AI:" line. An unknown session or a store
// failure renders as an empty transcript; answering proceeds without
// context rather than failing the query.
func (f *Formatter) Render(ctx context.Context, sessionID string) string {
	turns, err := f.store.RecentHistory(ctx, sessionID, f.lastN)
	if err != nil {
		f.logger.Warn("history load failed, rendering empty transcript",
			"session_id", sessionID, "error", err)
		return ""
	}
	return Format(turns)
}

// Format renders turns as a transcript block. Turns must already be
// ordered oldest first.
func Format(turns []storage.HistoryTurn) string {
	if len(turns) == 0 {
		return ""
	}
	var b strings.Builder
	for _, turn := range turns {
		b.WriteString("User: ")
		b.WriteString(turn.Question)
		b.WriteString("\nAI: ")
		b.WriteString(turn.Answer.Response())
		b.WriteString("\n\n")
	}
	return strings.TrimSpace(b.String())
}
