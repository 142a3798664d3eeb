package transcript

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/minervahq/recall/internal/answer"
	"github.com/minervahq/recall/internal/storage"
)

func turn(q, a string) storage.HistoryTurn {
	return storage.HistoryTurn{Question: q, Answer: answer.FromText(a)}
}

func TestFormat(t *testing.T) {
	got := Format([]storage.HistoryTurn{
		turn("first question", "first answer"),
		turn("second question", "second answer"),
	})
	want := "User: first question\nAI: first answer\n\nUser: second question\nAI: second answer"
	if got != want {
		t.Errorf("Format:\ngot  %q\nwant %q", got, want)
	}
}

func TestFormat_Empty(t *testing.T) {
	if got := Format(nil); got != "" {
		t.Errorf("Format(nil) = %q, want empty", got)
	}
}

type stubStore struct {
	turns []storage.HistoryTurn
	err   error
}

func (s stubStore) RecentHistory(context.Context, string, int) ([]storage.HistoryTurn, error) {
	return s.turns, s.err
}

func TestRender(t *testing.T) {
	f := New(stubStore{turns: []storage.HistoryTurn{turn("q", "a")}}, 4, slog.New(slog.DiscardHandler))
	if got := f.Render(context.Background(), "s1"); got != "User: q\nAI: a" {
		t.Errorf("Render = %q", got)
	}
}

func TestRender_StoreFailureDegradesToEmpty(t *testing.T) {
	f := New(stubStore{err: errors.New("db locked")}, 4, slog.New(slog.DiscardHandler))
	if got := f.Render(context.Background(), "s1"); got != "" {
		t.Errorf("Render = %q, want empty on store failure", got)
	}
}
