package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/minervahq/recall/internal/answer"
	"github.com/minervahq/recall/internal/cache"
	"github.com/minervahq/recall/internal/embed/mock"
	"github.com/minervahq/recall/internal/hotcache"
	"github.com/minervahq/recall/internal/storage"
	"github.com/minervahq/recall/internal/transcript"
)

const (
	testToken = "test-token-12345"
	testDim   = 32
)

// stubAnswerer returns a canned answer and records the history it saw.
type stubAnswerer struct {
	response   string
	confidence float64
	err        error
	calls      int
	history    string
}

func (s *stubAnswerer) Answer(_ context.Context, _, history string) (answer.Payload, float64, error) {
	s.calls++
	s.history = history
	if s.err != nil {
		return answer.Payload{}, 0, s.err
	}
	return answer.FromText(s.response), s.confidence, nil
}

func setupHandler(t *testing.T, answerer *stubAnswerer) (http.Handler, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:", testDim)
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	hot, err := hotcache.New(testDim)
	if err != nil {
		t.Fatalf("hotcache.New failed: %v", err)
	}
	if _, err := hot.EnsureIndex(); err != nil {
		t.Fatalf("EnsureIndex failed: %v", err)
	}

	logger := slog.New(slog.DiscardHandler)
	opts := cache.DefaultOptions()
	opts.PromoteEvery = 5
	opts.RefreshLimit = 3

	embedder := mock.New(testDim)
	tiered, err := cache.NewTiered(store, hot, embedder, opts, logger)
	if err != nil {
		t.Fatalf("NewTiered failed: %v", err)
	}

	handler := NewHandler(AppDeps{
		Store:      store,
		Cache:      tiered,
		Hot:        hot,
		Embedder:   embedder,
		Answerer:   answerer,
		Transcript: transcript.New(store, 4, logger),
		Token:      testToken,
		Logger:     logger,
	})
	return handler, store
}

func authReq(method, url, body, token string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func TestQuery_MissForwardsToPipeline(t *testing.T) {
	answerer := &stubAnswerer{response: "april 15", confidence: 0.9}
	h, _ := setupHandler(t, answerer)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/v1/query", `{"session_id":"s1","question":"when are taxes due"}`, testToken))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	var resp QueryResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Source != "pipeline" {
		t.Errorf("source = %q, want pipeline", resp.Source)
	}
	if resp.Answer.Response() != "april 15" {
		t.Errorf("answer = %q", resp.Answer.Response())
	}
	if resp.SessionID != "s1" {
		t.Errorf("session_id = %q", resp.SessionID)
	}
	if answerer.calls != 1 {
		t.Errorf("answerer calls = %d, want 1", answerer.calls)
	}
}

func TestQuery_RepeatServedFromCache(t *testing.T) {
	answerer := &stubAnswerer{response: "april 15", confidence: 0.9}
	h, _ := setupHandler(t, answerer)

	body := `{"session_id":"s1","question":"when are taxes due"}`
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/v1/query", body, testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("first query status = %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/v1/query", body, testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("second query status = %d", rr.Code)
	}

	var resp QueryResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Source == "pipeline" {
		t.Errorf("second identical query hit the pipeline, source = %q", resp.Source)
	}
	if answerer.calls != 1 {
		t.Errorf("answerer calls = %d, want 1", answerer.calls)
	}
	if resp.Answer.Response() != "april 15" {
		t.Errorf("answer = %q", resp.Answer.Response())
	}
}

func TestQuery_MissingSessionIDGenerated(t *testing.T) {
	h, _ := setupHandler(t, &stubAnswerer{response: "a", confidence: 0.5})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/v1/query", `{"question":"q"}`, testToken))

	var resp QueryResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.SessionID == "" {
		t.Error("expected a generated session id")
	}
}

func TestQuery_EmptyQuestionRejected(t *testing.T) {
	h, _ := setupHandler(t, &stubAnswerer{})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/v1/query", `{"session_id":"s1"}`, testToken))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
}

func TestQuery_PipelineFailure(t *testing.T) {
	h, _ := setupHandler(t, &stubAnswerer{err: errors.New("upstream down")})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/v1/query", `{"session_id":"s1","question":"q"}`, testToken))
	if rr.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rr.Code)
	}
}

// brokenSearchStore persists writes but fails every semantic search.
type brokenSearchStore struct{}

func (brokenSearchStore) UpsertTurn(context.Context, string, string, answer.Payload, []float32, float64) (int64, error) {
	return 1, nil
}

func (brokenSearchStore) SemanticSearch(context.Context, []float32, float32, int) (*storage.Match, error) {
	return nil, errors.New("database is locked")
}

func (brokenSearchStore) UniqueQuestionCount(context.Context) (int, error) { return 1, nil }

func (brokenSearchStore) TopQuestionsByHits(context.Context, int) ([]storage.TopQuestion, error) {
	return nil, nil
}

func TestQuery_DegradedStoreStillAnswers(t *testing.T) {
	store, err := storage.Open(":memory:", testDim)
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	defer store.Close()

	hot, err := hotcache.New(testDim)
	if err != nil {
		t.Fatalf("hotcache.New failed: %v", err)
	}
	if _, err := hot.EnsureIndex(); err != nil {
		t.Fatalf("EnsureIndex failed: %v", err)
	}

	logger := slog.New(slog.DiscardHandler)
	embedder := mock.New(testDim)
	tiered, err := cache.NewTiered(brokenSearchStore{}, hot, embedder, cache.DefaultOptions(), logger)
	if err != nil {
		t.Fatalf("NewTiered failed: %v", err)
	}

	answerer := &stubAnswerer{response: "april 15", confidence: 0.9}
	h := NewHandler(AppDeps{
		Store:      store,
		Cache:      tiered,
		Hot:        hot,
		Embedder:   embedder,
		Answerer:   answerer,
		Transcript: transcript.New(store, 4, logger),
		Token:      testToken,
		Logger:     logger,
	})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/v1/query", `{"session_id":"s1","question":"when are taxes due"}`, testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 despite store failure; body = %s", rr.Code, rr.Body.String())
	}

	var resp QueryResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Source != "pipeline" {
		t.Errorf("source = %q, want pipeline", resp.Source)
	}
	if answerer.calls != 1 {
		t.Errorf("answerer calls = %d, want 1", answerer.calls)
	}
}

func TestQuery_HistoryThreadedToPipeline(t *testing.T) {
	answerer := &stubAnswerer{response: "a", confidence: 0.5}
	h, _ := setupHandler(t, answerer)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/v1/query", `{"session_id":"s1","question":"first question"}`, testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("first query status = %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/v1/query", `{"session_id":"s1","question":"second question"}`, testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("second query status = %d", rr.Code)
	}

	if !strings.Contains(answerer.history, "User: first question") {
		t.Errorf("pipeline did not receive prior turn, history = %q", answerer.history)
	}
}

func TestHistory(t *testing.T) {
	h, store := setupHandler(t, &stubAnswerer{})
	ctx := context.Background()
	embedder := mock.New(testDim)

	for _, q := range []string{"q1", "q2"} {
		vec, _ := embedder.Embed(ctx, q)
		if _, err := store.UpsertTurn(ctx, "s1", q, answer.FromText("a-"+q), vec, 0.8); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/v1/sessions/s1/history", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}

	var entries []HistoryEntry
	if err := json.Unmarshal(rr.Body.Bytes(), &entries); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Question != "q1" || entries[1].Question != "q2" {
		t.Errorf("history out of order: %+v", entries)
	}
}

func TestHistory_UnknownSessionEmpty(t *testing.T) {
	h, _ := setupHandler(t, &stubAnswerer{})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/v1/sessions/nope/history", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if got := strings.TrimSpace(rr.Body.String()); got != "[]" {
		t.Errorf("body = %q, want []", got)
	}
}

func TestStatus(t *testing.T) {
	h, store := setupHandler(t, &stubAnswerer{})
	ctx := context.Background()
	embedder := mock.New(testDim)
	vec, _ := embedder.Embed(ctx, "q")
	if _, err := store.UpsertTurn(ctx, "s1", "q", answer.FromText("a"), vec, 0.8); err != nil {
		t.Fatalf("seed: %v", err)
	}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/v1/status", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}

	var resp StatusResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.UniqueQuestions != 1 {
		t.Errorf("unique_questions = %d, want 1", resp.UniqueQuestions)
	}
	if resp.Dimension != testDim {
		t.Errorf("dimension = %d, want %d", resp.Dimension, testDim)
	}
}

func TestRefresh(t *testing.T) {
	h, store := setupHandler(t, &stubAnswerer{})
	ctx := context.Background()
	embedder := mock.New(testDim)
	vec, _ := embedder.Embed(ctx, "q")
	if _, err := store.UpsertTurn(ctx, "s1", "q", answer.FromText("a"), vec, 0.8); err != nil {
		t.Fatalf("seed: %v", err)
	}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodPost, "/admin/refresh", "", testToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}

	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp["hot_entries"].(float64) != 1 {
		t.Errorf("hot_entries = %v, want 1", resp["hot_entries"])
	}
}

func TestAuth(t *testing.T) {
	h, _ := setupHandler(t, &stubAnswerer{})

	cases := []struct {
		name  string
		token string
		want  int
	}{
		{"missing token", "", http.StatusUnauthorized},
		{"wrong token", "wrong", http.StatusUnauthorized},
		{"valid token", testToken, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, authReq(http.MethodGet, "/v1/status", "", tc.token))
			if rr.Code != tc.want {
				t.Errorf("status = %d, want %d", rr.Code, tc.want)
			}
		})
	}
}

func TestHealth_NoAuthRequired(t *testing.T) {
	h, _ := setupHandler(t, &stubAnswerer{})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rr.Code)
	}
}
