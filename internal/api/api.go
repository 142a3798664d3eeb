// Package api exposes the query and session endpoints over HTTP.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/minervahq/recall/internal/answer"
	"github.com/minervahq/recall/internal/cache"
	"github.com/minervahq/recall/internal/embed"
	"github.com/minervahq/recall/internal/hotcache"
	"github.com/minervahq/recall/internal/pipeline"
	"github.com/minervahq/recall/internal/storage"
	"github.com/minervahq/recall/internal/transcript"
)

const maxRequestBodySize = 1 << 20 // 1MB

type AppDeps struct {
	Store      *storage.Store
	Cache      *cache.Tiered
	Hot        *hotcache.Cache
	Embedder   embed.Embedder
	Answerer   pipeline.Answerer
	Transcript *transcript.Formatter
	Token      string
	Logger     *slog.Logger
}

// NewHandler builds the HTTP router. Everything except /health requires
// bearer auth.
func NewHandler(deps AppDeps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))
		r.Post("/v1/query", handleQuery(deps))
		r.Get("/v1/sessions/{id}/history", handleHistory(deps))
		r.Get("/v1/status", handleStatus(deps))
		r.Post("/admin/refresh", handleRefresh(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

type QueryRequest struct {
	SessionID string `json:"session_id"`
	Question  string `json:"question"`
}

type QueryResponse struct {
	SessionID  string         `json:"session_id"`
	Source     string         `json:"source"`
	Answer     answer.Payload `json:"answer"`
	Confidence float64        `json:"confidence"`
	Similarity float32        `json:"similarity,omitempty"`
}

func handleQuery(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req QueryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Question == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "question is required")
			return
		}
		if req.SessionID == "" {
			req.SessionID = uuid.New().String()
		}

		ctx := r.Context()
		vec, err := deps.Embedder.Embed(ctx, req.Question)
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "embedding failed: %v", err)
			return
		}

		res := deps.Cache.Lookup(ctx, vec)

		var resp QueryResponse
		if res.Source != cache.SourceMiss {
			resp = QueryResponse{
				SessionID:  req.SessionID,
				Source:     res.Source.String(),
				Answer:     res.Answer,
				Confidence: res.Confidence,
				Similarity: res.Similarity,
			}
		} else {
			bestSim := res.Similarity
			history := deps.Transcript.Render(ctx, req.SessionID)
			ans, confidence, err := deps.Answerer.Answer(ctx, req.Question, history)
			if err != nil {
				httpError(w, http.StatusBadGateway, "api_error", "answering service failed: %v", err)
				return
			}
			res = cache.Result{Source: cache.SourceMiss, Answer: ans, Confidence: confidence}
			resp = QueryResponse{
				SessionID:  req.SessionID,
				Source:     "pipeline",
				Answer:     ans,
				Confidence: confidence,
				Similarity: bestSim,
			}
		}

		// A failed cache write must not cost the caller their answer.
		fromMiss := res.Source == cache.SourceMiss
		if err := deps.Cache.Record(ctx, req.SessionID, req.Question, res.Answer, vec, res.Confidence, fromMiss); err != nil {
			deps.Logger.Warn("recording answer failed", "session_id", req.SessionID, "error", err)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}

type HistoryEntry struct {
	Question string         `json:"question"`
	Answer   answer.Payload `json:"answer"`
	AskedAt  time.Time      `json:"asked_at"`
}

func handleHistory(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "id")
		limit := parseIntParam(r, "limit", 20, 100)

		turns, err := deps.Store.RecentHistory(r.Context(), sessionID, limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load history: %v", err)
			return
		}

		entries := make([]HistoryEntry, len(turns))
		for i, t := range turns {
			entries[i] = HistoryEntry{Question: t.Question, Answer: t.Answer, AskedAt: t.AskedAt}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(entries)
	}
}

type StatusResponse struct {
	HotEntries      int `json:"hot_entries"`
	UniqueQuestions int `json:"unique_questions"`
	Dimension       int `json:"dimension"`
}

func handleStatus(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		count, err := deps.Store.UniqueQuestionCount(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to count questions: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(StatusResponse{
			HotEntries:      deps.Hot.Len(),
			UniqueQuestions: count,
			Dimension:       deps.Store.Dimension(),
		})
	}
}

func handleRefresh(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Cache.Refresh(r.Context()); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "refresh failed: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status":      "refreshed",
			"hot_entries": deps.Hot.Len(),
		})
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
