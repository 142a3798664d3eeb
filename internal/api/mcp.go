package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/minervahq/recall/internal/cache"
)

// MCPDeps holds dependencies for the MCP server. It reuses the HTTP
// layer's AppDeps so both surfaces share one wired service.
type MCPDeps struct {
	App AppDeps
}

// NewMCPServer creates an MCP server exposing the cached answering
// tools and the cache status resource.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"recall",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("recall: tiered semantic answer cache with per-session conversation history."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("cached_answer",
			mcp.WithDescription("Answer a question, serving from the semantic cache when a close enough answer exists."),
			mcp.WithString("question", mcp.Description("The question to answer"), mcp.Required()),
			mcp.WithString("session_id", mcp.Description("Session to attribute the exchange to; omitted starts a new session")),
		),
		mcpCachedAnswer(deps),
	)

	s.AddTool(
		mcp.NewTool("session_history",
			mcp.WithDescription("Return the most recent question/answer turns of a session, oldest first."),
			mcp.WithString("session_id", mcp.Description("Session to read"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of turns (default 20)")),
		),
		mcpSessionHistory(deps),
	)

	s.AddTool(
		mcp.NewTool("refresh_hot_cache",
			mcp.WithDescription("Rebuild the in-memory answer index from the most asked questions."),
		),
		mcpRefreshHotCache(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"cache://status",
			"Cache Status",
			mcp.WithResourceDescription("Hot tier size, unique question count and embedding dimension as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceStatus(deps),
	)

	return s
}

func mcpCachedAnswer(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}
		sessionID := req.GetString("session_id", "")
		if sessionID == "" {
			sessionID = uuid.New().String()
		}

		vec, err := deps.App.Embedder.Embed(ctx, question)
		if err != nil {
			return mcpError(fmt.Sprintf("embedding failed: %v", err)), nil
		}

		res := deps.App.Cache.Lookup(ctx, vec)

		source := res.Source.String()
		if res.Source == cache.SourceMiss {
			history := deps.App.Transcript.Render(ctx, sessionID)
			ans, confidence, err := deps.App.Answerer.Answer(ctx, question, history)
			if err != nil {
				return mcpError(fmt.Sprintf("answering service failed: %v", err)), nil
			}
			res = cache.Result{Source: cache.SourceMiss, Answer: ans, Confidence: confidence, Similarity: res.Similarity}
			source = "pipeline"
		}

		fromMiss := res.Source == cache.SourceMiss
		if err := deps.App.Cache.Record(ctx, sessionID, question, res.Answer, vec, res.Confidence, fromMiss); err != nil {
			deps.App.Logger.Warn("recording answer failed", "session_id", sessionID, "error", err)
		}

		b, err := json.Marshal(QueryResponse{
			SessionID:  sessionID,
			Source:     source,
			Answer:     res.Answer,
			Confidence: res.Confidence,
			Similarity: res.Similarity,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpSessionHistory(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, err := req.RequireString("session_id")
		if err != nil {
			return mcpError("session_id is required"), nil
		}

		limit := req.GetInt("limit", 20)
		if limit <= 0 {
			limit = 20
		}
		if limit > 100 {
			limit = 100
		}

		turns, err := deps.App.Store.RecentHistory(ctx, sessionID, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to load history: %v", err)), nil
		}
		if len(turns) == 0 {
			return mcpText("[]"), nil
		}

		entries := make([]HistoryEntry, len(turns))
		for i, t := range turns {
			entries[i] = HistoryEntry{Question: t.Question, Answer: t.Answer, AskedAt: t.AskedAt}
		}
		b, err := json.Marshal(entries)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal history: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpRefreshHotCache(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if err := deps.App.Cache.Refresh(ctx); err != nil {
			return mcpError(fmt.Sprintf("refresh failed: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Hot cache rebuilt at %s with %d entries",
			time.Now().UTC().Format(time.RFC3339), deps.App.Hot.Len())), nil
	}
}

func mcpResourceStatus(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		count, err := deps.App.Store.UniqueQuestionCount(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to count questions: %w", err)
		}

		b, err := json.Marshal(StatusResponse{
			HotEntries:      deps.App.Hot.Len(),
			UniqueQuestions: count,
			Dimension:       deps.App.Store.Dimension(),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal status: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
