package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/minervahq/recall/internal/api"
	"github.com/minervahq/recall/internal/cache"
	"github.com/minervahq/recall/internal/config"
	"github.com/minervahq/recall/internal/embed"
	"github.com/minervahq/recall/internal/embed/gemini"
	"github.com/minervahq/recall/internal/embed/mock"
	"github.com/minervahq/recall/internal/hotcache"
	"github.com/minervahq/recall/internal/pipeline"
	"github.com/minervahq/recall/internal/storage"
	"github.com/minervahq/recall/internal/transcript"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the recall server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running recall server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recall system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "recall.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func newEmbedder(ctx context.Context, cfg config.Config) (embed.Embedder, error) {
	switch cfg.Embedding.Provider {
	case "mock":
		return mock.New(cfg.Embedding.Dimension), nil
	default:
		return gemini.New(ctx, cfg.Embedding.APIKey, cfg.Embedding.Model, cfg.Embedding.Dimension)
	}
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "recall version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
	logger := slog.Default()

	// Refuse to double-start. The health endpoint is the authority; the
	// PID file only names the culprit.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("recall is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("recall is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir, cfg.Embedding.Dimension)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	embedder, err := newEmbedder(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initializing embedder: %w", err)
	}

	hot, err := hotcache.New(cfg.Embedding.Dimension)
	if err != nil {
		return fmt.Errorf("initializing hot cache: %w", err)
	}
	state, err := hot.EnsureIndex()
	if err != nil {
		return fmt.Errorf("creating hot cache index: %w", err)
	}
	logger.Info("hot cache index ready", "state", state)

	tiered, err := cache.NewTiered(store, hot, embedder, cache.Options{
		HotThreshold:     float32(cfg.Cache.HotThreshold),
		DurableThreshold: float32(cfg.Cache.DurableThreshold),
		TopK:             cfg.Cache.TopK,
		PromoteEvery:     cfg.Cache.PromoteEvery,
		RefreshLimit:     cfg.Cache.RefreshLimit,
		HotTimeout:       cfg.HotTimeoutDuration(),
	}, logger)
	if err != nil {
		return err
	}

	// Warm the hot tier from the durable store. Not fatal: the cache
	// repopulates on its own as questions arrive.
	if err := tiered.Refresh(ctx); err != nil {
		logger.Warn("initial hot tier warm-up failed", "error", err)
	}

	deps := api.AppDeps{
		Store:      store,
		Cache:      tiered,
		Hot:        hot,
		Embedder:   embedder,
		Answerer:   pipeline.New(cfg.Pipeline.BaseURL, cfg.PipelineTimeoutDuration()),
		Transcript: transcript.New(store, cfg.History.Turns, logger),
		Token:      cfg.API.Token,
		Logger:     logger,
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: api.NewHandler(deps),
	}

	// MCP server over stdio.
	mcpSrv := api.NewMCPServer(api.MCPDeps{App: deps})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	logger.Info("MCP server started (stdio transport)")

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "recall listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("recall is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop recall (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to recall (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	client, err := newAPIClient()
	if err != nil {
		return err
	}

	resp, err := client.get(ctx, "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			printStatus("Server", "running on port %d", cfg.Server.Port)

			statusResp, err := client.get(ctx, "/v1/status")
			if err == nil {
				var st api.StatusResponse
				if decodeJSON(statusResp, &st) == nil {
					printStatus("Hot entries", "%d", st.HotEntries)
					printStatus("Unique questions", "%d", st.UniqueQuestions)
					printStatus("Dimension", "%d", st.Dimension)
				}
			}
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("Embed provider", "%s", cfg.Embedding.Provider)
	printStatus("Embed model", "%s", cfg.Embedding.Model)
	printStatus("Pipeline", "%s", cfg.Pipeline.BaseURL)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
