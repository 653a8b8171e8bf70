// Chatd is a workspace chat daemon: documents are embedded into
// per-workspace vector namespaces and chat turns are answered with
// retrieval-augmented completions, streamed over SSE.
//
// Configuration is loaded from environment variables. See internal/config
// for the full list.
//
// Usage:
//
//	# Start the daemon with defaults
//	chatd
//
//	# Configure via environment
//	SERVER_PORT=3301 LLM_PROVIDER=openai LLM_API_KEY=sk-... chatd
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/chatd/internal/chat"
	"github.com/fyrsmithlabs/chatd/internal/config"
	"github.com/fyrsmithlabs/chatd/internal/documents"
	"github.com/fyrsmithlabs/chatd/internal/embedder"
	"github.com/fyrsmithlabs/chatd/internal/llm"
	"github.com/fyrsmithlabs/chatd/internal/logging"
	"github.com/fyrsmithlabs/chatd/internal/server"
	"github.com/fyrsmithlabs/chatd/internal/store"
	"github.com/fyrsmithlabs/chatd/internal/vectordb"
)

// Version information (set via ldflags during build).
var (
	version   = "dev"
	gitCommit = "unknown"
)

func main() {
	root := &cobra.Command{
		Use:          "chatd",
		Short:        "Workspace chat daemon with retrieval-augmented completions",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context())
		},
	}
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("chatd %s (%s)\n", version, gitCommit)
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// run wires the daemon and blocks until the context is cancelled.
func run(ctx context.Context) error {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	st, err := store.NewSQLite(cfg.DatabasePath(), logger)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	emb, err := embedder.New(cfg.Embedder, filepath.Join(cfg.Storage.Dir, "models"), logger)
	if err != nil {
		return fmt.Errorf("initializing embedder: %w", err)
	}

	vectorStore, err := vectordb.NewStore(cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing vector store: %w", err)
	}

	cache, err := vectordb.NewVectorCache(cfg.VectorCachePath(), logger)
	if err != nil {
		return fmt.Errorf("initializing vector cache: %w", err)
	}

	vectors, err := vectordb.NewManager(vectorStore, emb, cache, logger)
	if err != nil {
		return fmt.Errorf("initializing vector manager: %w", err)
	}

	counter := llm.NewTokenCounter(logger)
	loader := documents.NewLoader(filepath.Join(cfg.Storage.Dir, "documents"))
	docs, err := documents.NewManager(st, vectors, loader, counter, logger)
	if err != nil {
		return fmt.Errorf("initializing document manager: %w", err)
	}

	factory := llm.NewFactory(cfg.Provider, emb, logger)
	compressor := chat.NewCompressor(counter, logger)
	orchestrator, err := chat.NewOrchestrator(st, docs, vectors, factory, compressor, logger)
	if err != nil {
		return fmt.Errorf("initializing orchestrator: %w", err)
	}

	srv, err := server.New(cfg.Server, orchestrator, docs, st, logger)
	if err != nil {
		return fmt.Errorf("initializing server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", zap.Error(err))
		return err
	}
	return nil
}
