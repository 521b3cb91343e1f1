package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/docchat/internal/answer"
	"github.com/kalambet/docchat/internal/api"
	"github.com/kalambet/docchat/internal/auth"
	"github.com/kalambet/docchat/internal/blob"
	"github.com/kalambet/docchat/internal/config"
	"github.com/kalambet/docchat/internal/indexer"
	"github.com/kalambet/docchat/internal/ollama"
	"github.com/kalambet/docchat/internal/retrieval"
	"github.com/kalambet/docchat/internal/storage"
	"github.com/kalambet/docchat/internal/vector"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the docchat server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var mcpStdio bool

func init() {
	serveCmd.Flags().BoolVar(&mcpStdio, "mcp", false, "also serve MCP tools over stdio")
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "docchat version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if len(cfg.Auth.Tokens) == 0 {
		return fmt.Errorf("no API tokens configured: set DOCCHAT_TOKEN or [auth] tokens in the config file")
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel()})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Check model backend readiness.
	ollamaClient := ollama.New(cfg.Ollama.BaseURL)
	if err := ollama.EnsureReady(ctx, ollamaClient, cfg.Ollama.ChatModel, cfg.Ollama.EmbedModel, os.Stderr); err != nil {
		return err
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Warn("closing storage", "error", err)
		}
	}()

	versions, err := store.AppliedMigrations()
	if err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}
	slog.Info("storage ready", "dir", cfg.Storage.DataDir, "schema_version", versions[len(versions)-1])

	// Provision every configured identity up front.
	for _, userID := range cfg.Auth.Tokens {
		if err := store.EnsureUser(userID, userID+"@localhost"); err != nil {
			return fmt.Errorf("provisioning user %s: %w", userID, err)
		}
	}

	blobs, err := blob.NewFilesystemStore(cfg.Storage.BlobDir)
	if err != nil {
		return fmt.Errorf("opening blob store: %w", err)
	}

	vectors := vector.NewSQLiteStore(store.DB())
	embedder := retrieval.NewEmbedder(ollamaClient, cfg.Ollama.EmbedModel)
	retriever := retrieval.NewRetriever(embedder, vectors)
	answerer := answer.New(store, retriever, ollamaClient, cfg.Ollama.ChatModel)

	// Start the index worker.
	ix := indexer.NewIndexer(store, blobs, embedder, vectors)
	worker := indexer.NewWorker(store, ix, 500*time.Millisecond)
	go worker.Run(ctx)

	handler := api.NewHandler(api.Deps{
		Store:    store,
		Blobs:    blobs,
		Vectors:  vectors,
		Answerer: answerer,
		Auth:     auth.NewStaticTokens(cfg.Auth.Tokens),
	})

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: handler,
	}

	if mcpStdio {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Store:    store,
			Searcher: retriever,
			UserID:   mcpUser(cfg),
		})
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("docchat listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// mcpUser picks the identity MCP tools act as: the sole configured user,
// or "local" when several are configured.
func mcpUser(cfg config.Config) string {
	users := map[string]struct{}{}
	for _, userID := range cfg.Auth.Tokens {
		users[userID] = struct{}{}
	}
	if len(users) == 1 {
		for userID := range users {
			return userID
		}
	}
	return "local"
}
