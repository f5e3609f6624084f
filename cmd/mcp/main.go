package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	mcpadapter "github.com/kirillkom/hybrid-rag-agent/internal/adapters/mcp"
	"github.com/kirillkom/hybrid-rag-agent/internal/bootstrap"
	"github.com/kirillkom/hybrid-rag-agent/internal/config"
	"github.com/kirillkom/hybrid-rag-agent/internal/observability/logging"
)

var version = "dev"

func main() {
	cfg := config.Load()
	logger := logging.New(os.Stderr, "mcp", cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	retrieval, err := bootstrap.NewRetrieval(ctx, cfg, logger)
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer retrieval.Close()

	srv := mcpadapter.New(retrieval.QueryUC, retrieval.RebuildUC, mcpadapter.Options{
		Version:      version,
		QueryTimeout: cfg.QueryTimeout,
		Logger:       logger,
	})
	if err := srv.ServeStdio(); err != nil {
		logger.Error("mcp_server_failed", "error", err)
		os.Exit(1)
	}
}
