package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpadapter "github.com/kirillkom/hybrid-rag-agent/internal/adapters/http"
	"github.com/kirillkom/hybrid-rag-agent/internal/bootstrap"
	"github.com/kirillkom/hybrid-rag-agent/internal/config"
	"github.com/kirillkom/hybrid-rag-agent/internal/observability/logging"
	"github.com/kirillkom/hybrid-rag-agent/internal/observability/metrics"
)

func main() {
	cfg := config.Load()
	logger := logging.NewJSONLogger("api", cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	httpMetrics := metrics.NewHTTPServerMetrics("api")

	if cfg.IngestMode == config.IngestModeInline {
		go runInlineIndexer(ctx, app, httpMetrics, cfg.RebuildTimeout, logger)
	}

	router := httpadapter.NewRouter(cfg, app.UploadUC, app.Uploads, app.RebuildUC, app.QueryUC).
		WithMetrics(httpMetrics).
		WithBreakerStates(app.BreakerStates)

	writeTimeout := 60 * time.Second
	if cfg.RebuildTimeout+5*time.Second > writeTimeout {
		writeTimeout = cfg.RebuildTimeout + 5*time.Second
	}
	server := &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           router.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("api_listening", "addr", server.Addr, "ingest_mode", cfg.IngestMode, "index_backend", cfg.IndexBackend)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api_server_failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("api_shutdown_failed", "error", err)
	}
}

// runInlineIndexer consumes rebuild requests in-process when no worker runs.
func runInlineIndexer(
	ctx context.Context,
	app *bootstrap.App,
	m *metrics.HTTPServerMetrics,
	timeout time.Duration,
	logger *slog.Logger,
) {
	err := app.Queue.SubscribeRebuildRequested(ctx, func(handlerCtx context.Context, uploadID string) error {
		processCtx, cancel := context.WithTimeout(handlerCtx, timeout)
		defer cancel()

		m.StartRebuild()
		started := time.Now()
		err := app.ProcessUC.ProcessByID(processCtx, uploadID)
		m.FinishRebuild("api", nil, time.Since(started), err)
		return err
	})
	if err != nil {
		logger.Error("inline_indexer_stopped", "error", err)
	}
}
