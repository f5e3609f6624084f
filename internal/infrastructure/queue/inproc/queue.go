// Package inproc delivers rebuild requests to a handler inside the API process.
// It backs INGEST_MODE=inline deployments that run without NATS.
package inproc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kirillkom/hybrid-rag-agent/internal/core/domain"
)

const DefaultBuffer = 64

var errQueueClosed = errors.New("in-process queue is closed")

// Queue is a buffered channel drained by a single subscriber goroutine.
type Queue struct {
	requests chan string
	logger   *slog.Logger

	mu     sync.RWMutex
	closed bool
}

func New(buffer int, logger *slog.Logger) *Queue {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		requests: make(chan string, buffer),
		logger:   logger,
	}
}

// PublishRebuildRequested fails with a temporary error when the buffer is full.
func (q *Queue) PublishRebuildRequested(ctx context.Context, uploadID string) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return domain.WrapError(domain.ErrTemporary, "inproc publish", errQueueClosed)
	}

	select {
	case q.requests <- uploadID:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return domain.WrapError(domain.ErrTemporary, "inproc publish", fmt.Errorf("queue is full (%d pending)", cap(q.requests)))
	}
}

// SubscribeRebuildRequested runs handler for each request until ctx is done,
// then finishes the requests already buffered.
func (q *Queue) SubscribeRebuildRequested(ctx context.Context, handler func(context.Context, string) error) error {
	for {
		select {
		case uploadID := <-q.requests:
			q.handle(ctx, handler, uploadID)
		case <-ctx.Done():
			q.close()
			drainCtx := context.WithoutCancel(ctx)
			for uploadID := range q.requests {
				q.handle(drainCtx, handler, uploadID)
			}
			return nil
		}
	}
}

func (q *Queue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.requests)
	}
}

func (q *Queue) handle(ctx context.Context, handler func(context.Context, string) error, uploadID string) {
	started := time.Now()
	if err := handler(ctx, uploadID); err != nil {
		q.logger.ErrorContext(ctx, "rebuild_request_failed", "upload_id", uploadID, "error", err, "duration_ms", time.Since(started).Milliseconds())
		return
	}
	q.logger.InfoContext(ctx, "rebuild_request_done", "upload_id", uploadID, "duration_ms", time.Since(started).Milliseconds())
}
