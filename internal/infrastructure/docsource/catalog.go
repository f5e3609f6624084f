package docsource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/kirillkom/hybrid-rag-agent/internal/core/domain"
	"github.com/kirillkom/hybrid-rag-agent/internal/core/ports"
)

// Catalog lists the stored documents that are eligible for indexing: the key
// matches an include glob and no exclude glob, the extractor supports it and
// its extracted text is not blank.
type Catalog struct {
	storage   ports.ObjectStorage
	extractor ports.TextExtractor
	includes  []string
	excludes  []string
	logger    *slog.Logger
}

type Options struct {
	Includes []string
	Excludes []string
	Logger   *slog.Logger
}

func NewCatalog(storage ports.ObjectStorage, extractor ports.TextExtractor, opts Options) (*Catalog, error) {
	includes := opts.Includes
	if len(includes) == 0 {
		includes = []string{"**/*"}
	}
	for _, pattern := range append(append([]string{}, includes...), opts.Excludes...) {
		if !doublestar.ValidatePattern(pattern) {
			return nil, domain.WrapError(domain.ErrInvalidInput, "document catalog", fmt.Errorf("bad glob %q", pattern))
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{
		storage:   storage,
		extractor: extractor,
		includes:  includes,
		excludes:  opts.Excludes,
		logger:    logger,
	}, nil
}

func (c *Catalog) ListDocuments(ctx context.Context) ([]domain.Document, error) {
	keys, err := c.storage.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list stored documents: %w", err)
	}

	docs := make([]domain.Document, 0, len(keys))
	for _, key := range keys {
		if !c.eligible(key) {
			continue
		}

		text, err := c.read(ctx, key)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			c.logger.WarnContext(ctx, "document_skipped", "source", key, "error", err)
			continue
		}
		if strings.TrimSpace(text) == "" {
			c.logger.DebugContext(ctx, "document_skipped", "source", key, "reason", "blank text")
			continue
		}
		docs = append(docs, domain.Document{Source: key, Text: text})
	}
	return docs, nil
}

func (c *Catalog) eligible(key string) bool {
	if !c.extractor.Supports(key) {
		return false
	}
	if !matchAny(c.includes, key) {
		return false
	}
	return !matchAny(c.excludes, key)
}

func (c *Catalog) read(ctx context.Context, key string) (string, error) {
	rc, err := c.storage.Open(ctx, key)
	if err != nil {
		return "", err
	}
	defer rc.Close()
	return c.extractor.Extract(ctx, key, rc)
}

func matchAny(patterns []string, key string) bool {
	for _, pattern := range patterns {
		if ok, err := doublestar.Match(pattern, key); err == nil && ok {
			return true
		}
	}
	return false
}
