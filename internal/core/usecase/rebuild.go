package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/kirillkom/hybrid-rag-agent/internal/core/domain"
	"github.com/kirillkom/hybrid-rag-agent/internal/core/ports"
)

const DefaultEmbedBatchSize = 32

type RebuildOptions struct {
	EmbedBatchSize int
	Logger         *slog.Logger
}

// RebuildIndexUseCase rebuilds the whole document index from the document source.
// The index is only touched by the final ReplaceAll, so any failure before it
// leaves the previous snapshot in place.
type RebuildIndexUseCase struct {
	source    ports.DocumentSource
	chunker   ports.Chunker
	embedder  ports.Embedder
	index     ports.DocumentIndex
	batchSize int
	logger    *slog.Logger
	now       func() time.Time

	mu sync.Mutex
}

func NewRebuildIndexUseCase(
	source ports.DocumentSource,
	chunker ports.Chunker,
	embedder ports.Embedder,
	index ports.DocumentIndex,
	opts RebuildOptions,
) *RebuildIndexUseCase {
	if opts.EmbedBatchSize <= 0 {
		opts.EmbedBatchSize = DefaultEmbedBatchSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &RebuildIndexUseCase{
		source:    source,
		chunker:   chunker,
		embedder:  embedder,
		index:     index,
		batchSize: opts.EmbedBatchSize,
		logger:    opts.Logger,
		now:       time.Now,
	}
}

func (uc *RebuildIndexUseCase) Rebuild(ctx context.Context) (*domain.IndexReport, error) {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	docs, err := uc.loadDocuments(ctx)
	if err != nil {
		return nil, err
	}

	chunks := uc.chunk(docs)
	if len(chunks) == 0 {
		return nil, domain.WrapError(domain.ErrEmptyCorpus, "chunk documents", errors.New("documents produced zero chunks"))
	}

	entries, err := uc.embed(ctx, chunks)
	if err != nil {
		return nil, err
	}

	if err := uc.index.ReplaceAll(ctx, entries); err != nil {
		return nil, fmt.Errorf("replace index: %w", err)
	}

	report := &domain.IndexReport{
		Documents: len(docs),
		Chunks:    len(entries),
		Sources:   make([]string, 0, len(docs)),
		BuiltAt:   uc.now().UTC(),
	}
	for _, doc := range docs {
		report.Sources = append(report.Sources, doc.Source)
	}

	uc.logger.InfoContext(ctx, "index_rebuilt", "documents", report.Documents, "chunks", report.Chunks)
	return report, nil
}

func (uc *RebuildIndexUseCase) loadDocuments(ctx context.Context) ([]domain.Document, error) {
	listed, err := uc.source.ListDocuments(ctx)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}

	docs := make([]domain.Document, 0, len(listed))
	for _, doc := range listed {
		if strings.TrimSpace(doc.Text) == "" {
			continue
		}
		docs = append(docs, doc)
	}
	if len(docs) == 0 {
		return nil, domain.WrapError(domain.ErrEmptyCorpus, "list documents", errors.New("document source is empty"))
	}
	return docs, nil
}

func (uc *RebuildIndexUseCase) chunk(docs []domain.Document) []domain.Chunk {
	var chunks []domain.Chunk
	for _, doc := range docs {
		chunks = append(chunks, uc.chunker.Split(doc)...)
	}
	return chunks
}

func (uc *RebuildIndexUseCase) embed(ctx context.Context, chunks []domain.Chunk) ([]domain.IndexedEntry, error) {
	entries := make([]domain.IndexedEntry, 0, len(chunks))
	for start := 0; start < len(chunks); start += uc.batchSize {
		end := min(start+uc.batchSize, len(chunks))
		batch := chunks[start:end]

		texts := make([]string, 0, len(batch))
		for _, c := range batch {
			texts = append(texts, c.Text)
		}

		vectors, err := uc.embedder.Embed(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("embed chunks: %w", err)
		}
		if len(vectors) != len(batch) {
			return nil, domain.WrapError(
				domain.ErrProvider,
				"embed chunks",
				fmt.Errorf("vectors/chunks mismatch: %d/%d", len(vectors), len(batch)),
			)
		}
		for i, c := range batch {
			entries = append(entries, domain.IndexedEntry{Chunk: c, Vector: vectors[i]})
		}
	}
	return entries, nil
}
