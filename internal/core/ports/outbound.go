package ports

import (
	"context"
	"io"

	"github.com/kirillkom/hybrid-rag-agent/internal/core/domain"
)

// UploadRepository persists and reads upload state.
type UploadRepository interface {
	Create(ctx context.Context, upload *domain.Upload) error
	GetByID(ctx context.Context, id string) (*domain.Upload, error)
	UpdateStatus(ctx context.Context, id string, status domain.UploadStatus, errMessage string) error
}

// ObjectStorage stores source documents.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	List(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, key string) error
}

// MessageQueue publishes/consumes index rebuild requests.
type MessageQueue interface {
	PublishRebuildRequested(ctx context.Context, uploadID string) error
	SubscribeRebuildRequested(ctx context.Context, handler func(context.Context, string) error) error
}

// TextExtractor turns a stored file into plain text.
type TextExtractor interface {
	Supports(name string) bool
	Extract(ctx context.Context, name string, r io.Reader) (string, error)
}

// DocumentSource lists every document that should be part of the next index.
type DocumentSource interface {
	ListDocuments(ctx context.Context) ([]domain.Document, error)
}

// Embedder builds vectors for chunks and query text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Chunker splits a document into overlapping windows.
type Chunker interface {
	Split(doc domain.Document) []domain.Chunk
}

// DocumentIndex answers nearest-neighbour queries over one immutable snapshot.
// Query fails with domain.ErrNotInitialized before the first ReplaceAll.
type DocumentIndex interface {
	Query(ctx context.Context, text string, k int) ([]domain.ScoredChunk, error)
	ReplaceAll(ctx context.Context, entries []domain.IndexedEntry) error
}

// WebSearcher returns a digest of top web snippets, empty when there are none.
type WebSearcher interface {
	Search(ctx context.Context, query string) (string, error)
}

// AnswerGenerator produces the final user-facing answer.
type AnswerGenerator interface {
	Generate(ctx context.Context, systemPrompt, userContent string, temperature float64) (string, error)
}

// QueryRouter decides whether a query must skip the local index.
type QueryRouter interface {
	MatchTrigger(query string) (string, bool)
}

// ConfidencePolicy decides whether local retrieval is too weak to answer alone.
type ConfidencePolicy interface {
	IsLowConfidence(localContext string, results []domain.ScoredChunk) bool
}
