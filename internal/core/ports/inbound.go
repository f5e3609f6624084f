package ports

import (
	"context"
	"io"

	"github.com/kirillkom/hybrid-rag-agent/internal/core/domain"
)

// QueryAnswerer is the inbound contract of the retrieval orchestrator.
type QueryAnswerer interface {
	Answer(ctx context.Context, query string) (*domain.Answer, error)
}

// IndexRebuilder is the inbound contract of the ingestion pipeline.
type IndexRebuilder interface {
	Rebuild(ctx context.Context) (*domain.IndexReport, error)
}

// DocumentUploader accepts user files and schedules a rebuild.
type DocumentUploader interface {
	Upload(ctx context.Context, filename, mimeType string, body io.Reader) (*domain.Upload, error)
}

// UploadReader is the inbound read model for upload state.
type UploadReader interface {
	GetByID(ctx context.Context, id string) (*domain.Upload, error)
}

// UploadProcessor handles an asynchronous rebuild request for one upload.
type UploadProcessor interface {
	ProcessByID(ctx context.Context, uploadID string) error
}
