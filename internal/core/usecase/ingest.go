package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/hybrid-rag-agent/internal/core/domain"
	"github.com/kirillkom/hybrid-rag-agent/internal/core/ports"
)

type UploadDocumentUseCase struct {
	repo      ports.UploadRepository
	storage   ports.ObjectStorage
	queue     ports.MessageQueue
	extractor ports.TextExtractor
}

func NewUploadDocumentUseCase(
	repo ports.UploadRepository,
	storage ports.ObjectStorage,
	queue ports.MessageQueue,
	extractor ports.TextExtractor,
) *UploadDocumentUseCase {
	return &UploadDocumentUseCase{
		repo:      repo,
		storage:   storage,
		queue:     queue,
		extractor: extractor,
	}
}

func (uc *UploadDocumentUseCase) Upload(
	ctx context.Context,
	filename, mimeType string,
	body io.Reader,
) (*domain.Upload, error) {
	if strings.TrimSpace(filename) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "upload", errors.New("filename is required"))
	}
	if !uc.extractor.Supports(filename) {
		return nil, domain.WrapError(
			domain.ErrInvalidInput,
			"upload",
			fmt.Errorf("unsupported file type %q", strings.ToLower(filepath.Ext(filename))),
		)
	}

	id := uuid.NewString()
	storageKey := fmt.Sprintf("%s_%s", id, sanitizeFilename(filename))
	now := time.Now().UTC()

	if err := uc.storage.Save(ctx, storageKey, body); err != nil {
		return nil, fmt.Errorf("save to object storage: %w", err)
	}

	upload := &domain.Upload{
		ID:          id,
		Filename:    filename,
		MimeType:    mimeType,
		StoragePath: storageKey,
		Status:      domain.StatusUploaded,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := uc.repo.Create(ctx, upload); err != nil {
		return nil, uc.discard(ctx, storageKey, fmt.Errorf("create upload record: %w", err))
	}

	if err := uc.queue.PublishRebuildRequested(ctx, upload.ID); err != nil {
		err = uc.discard(ctx, storageKey, fmt.Errorf("publish rebuild request: %w", err))
		if markErr := uc.repo.UpdateStatus(context.WithoutCancel(ctx), upload.ID, domain.StatusFailed, err.Error()); markErr != nil {
			return nil, errors.Join(err, fmt.Errorf("mark failed status: %w", markErr))
		}
		return nil, err
	}

	return upload, nil
}

// discard removes a stored file whose upload was rejected, so the catalog
// never indexes it.
func (uc *UploadDocumentUseCase) discard(ctx context.Context, storageKey string, cause error) error {
	if err := uc.storage.Delete(context.WithoutCancel(ctx), storageKey); err != nil {
		return errors.Join(cause, fmt.Errorf("delete stored file: %w", err))
	}
	return cause
}

func (uc *UploadDocumentUseCase) GetByID(ctx context.Context, id string) (*domain.Upload, error) {
	if strings.TrimSpace(id) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "get upload", errors.New("id is required"))
	}
	return uc.repo.GetByID(ctx, id)
}

func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	base = strings.ReplaceAll(base, " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" || base == "." {
		return "document.txt"
	}
	return base
}
