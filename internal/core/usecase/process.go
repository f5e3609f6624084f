package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/kirillkom/hybrid-rag-agent/internal/core/domain"
	"github.com/kirillkom/hybrid-rag-agent/internal/core/ports"
)

var errNoIndexableText = errors.New("no indexable text")

// ProcessUploadUseCase reacts to a rebuild request raised by an upload and
// keeps the upload status in step with the rebuild outcome.
type ProcessUploadUseCase struct {
	repo      ports.UploadRepository
	rebuilder ports.IndexRebuilder
}

func NewProcessUploadUseCase(repo ports.UploadRepository, rebuilder ports.IndexRebuilder) *ProcessUploadUseCase {
	return &ProcessUploadUseCase{
		repo:      repo,
		rebuilder: rebuilder,
	}
}

func (uc *ProcessUploadUseCase) ProcessByID(ctx context.Context, uploadID string) error {
	upload, err := uc.repo.GetByID(ctx, uploadID)
	if err != nil {
		return fmt.Errorf("fetch upload by id: %w", err)
	}

	if err := uc.markStatus(ctx, uploadID, domain.StatusIndexing, ""); err != nil {
		return fmt.Errorf("set status=indexing: %w", err)
	}

	report, err := uc.rebuilder.Rebuild(ctx)
	if err == nil && !report.Contains(upload.StoragePath) {
		err = domain.WrapError(domain.ErrInvalidInput, "index upload", errNoIndexableText)
	}
	if err != nil {
		if failErr := uc.markFailed(ctx, uploadID, err); failErr != nil {
			return fmt.Errorf("%w; mark failed status: %v", err, failErr)
		}
		return err
	}

	if err := uc.markStatus(ctx, uploadID, domain.StatusIndexed, ""); err != nil {
		return fmt.Errorf("set status=indexed: %w", err)
	}
	return nil
}

func (uc *ProcessUploadUseCase) markStatus(ctx context.Context, uploadID string, status domain.UploadStatus, errMessage string) error {
	return uc.repo.UpdateStatus(ctx, uploadID, status, errMessage)
}

func (uc *ProcessUploadUseCase) markFailed(ctx context.Context, uploadID string, processErr error) error {
	if processErr == nil {
		return nil
	}
	return uc.markStatus(ctx, uploadID, domain.StatusFailed, processErr.Error())
}
