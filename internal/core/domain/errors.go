package domain

import (
	"errors"
	"fmt"
)

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrTemporary        = errors.New("temporary failure")

	// ErrEmptyCorpus means ingestion found no eligible documents.
	ErrEmptyCorpus = errors.New("no eligible documents found")
	// ErrNotInitialized means the document index was queried before its first build.
	ErrNotInitialized = errors.New("index not initialized")
	// ErrProvider covers transport/auth failures of external retrieval services.
	ErrProvider = errors.New("provider error")
	// ErrGeneration covers failures of the answer-generation backend.
	ErrGeneration = errors.New("generation error")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
