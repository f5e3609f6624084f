package extractor

import (
	"context"
	"fmt"
	"io"
	"unicode/utf8"
)

func extractPlainText(_ context.Context, r io.Reader) (string, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read source document: %w", err)
	}
	if !utf8.Valid(raw) {
		return "", errBinaryContent
	}
	return string(raw), nil
}
