package extractor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kirillkom/hybrid-rag-agent/internal/core/domain"
)

// Format turns one kind of stored file into plain text.
type Format interface {
	Extract(ctx context.Context, r io.Reader) (string, error)
}

type FormatFunc func(ctx context.Context, r io.Reader) (string, error)

func (f FormatFunc) Extract(ctx context.Context, r io.Reader) (string, error) {
	return f(ctx, r)
}

// Extractor dispatches on the lower-cased file extension.
type Extractor struct {
	formats map[string]Format
}

func New() *Extractor {
	e := &Extractor{formats: make(map[string]Format)}
	e.Register(FormatFunc(extractPlainText), ".txt", ".md")
	e.Register(FormatFunc(extractPDF), ".pdf")
	e.Register(FormatFunc(extractXLSX), ".xlsx")
	e.Register(FormatFunc(extractDOCX), ".docx")
	e.Register(FormatFunc(extractHTML), ".html", ".htm")
	return e
}

func (e *Extractor) Register(format Format, exts ...string) {
	for _, ext := range exts {
		e.formats[strings.ToLower(ext)] = format
	}
}

func (e *Extractor) Supports(name string) bool {
	_, ok := e.formats[extension(name)]
	return ok
}

// Extensions lists supported extensions in stable order.
func (e *Extractor) Extensions() []string {
	out := make([]string, 0, len(e.formats))
	for ext := range e.formats {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

func (e *Extractor) Extract(ctx context.Context, name string, r io.Reader) (string, error) {
	format, ok := e.formats[extension(name)]
	if !ok {
		return "", domain.WrapError(
			domain.ErrInvalidInput,
			"extract text",
			fmt.Errorf("unsupported file type %q", extension(name)),
		)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	text, err := format.Extract(ctx, r)
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", filepath.Base(name), err)
	}
	return text, nil
}

func extension(name string) string {
	return strings.ToLower(filepath.Ext(name))
}

var errBinaryContent = errors.New("content is not valid utf-8 text")
