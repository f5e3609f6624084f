package usecase

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kirillkom/hybrid-rag-agent/internal/core/domain"
)

type sourceFake struct {
	docs []domain.Document
	err  error
}

func (f *sourceFake) ListDocuments(context.Context) ([]domain.Document, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]domain.Document, len(f.docs))
	copy(out, f.docs)
	return out, nil
}

// sentenceChunker emits one chunk per ". "-terminated sentence.
type sentenceChunker struct{}

func (sentenceChunker) Split(doc domain.Document) []domain.Chunk {
	var chunks []domain.Chunk
	start := 0
	runes := []rune(doc.Text)
	for i := 0; i < len(runes); i++ {
		if runes[i] == '.' || i == len(runes)-1 {
			chunks = append(chunks, domain.Chunk{
				Source: doc.Source,
				Index:  len(chunks),
				Text:   string(runes[start : i+1]),
				Start:  start,
				End:    i + 1,
			})
			start = i + 1
		}
	}
	return chunks
}

type embedderFake struct {
	mu        sync.Mutex
	batches   [][]string
	err       error
	shortBy   int
	failAfter int
}

func (f *embedderFake) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, texts)
	if f.err != nil && len(f.batches) > f.failAfter {
		return nil, f.err
	}
	vectors := make([][]float32, 0, len(texts))
	for _, text := range texts {
		vectors = append(vectors, []float32{float32(len(text)), 1})
	}
	return vectors[:len(vectors)-f.shortBy], nil
}

func (f *embedderFake) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return []float32{float32(len(text)), 1}, nil
}

type replaceIndexFake struct {
	mu       sync.Mutex
	snapshot []domain.IndexedEntry
	replaced int
	err      error
}

func (f *replaceIndexFake) Query(context.Context, string, int) ([]domain.ScoredChunk, error) {
	return nil, nil
}

func (f *replaceIndexFake) ReplaceAll(_ context.Context, entries []domain.IndexedEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.snapshot = entries
	f.replaced++
	return nil
}

func TestRebuildIndexesAllDocuments(t *testing.T) {
	source := &sourceFake{docs: []domain.Document{
		{Source: "a.txt", Text: "One. Two."},
		{Source: "b.txt", Text: "Three."},
	}}
	embedder := &embedderFake{}
	index := &replaceIndexFake{}
	uc := NewRebuildIndexUseCase(source, sentenceChunker{}, embedder, index, RebuildOptions{EmbedBatchSize: 2})
	uc.now = func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) }

	report, err := uc.Rebuild(context.Background())
	if err != nil {
		t.Fatalf("Rebuild() error = %v", err)
	}
	if report.Documents != 2 || report.Chunks != 3 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if !reflect.DeepEqual(report.Sources, []string{"a.txt", "b.txt"}) {
		t.Fatalf("unexpected sources: %v", report.Sources)
	}
	if !report.BuiltAt.Equal(time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)) {
		t.Fatalf("unexpected built_at %v", report.BuiltAt)
	}
	if index.replaced != 1 || len(index.snapshot) != 3 {
		t.Fatalf("expected one replace with 3 entries, got %d/%d", index.replaced, len(index.snapshot))
	}
	if len(embedder.batches) != 2 {
		t.Fatalf("expected 2 embed batches, got %d", len(embedder.batches))
	}
	if index.snapshot[2].Chunk.Source != "b.txt" || index.snapshot[2].Vector[0] != float32(len("Three.")) {
		t.Fatalf("unexpected last entry: %+v", index.snapshot[2])
	}
}

func TestRebuildEmptySourceKeepsPreviousIndex(t *testing.T) {
	source := &sourceFake{docs: []domain.Document{{Source: "a.txt", Text: "Kept."}}}
	index := &replaceIndexFake{}
	uc := NewRebuildIndexUseCase(source, sentenceChunker{}, &embedderFake{}, index, RebuildOptions{})

	if _, err := uc.Rebuild(context.Background()); err != nil {
		t.Fatalf("first Rebuild() error = %v", err)
	}
	previous := index.snapshot

	source.docs = nil
	_, err := uc.Rebuild(context.Background())
	if !domain.IsKind(err, domain.ErrEmptyCorpus) {
		t.Fatalf("expected empty corpus, got %v", err)
	}
	if index.replaced != 1 || !reflect.DeepEqual(index.snapshot, previous) {
		t.Fatalf("previous snapshot must survive a failed rebuild")
	}
}

func TestRebuildSkipsBlankDocuments(t *testing.T) {
	source := &sourceFake{docs: []domain.Document{
		{Source: "blank.txt", Text: " \n\t "},
		{Source: "real.txt", Text: "Content."},
	}}
	uc := NewRebuildIndexUseCase(source, sentenceChunker{}, &embedderFake{}, &replaceIndexFake{}, RebuildOptions{})

	report, err := uc.Rebuild(context.Background())
	if err != nil {
		t.Fatalf("Rebuild() error = %v", err)
	}
	if report.Contains("blank.txt") || !report.Contains("real.txt") {
		t.Fatalf("unexpected sources: %v", report.Sources)
	}

	source.docs = source.docs[:1]
	if _, err := uc.Rebuild(context.Background()); !domain.IsKind(err, domain.ErrEmptyCorpus) {
		t.Fatalf("only blank documents must be an empty corpus, got %v", err)
	}
}

func TestRebuildEmbedFailureLeavesIndexUntouched(t *testing.T) {
	source := &sourceFake{docs: []domain.Document{{Source: "a.txt", Text: "One. Two. Three."}}}
	embedder := &embedderFake{err: errors.New("ollama down"), failAfter: 1}
	index := &replaceIndexFake{}
	uc := NewRebuildIndexUseCase(source, sentenceChunker{}, embedder, index, RebuildOptions{EmbedBatchSize: 1})

	_, err := uc.Rebuild(context.Background())
	if err == nil || !strings.Contains(err.Error(), "embed chunks") {
		t.Fatalf("expected embed error, got %v", err)
	}
	if index.replaced != 0 {
		t.Fatalf("partial embeddings must not reach the index")
	}
}

func TestRebuildVectorCountMismatch(t *testing.T) {
	source := &sourceFake{docs: []domain.Document{{Source: "a.txt", Text: "One. Two."}}}
	index := &replaceIndexFake{}
	uc := NewRebuildIndexUseCase(source, sentenceChunker{}, &embedderFake{shortBy: 1}, index, RebuildOptions{})

	_, err := uc.Rebuild(context.Background())
	if !domain.IsKind(err, domain.ErrProvider) {
		t.Fatalf("expected provider error, got %v", err)
	}
	if index.replaced != 0 {
		t.Fatalf("index must not be replaced on mismatch")
	}
}

func TestRebuildSourceAndReplaceErrors(t *testing.T) {
	uc := NewRebuildIndexUseCase(&sourceFake{err: errors.New("disk")}, sentenceChunker{}, &embedderFake{}, &replaceIndexFake{}, RebuildOptions{})
	if _, err := uc.Rebuild(context.Background()); err == nil || !strings.Contains(err.Error(), "list documents") {
		t.Fatalf("expected list error, got %v", err)
	}

	source := &sourceFake{docs: []domain.Document{{Source: "a.txt", Text: "One."}}}
	uc = NewRebuildIndexUseCase(source, sentenceChunker{}, &embedderFake{}, &replaceIndexFake{err: errors.New("qdrant down")}, RebuildOptions{})
	if _, err := uc.Rebuild(context.Background()); err == nil || !strings.Contains(err.Error(), "replace index") {
		t.Fatalf("expected replace error, got %v", err)
	}
}

func TestRebuildIsIdempotent(t *testing.T) {
	source := &sourceFake{docs: []domain.Document{
		{Source: "a.txt", Text: "Alpha. Beta."},
		{Source: "b.txt", Text: "Gamma."},
	}}
	index := &replaceIndexFake{}
	uc := NewRebuildIndexUseCase(source, sentenceChunker{}, &embedderFake{}, index, RebuildOptions{})

	if _, err := uc.Rebuild(context.Background()); err != nil {
		t.Fatalf("first Rebuild() error = %v", err)
	}
	first := index.snapshot
	if _, err := uc.Rebuild(context.Background()); err != nil {
		t.Fatalf("second Rebuild() error = %v", err)
	}
	if !reflect.DeepEqual(first, index.snapshot) {
		t.Fatalf("rebuilding unchanged input must produce identical entries")
	}
}

func TestRebuildConcurrentCallsAreSerialized(t *testing.T) {
	source := &sourceFake{docs: []domain.Document{{Source: "a.txt", Text: "One. Two."}}}
	index := &replaceIndexFake{}
	uc := NewRebuildIndexUseCase(source, sentenceChunker{}, &embedderFake{}, index, RebuildOptions{})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := uc.Rebuild(context.Background()); err != nil {
				t.Errorf("Rebuild() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if index.replaced != 4 || len(index.snapshot) != 2 {
		t.Fatalf("unexpected index state: replaced=%d entries=%d", index.replaced, len(index.snapshot))
	}
}
