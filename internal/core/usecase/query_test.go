package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/hybrid-rag-agent/internal/core/domain"
)

type indexFake struct {
	results []domain.ScoredChunk
	err     error
	calls   int
	k       int
}

func (f *indexFake) Query(_ context.Context, _ string, k int) ([]domain.ScoredChunk, error) {
	f.calls++
	f.k = k
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

func (f *indexFake) ReplaceAll(context.Context, []domain.IndexedEntry) error { return nil }

type webFake struct {
	digest string
	err    error
	calls  int
	query  string
}

func (f *webFake) Search(_ context.Context, query string) (string, error) {
	f.calls++
	f.query = query
	if f.err != nil {
		return "", f.err
	}
	return f.digest, nil
}

type generatorFake struct {
	answer      string
	err         error
	calls       int
	system      string
	user        string
	temperature float64
}

func (f *generatorFake) Generate(_ context.Context, systemPrompt, userContent string, temperature float64) (string, error) {
	f.calls++
	f.system = systemPrompt
	f.user = userContent
	f.temperature = temperature
	if f.err != nil {
		return "", f.err
	}
	return f.answer, nil
}

func scored(texts ...string) []domain.ScoredChunk {
	out := make([]domain.ScoredChunk, 0, len(texts))
	for i, text := range texts {
		out = append(out, domain.ScoredChunk{
			Chunk: domain.Chunk{Source: "doc.txt", Index: i, Text: text},
			Score: 1 - float64(i)/10,
		})
	}
	return out
}

func newQueryUseCase(index *indexFake, web *webFake, gen *generatorFake) *QueryUseCase {
	return NewQueryUseCase(index, web, gen, nil, nil, QueryOptions{})
}

func TestQueryUseCaseShortLocalContextAddsWeb(t *testing.T) {
	index := &indexFake{results: scored("The sky is blue. Water is wet.")}
	web := &webFake{digest: "The sky appears blue due to Rayleigh scattering."}
	gen := &generatorFake{answer: " Blue. "}
	uc := newQueryUseCase(index, web, gen)

	answer, err := uc.Answer(context.Background(), "What color is the sky?")
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if answer.Text != " Blue. " {
		t.Fatalf("expected verbatim generator output, got %q", answer.Text)
	}
	if answer.Route != domain.RouteLocalWithWeb || !answer.UsedLocal || !answer.UsedWeb {
		t.Fatalf("unexpected route/flags: %+v", answer)
	}
	if index.k != DefaultTopK {
		t.Fatalf("expected k=%d, got %d", DefaultTopK, index.k)
	}
	if web.query != "What color is the sky?" {
		t.Fatalf("expected raw query to reach web search, got %q", web.query)
	}

	want := "Context:\nLocal context:\nThe sky is blue. Water is wet.\n\n" +
		"Web search context:\nThe sky appears blue due to Rayleigh scattering.\n\n" +
		"Question:\nWhat color is the sky?"
	if gen.user != want {
		t.Fatalf("unexpected user content:\n%q\nwant\n%q", gen.user, want)
	}
	if gen.temperature != 0 {
		t.Fatalf("expected temperature 0, got %v", gen.temperature)
	}
	if !strings.Contains(gen.system, "Prefer local context") {
		t.Fatalf("unexpected system prompt: %q", gen.system)
	}
}

func TestQueryUseCaseTriggerSkipsIndex(t *testing.T) {
	index := &indexFake{results: scored(strings.Repeat("a", 300))}
	web := &webFake{digest: "AI news digest"}
	gen := &generatorFake{answer: "answer"}
	uc := newQueryUseCase(index, web, gen)

	answer, err := uc.Answer(context.Background(), "What is the latest news on AI?")
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if index.calls != 0 {
		t.Fatalf("expected index to be skipped, got %d calls", index.calls)
	}
	if web.calls != 1 {
		t.Fatalf("expected one web search, got %d", web.calls)
	}
	if answer.Route != domain.RouteWebOnly || answer.UsedLocal || !answer.UsedWeb {
		t.Fatalf("unexpected route/flags: %+v", answer)
	}
	if strings.Contains(gen.user, domain.LocalContextLabel) {
		t.Fatalf("local section must be absent on web-only path: %q", gen.user)
	}
	if !strings.Contains(gen.user, "Web search context:\nAI news digest") {
		t.Fatalf("expected labeled web section: %q", gen.user)
	}
}

func TestQueryUseCaseTriggerIsCaseInsensitive(t *testing.T) {
	index := &indexFake{}
	web := &webFake{}
	uc := newQueryUseCase(index, web, &generatorFake{})

	if _, err := uc.Answer(context.Background(), "CURRENT weather?"); err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if index.calls != 0 || web.calls != 1 {
		t.Fatalf("expected web-only path, index=%d web=%d", index.calls, web.calls)
	}
}

func TestQueryUseCaseLongLocalContextSkipsWeb(t *testing.T) {
	index := &indexFake{results: scored(strings.Repeat("x", 120), strings.Repeat("y", 120))}
	web := &webFake{}
	gen := &generatorFake{answer: "ok"}
	uc := newQueryUseCase(index, web, gen)

	answer, err := uc.Answer(context.Background(), "Explain the document")
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if web.calls != 0 {
		t.Fatalf("expected no web search, got %d", web.calls)
	}
	if answer.Route != domain.RouteLocal || !answer.UsedLocal || answer.UsedWeb {
		t.Fatalf("unexpected route/flags: %+v", answer)
	}
	if len(answer.Sources) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(answer.Sources))
	}
	wantLocal := "Local context:\n" + strings.Repeat("x", 120) + "\n" + strings.Repeat("y", 120)
	if !strings.Contains(gen.user, wantLocal) {
		t.Fatalf("expected chunks joined by newline in relevance order: %q", gen.user)
	}
	if strings.Contains(gen.user, domain.WebContextLabel) {
		t.Fatalf("web section must be absent: %q", gen.user)
	}
}

func TestQueryUseCaseBoundaryLengthIsConfident(t *testing.T) {
	index := &indexFake{results: scored(strings.Repeat("z", DefaultMinContextChars))}
	web := &webFake{}
	uc := newQueryUseCase(index, web, &generatorFake{})

	if _, err := uc.Answer(context.Background(), "anything"); err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if web.calls != 0 {
		t.Fatalf("context of exactly %d chars must not trigger web", DefaultMinContextChars)
	}
}

func TestQueryUseCaseEmptyLocalResultsKeepLabeledSection(t *testing.T) {
	index := &indexFake{}
	web := &webFake{digest: "web"}
	gen := &generatorFake{}
	uc := newQueryUseCase(index, web, gen)

	answer, err := uc.Answer(context.Background(), "unknown topic")
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if answer.Route != domain.RouteLocalWithWeb {
		t.Fatalf("expected local+web, got %s", answer.Route)
	}
	if !strings.HasPrefix(gen.user, "Context:\nLocal context:\n\n\nWeb search context:\nweb") {
		t.Fatalf("unexpected user content: %q", gen.user)
	}
}

func TestQueryUseCaseEmptyWebDigestStillLabeled(t *testing.T) {
	web := &webFake{digest: ""}
	gen := &generatorFake{}
	uc := newQueryUseCase(&indexFake{}, web, gen)

	if _, err := uc.Answer(context.Background(), "news today"); err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if gen.user != "Context:\nWeb search context:\n\n\nQuestion:\nnews today" {
		t.Fatalf("unexpected user content: %q", gen.user)
	}
}

func TestQueryUseCaseNotInitializedFallsBackToWeb(t *testing.T) {
	index := &indexFake{err: domain.WrapError(domain.ErrNotInitialized, "query index", errors.New("no snapshot"))}
	web := &webFake{digest: "web"}
	gen := &generatorFake{answer: "a"}
	uc := newQueryUseCase(index, web, gen)

	answer, err := uc.Answer(context.Background(), "What color is the sky?")
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if answer.Route != domain.RouteWebFallback || answer.UsedLocal || !answer.UsedWeb {
		t.Fatalf("unexpected route/flags: %+v", answer)
	}
	if strings.Contains(gen.user, domain.LocalContextLabel) {
		t.Fatalf("local section must be absent: %q", gen.user)
	}
}

func TestQueryUseCaseIndexErrorPropagates(t *testing.T) {
	index := &indexFake{err: errors.New("boom")}
	web := &webFake{}
	gen := &generatorFake{}
	uc := newQueryUseCase(index, web, gen)

	if _, err := uc.Answer(context.Background(), "question"); err == nil {
		t.Fatalf("expected error")
	}
	if web.calls != 0 || gen.calls != 0 {
		t.Fatalf("expected no downstream calls, web=%d gen=%d", web.calls, gen.calls)
	}
}

func TestQueryUseCaseWebProviderErrorPropagates(t *testing.T) {
	web := &webFake{err: domain.WrapError(domain.ErrProvider, "serper search", errors.New("status 401"))}
	gen := &generatorFake{}
	uc := newQueryUseCase(&indexFake{}, web, gen)

	_, err := uc.Answer(context.Background(), "latest release")
	if !domain.IsKind(err, domain.ErrProvider) {
		t.Fatalf("expected provider error, got %v", err)
	}
	if gen.calls != 0 {
		t.Fatalf("generator must not be called after web failure")
	}
}

func TestQueryUseCaseGenerationErrorPropagates(t *testing.T) {
	gen := &generatorFake{err: domain.WrapError(domain.ErrGeneration, "chat", errors.New("bad gateway"))}
	uc := newQueryUseCase(&indexFake{results: scored(strings.Repeat("a", 250))}, &webFake{}, gen)

	_, err := uc.Answer(context.Background(), "question")
	if !domain.IsKind(err, domain.ErrGeneration) {
		t.Fatalf("expected generation error, got %v", err)
	}
	if gen.calls != 1 {
		t.Fatalf("expected exactly one generator call, got %d", gen.calls)
	}
}

func TestQueryUseCaseRejectsBlankQuery(t *testing.T) {
	index := &indexFake{}
	web := &webFake{}
	gen := &generatorFake{}
	uc := newQueryUseCase(index, web, gen)

	_, err := uc.Answer(context.Background(), "   ")
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if index.calls+web.calls+gen.calls != 0 {
		t.Fatalf("expected no collaborator calls")
	}
}

func TestQueryUseCaseCustomTopKAndTriggers(t *testing.T) {
	index := &indexFake{results: scored(strings.Repeat("a", 300))}
	web := &webFake{}
	uc := NewQueryUseCase(index, web, &generatorFake{}, NewTriggerRouter([]string{"today"}), nil, QueryOptions{TopK: 7})

	if _, err := uc.Answer(context.Background(), "latest docs"); err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if index.calls != 1 || index.k != 7 {
		t.Fatalf("expected index query with k=7, calls=%d k=%d", index.calls, index.k)
	}

	if _, err := uc.Answer(context.Background(), "What happened TODAY?"); err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if index.calls != 1 || web.calls != 1 {
		t.Fatalf("expected custom trigger to route to web, index=%d web=%d", index.calls, web.calls)
	}
}

type blockingGenerator struct{}

func (blockingGenerator) Generate(ctx context.Context, _, _ string, _ float64) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestQueryUseCaseDeadlineSurfacesAsTimeout(t *testing.T) {
	index := &indexFake{results: scored(strings.Repeat("a", 250))}
	uc := NewQueryUseCase(index, &webFake{}, blockingGenerator{}, nil, nil, QueryOptions{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	answer, err := uc.Answer(ctx, "What is in the notes?")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if answer != nil {
		t.Fatalf("expected no partial answer, got %+v", answer)
	}
}
