package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kirillkom/hybrid-rag-agent/internal/core/domain"
	"github.com/kirillkom/hybrid-rag-agent/internal/core/ports"
)

const (
	DefaultTopK = 3

	answerInstruction = "Use the provided context to answer the question. " +
		"Prefer local context when it clearly answers the question, " +
		"but you may also use web search context when local context is missing or insufficient."
	answerTemperature = 0
)

type QueryOptions struct {
	TopK   int
	Logger *slog.Logger
}

// QueryUseCase is the retrieval orchestrator: it picks a route per query,
// builds the grounding context and calls the generator exactly once.
type QueryUseCase struct {
	index      ports.DocumentIndex
	web        ports.WebSearcher
	generator  ports.AnswerGenerator
	router     ports.QueryRouter
	confidence ports.ConfidencePolicy
	topK       int
	logger     *slog.Logger
}

func NewQueryUseCase(
	index ports.DocumentIndex,
	web ports.WebSearcher,
	generator ports.AnswerGenerator,
	router ports.QueryRouter,
	confidence ports.ConfidencePolicy,
	opts QueryOptions,
) *QueryUseCase {
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if router == nil {
		router = NewTriggerRouter(DefaultTriggerTerms)
	}
	if confidence == nil {
		confidence = NewLengthConfidencePolicy(DefaultMinContextChars)
	}
	return &QueryUseCase{
		index:      index,
		web:        web,
		generator:  generator,
		router:     router,
		confidence: confidence,
		topK:       opts.TopK,
		logger:     opts.Logger,
	}
}

func (uc *QueryUseCase) Answer(ctx context.Context, query string) (*domain.Answer, error) {
	if strings.TrimSpace(query) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "answer", errors.New("query is empty"))
	}

	bundle, route, sources, err := uc.buildContext(ctx, query)
	if err != nil {
		return nil, err
	}

	text, err := uc.generator.Generate(ctx, answerInstruction, buildUserContent(bundle, query), answerTemperature)
	if err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}

	return &domain.Answer{
		Text:      text,
		Route:     route,
		UsedLocal: bundle.HasLocal,
		UsedWeb:   bundle.HasWeb,
		Sources:   sources,
	}, nil
}

func (uc *QueryUseCase) buildContext(ctx context.Context, query string) (domain.ContextBundle, domain.Route, []domain.ScoredChunk, error) {
	if term, ok := uc.router.MatchTrigger(query); ok {
		uc.logger.DebugContext(ctx, "query_route", "route", domain.RouteWebOnly, "trigger", term)
		web, err := uc.searchWeb(ctx, query)
		if err != nil {
			return domain.ContextBundle{}, "", nil, err
		}
		return domain.ContextBundle{Web: web, HasWeb: true}, domain.RouteWebOnly, nil, nil
	}

	results, err := uc.index.Query(ctx, query, uc.topK)
	if err != nil {
		if !domain.IsKind(err, domain.ErrNotInitialized) {
			return domain.ContextBundle{}, "", nil, fmt.Errorf("query document index: %w", err)
		}
		uc.logger.InfoContext(ctx, "query_route", "route", domain.RouteWebFallback, "reason", "index not initialized")
		web, err := uc.searchWeb(ctx, query)
		if err != nil {
			return domain.ContextBundle{}, "", nil, err
		}
		return domain.ContextBundle{Web: web, HasWeb: true}, domain.RouteWebFallback, nil, nil
	}

	local := joinChunkText(results)
	bundle := domain.ContextBundle{Local: local, HasLocal: true}
	if !uc.confidence.IsLowConfidence(local, results) {
		uc.logger.DebugContext(ctx, "query_route", "route", domain.RouteLocal, "chunks", len(results))
		return bundle, domain.RouteLocal, results, nil
	}

	uc.logger.InfoContext(ctx, "query_route", "route", domain.RouteLocalWithWeb, "chunks", len(results), "local_chars", len([]rune(local)))
	web, err := uc.searchWeb(ctx, query)
	if err != nil {
		return domain.ContextBundle{}, "", nil, err
	}
	bundle.Web = web
	bundle.HasWeb = true
	return bundle, domain.RouteLocalWithWeb, results, nil
}

func (uc *QueryUseCase) searchWeb(ctx context.Context, query string) (string, error) {
	digest, err := uc.web.Search(ctx, query)
	if err != nil {
		return "", fmt.Errorf("web search: %w", err)
	}
	return digest, nil
}

// joinChunkText keeps the index order, which is descending relevance.
func joinChunkText(results []domain.ScoredChunk) string {
	if len(results) == 0 {
		return ""
	}
	parts := make([]string, 0, len(results))
	for _, r := range results {
		parts = append(parts, r.Chunk.Text)
	}
	return strings.Join(parts, "\n")
}

func buildUserContent(bundle domain.ContextBundle, query string) string {
	return fmt.Sprintf("Context:\n%s\n\nQuestion:\n%s", bundle.Render(), query)
}
