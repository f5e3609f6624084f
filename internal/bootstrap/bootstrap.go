package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/hybrid-rag-agent/internal/config"
	"github.com/kirillkom/hybrid-rag-agent/internal/core/ports"
	"github.com/kirillkom/hybrid-rag-agent/internal/core/usecase"
	"github.com/kirillkom/hybrid-rag-agent/internal/infrastructure/chunking"
	"github.com/kirillkom/hybrid-rag-agent/internal/infrastructure/docsource"
	"github.com/kirillkom/hybrid-rag-agent/internal/infrastructure/extractor"
	"github.com/kirillkom/hybrid-rag-agent/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/hybrid-rag-agent/internal/infrastructure/llm/openaicompat"
	"github.com/kirillkom/hybrid-rag-agent/internal/infrastructure/queue/inproc"
	"github.com/kirillkom/hybrid-rag-agent/internal/infrastructure/queue/nats"
	"github.com/kirillkom/hybrid-rag-agent/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/hybrid-rag-agent/internal/infrastructure/resilience"
	"github.com/kirillkom/hybrid-rag-agent/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/hybrid-rag-agent/internal/infrastructure/vector/memory"
	"github.com/kirillkom/hybrid-rag-agent/internal/infrastructure/vector/qdrant"
	"github.com/kirillkom/hybrid-rag-agent/internal/infrastructure/websearch/serper"
)

// Retrieval holds everything needed to answer queries and rebuild the index.
// cmd/mcp uses it alone; App adds the upload ledger and the queue on top.
type Retrieval struct {
	Storage   *localfs.Storage
	Extractor *extractor.Extractor
	QueryUC   *usecase.QueryUseCase
	RebuildUC *usecase.RebuildIndexUseCase

	ingestExecutor *resilience.Executor
	queryExecutor  *resilience.Executor
	closers        []func()
}

func NewRetrieval(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Retrieval, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	resilienceCfg := resilience.DefaultConfig()
	resilienceCfg.RetryMaxAttempts = cfg.ResilienceRetryMaxAttempts
	resilienceCfg.BreakerEnabled = cfg.ResilienceBreakerEnabled
	resilienceCfg.Logger = logger
	resilienceCfg.Name = "ingest"
	ingestExecutor := resilience.NewExecutor(resilienceCfg)
	queryCfg := resilienceCfg.SingleAttempt()
	queryCfg.Name = "query"
	queryExecutor := resilience.NewExecutor(queryCfg)

	r := &Retrieval{
		ingestExecutor: ingestExecutor,
		queryExecutor:  queryExecutor,
	}

	storage, err := localfs.New(cfg.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("init object storage: %w", err)
	}
	r.Storage = storage
	r.Extractor = extractor.New()

	catalog, err := docsource.NewCatalog(storage, r.Extractor, docsource.Options{
		Includes: cfg.DocumentIncludeGlobs,
		Excludes: cfg.DocumentExcludeGlobs,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("init document catalog: %w", err)
	}

	// Chunk embeddings retry; query embeddings and searches get one attempt.
	embedder := ollama.NewEmbedder(ollama.New(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaEmbedModel, ollama.Options{Executor: ingestExecutor}))
	queryEmbedder := ollama.NewEmbedder(ollama.New(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaEmbedModel, ollama.Options{Executor: queryExecutor}))

	index, err := r.buildIndex(ctx, cfg, queryEmbedder, logger)
	if err != nil {
		r.Close()
		return nil, err
	}

	generator, err := buildGenerator(cfg, queryExecutor)
	if err != nil {
		r.Close()
		return nil, err
	}

	web := serper.New(serper.Config{
		APIKey:   cfg.SerperAPIKey,
		Endpoint: cfg.SerperURL,
		Executor: queryExecutor,
	})

	terms, err := cfg.TriggerTerms()
	if err != nil {
		r.Close()
		return nil, err
	}

	var confidence ports.ConfidencePolicy = usecase.NewLengthConfidencePolicy(cfg.ConfidenceMinChars)
	if cfg.ConfidencePolicy == config.ConfidenceScore {
		confidence = usecase.NewScoreConfidencePolicy(cfg.ConfidenceMinScore)
	}

	r.QueryUC = usecase.NewQueryUseCase(
		index,
		web,
		generator,
		usecase.NewTriggerRouter(terms),
		confidence,
		usecase.QueryOptions{TopK: cfg.RAGTopK, Logger: logger},
	)
	r.RebuildUC = usecase.NewRebuildIndexUseCase(
		catalog,
		chunking.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap),
		embedder,
		index,
		usecase.RebuildOptions{EmbedBatchSize: cfg.EmbedBatchSize, Logger: logger},
	)
	return r, nil
}

func (r *Retrieval) buildIndex(
	ctx context.Context,
	cfg config.Config,
	queryEmbedder ports.Embedder,
	logger *slog.Logger,
) (ports.DocumentIndex, error) {
	switch cfg.IndexBackend {
	case config.IndexBackendMemory:
		var store *memory.SnapshotStore
		if cfg.IndexSnapshotPath != "" {
			opened, err := memory.OpenSnapshotStore(cfg.IndexSnapshotPath)
			if err != nil {
				return nil, fmt.Errorf("open index snapshot store: %w", err)
			}
			store = opened
			r.closers = append(r.closers, func() { _ = opened.Close() })
		}
		index, err := memory.New(queryEmbedder, store)
		if err != nil {
			return nil, fmt.Errorf("init memory index: %w", err)
		}
		return index, nil
	default:
		index := qdrant.New(cfg.QdrantURL, cfg.QdrantCollection, queryEmbedder, qdrant.Options{
			APIKey:        cfg.QdrantAPIKey,
			RetireDelay:   cfg.QdrantRetireDelay,
			Executor:      r.ingestExecutor,
			QueryExecutor: r.queryExecutor,
			Logger:        logger,
		})
		r.closers = append(r.closers, func() {
			closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			index.Close(closeCtx)
		})
		return index, nil
	}
}

func buildGenerator(cfg config.Config, executor *resilience.Executor) (ports.AnswerGenerator, error) {
	if cfg.GeneratorProvider == config.GeneratorOllama {
		client := ollama.New(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaEmbedModel, ollama.Options{Executor: executor})
		return ollama.NewGenerator(client), nil
	}
	generator, err := openaicompat.New(openaicompat.Config{
		APIKey:   cfg.GroqAPIKey,
		BaseURL:  cfg.GroqBaseURL,
		Model:    cfg.GroqModel,
		Executor: executor,
	})
	if err != nil {
		return nil, fmt.Errorf("init generator: %w", err)
	}
	return generator, nil
}

// BreakerStates merges the breaker states of both executors, keyed
// "<executor>.<operation>" since both may guard the same operation.
func (r *Retrieval) BreakerStates() map[string]string {
	out := make(map[string]string)
	for _, executor := range []*resilience.Executor{r.ingestExecutor, r.queryExecutor} {
		for op, state := range executor.BreakerStates() {
			out[executor.Name()+"."+op] = state
		}
	}
	return out
}

func (r *Retrieval) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
	r.closers = nil
}

type App struct {
	*Retrieval

	Config config.Config

	Queue     ports.MessageQueue
	Uploads   ports.UploadRepository
	UploadUC  *usecase.UploadDocumentUseCase
	ProcessUC *usecase.ProcessUploadUseCase

	db *sql.DB
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	retrieval, err := NewRetrieval(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	app := &App{Retrieval: retrieval, Config: cfg}

	db, err := postgres.OpenDB(ctx, cfg.PostgresDSN)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	app.db = db
	repo := postgres.NewUploadRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		app.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	app.Uploads = repo

	switch cfg.IngestMode {
	case config.IngestModeInline:
		app.Queue = inproc.New(inproc.DefaultBuffer, logger)
	default:
		queue, err := nats.New(cfg.NATSURL, cfg.NATSSubject, nats.Options{
			ResilienceExecutor: retrieval.ingestExecutor,
			Logger:             logger,
		})
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("init message queue: %w", err)
		}
		app.Queue = queue
		retrieval.closers = append(retrieval.closers, queue.Close)
	}

	app.UploadUC = usecase.NewUploadDocumentUseCase(repo, retrieval.Storage, app.Queue, retrieval.Extractor)
	app.ProcessUC = usecase.NewProcessUploadUseCase(repo, retrieval.RebuildUC)
	return app, nil
}

func (a *App) Close() {
	a.Retrieval.Close()
	if a.db != nil {
		_ = a.db.Close()
		a.db = nil
	}
}
