package qdrant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/hybrid-rag-agent/internal/core/domain"
	"github.com/kirillkom/hybrid-rag-agent/internal/core/ports"
	"github.com/kirillkom/hybrid-rag-agent/internal/infrastructure/resilience"
)

const (
	defaultUpsertBatchSize = 256
	defaultRetireDelay     = 30 * time.Second
)

type Options struct {
	APIKey          string
	Timeout         time.Duration
	UpsertBatchSize int
	// RetireDelay keeps the previous snapshot collection alive for queries
	// that resolved the alias before the swap.
	RetireDelay time.Duration
	Executor    *resilience.Executor
	// QueryExecutor serves Query. It defaults to Executor.
	QueryExecutor *resilience.Executor
	Logger        *slog.Logger
}

// Index stores every snapshot in its own collection and points a stable alias
// at the current one. ReplaceAll fills a fresh collection and then moves the
// alias in a single aliases request, so readers never see a partial snapshot.
type Index struct {
	baseURL    string
	alias      string
	apiKey     string
	httpClient *http.Client
	embedder   ports.Embedder
	executor   *resilience.Executor
	queryExec  *resilience.Executor
	logger     *slog.Logger

	batchSize   int
	retireDelay time.Duration

	initialized atomic.Bool
	writeMu     sync.Mutex
	retireMu    sync.Mutex
	retiring    map[string]*time.Timer
}

type pointPayload struct {
	Source     string `json:"source"`
	ChunkIndex int    `json:"chunk_index"`
	Text       string `json:"text"`
	Start      int    `json:"start"`
	End        int    `json:"end"`
	Overlap    int    `json:"overlap"`
}

type point struct {
	ID      string       `json:"id"`
	Vector  []float32    `json:"vector"`
	Payload pointPayload `json:"payload"`
}

func New(baseURL, alias string, embedder ports.Embedder, opts Options) *Index {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.UpsertBatchSize <= 0 {
		opts.UpsertBatchSize = defaultUpsertBatchSize
	}
	if opts.RetireDelay < 0 {
		opts.RetireDelay = defaultRetireDelay
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.QueryExecutor == nil {
		opts.QueryExecutor = opts.Executor
	}
	return &Index{
		baseURL:     strings.TrimRight(baseURL, "/"),
		alias:       alias,
		apiKey:      opts.APIKey,
		httpClient:  &http.Client{Timeout: opts.Timeout},
		embedder:    embedder,
		executor:    opts.Executor,
		queryExec:   opts.QueryExecutor,
		logger:      opts.Logger,
		batchSize:   opts.UpsertBatchSize,
		retireDelay: opts.RetireDelay,
		retiring:    make(map[string]*time.Timer),
	}
}

func (i *Index) Query(ctx context.Context, text string, k int) ([]domain.ScoredChunk, error) {
	if !i.initialized.Load() {
		target, err := i.aliasTarget(ctx, i.queryExec)
		if err != nil {
			return nil, err
		}
		if target == "" {
			return nil, domain.WrapError(domain.ErrNotInitialized, "qdrant query", fmt.Errorf("alias %q does not exist", i.alias))
		}
		i.initialized.Store(true)
	}
	if k <= 0 {
		return []domain.ScoredChunk{}, nil
	}

	vector, err := i.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	request := map[string]any{
		"vector":       vector,
		"limit":        k,
		"with_payload": true,
	}
	var response struct {
		Result []struct {
			Score   float64      `json:"score"`
			Payload pointPayload `json:"payload"`
		} `json:"result"`
	}
	if err := i.doWith(ctx, i.queryExec, http.MethodPost, "/collections/"+i.alias+"/points/search", request, &response, "search"); err != nil {
		if isNotFound(err) {
			i.initialized.Store(false)
			return nil, domain.WrapError(domain.ErrNotInitialized, "qdrant query", err)
		}
		return nil, err
	}

	out := make([]domain.ScoredChunk, 0, len(response.Result))
	for _, r := range response.Result {
		out = append(out, domain.ScoredChunk{
			Chunk: domain.Chunk{
				Source:  r.Payload.Source,
				Index:   r.Payload.ChunkIndex,
				Text:    r.Payload.Text,
				Start:   r.Payload.Start,
				End:     r.Payload.End,
				Overlap: r.Payload.Overlap,
			},
			Score: r.Score,
		})
	}
	return out, nil
}

func (i *Index) ReplaceAll(ctx context.Context, entries []domain.IndexedEntry) error {
	dim, err := vectorSize(entries)
	if err != nil {
		return err
	}

	i.writeMu.Lock()
	defer i.writeMu.Unlock()

	name := i.alias + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := i.createCollection(ctx, name, dim); err != nil {
		return err
	}
	if err := i.upsert(ctx, name, entries); err != nil {
		i.dropCollection(context.WithoutCancel(ctx), name)
		return err
	}

	previous, err := i.aliasTarget(ctx, i.executor)
	if err != nil {
		i.dropCollection(context.WithoutCancel(ctx), name)
		return err
	}
	if err := i.switchAlias(ctx, previous, name); err != nil {
		i.dropCollection(context.WithoutCancel(ctx), name)
		return err
	}
	i.initialized.Store(true)
	i.logger.InfoContext(ctx, "qdrant_snapshot_swapped", "alias", i.alias, "collection", name, "previous", previous, "points", len(entries))

	if previous != "" && previous != name {
		i.retire(previous)
	}
	return nil
}

// Close stops pending retirements and drops those collections right away.
func (i *Index) Close(ctx context.Context) {
	i.retireMu.Lock()
	pending := make([]string, 0, len(i.retiring))
	for name, timer := range i.retiring {
		if timer.Stop() {
			pending = append(pending, name)
		}
		delete(i.retiring, name)
	}
	i.retireMu.Unlock()

	for _, name := range pending {
		i.dropCollection(ctx, name)
	}
}

func (i *Index) createCollection(ctx context.Context, name string, dim int) error {
	request := map[string]any{
		"vectors": map[string]any{
			"size":     dim,
			"distance": "Cosine",
		},
	}
	if err := i.do(ctx, http.MethodPut, "/collections/"+name, request, nil, "create_collection"); err != nil {
		return fmt.Errorf("create snapshot collection: %w", err)
	}
	return nil
}

func (i *Index) upsert(ctx context.Context, name string, entries []domain.IndexedEntry) error {
	for start := 0; start < len(entries); start += i.batchSize {
		end := min(start+i.batchSize, len(entries))
		points := make([]point, 0, end-start)
		for _, entry := range entries[start:end] {
			points = append(points, point{
				ID:     uuid.NewString(),
				Vector: entry.Vector,
				Payload: pointPayload{
					Source:     entry.Chunk.Source,
					ChunkIndex: entry.Chunk.Index,
					Text:       entry.Chunk.Text,
					Start:      entry.Chunk.Start,
					End:        entry.Chunk.End,
					Overlap:    entry.Chunk.Overlap,
				},
			})
		}
		path := "/collections/" + name + "/points?wait=true"
		if err := i.do(ctx, http.MethodPut, path, map[string]any{"points": points}, nil, "upsert"); err != nil {
			return fmt.Errorf("upsert snapshot points: %w", err)
		}
	}
	return nil
}

func (i *Index) aliasTarget(ctx context.Context, executor *resilience.Executor) (string, error) {
	var response struct {
		Result struct {
			Aliases []struct {
				AliasName      string `json:"alias_name"`
				CollectionName string `json:"collection_name"`
			} `json:"aliases"`
		} `json:"result"`
	}
	if err := i.doWith(ctx, executor, http.MethodGet, "/aliases", nil, &response, "list_aliases"); err != nil {
		return "", fmt.Errorf("list aliases: %w", err)
	}
	for _, a := range response.Result.Aliases {
		if a.AliasName == i.alias {
			return a.CollectionName, nil
		}
	}
	return "", nil
}

func (i *Index) switchAlias(ctx context.Context, previous, next string) error {
	actions := make([]map[string]any, 0, 2)
	if previous != "" {
		actions = append(actions, map[string]any{
			"delete_alias": map[string]any{"alias_name": i.alias},
		})
	}
	actions = append(actions, map[string]any{
		"create_alias": map[string]any{"collection_name": next, "alias_name": i.alias},
	})
	if err := i.do(ctx, http.MethodPost, "/collections/aliases", map[string]any{"actions": actions}, nil, "switch_alias"); err != nil {
		return fmt.Errorf("switch alias: %w", err)
	}
	return nil
}

func (i *Index) retire(name string) {
	if i.retireDelay == 0 {
		i.dropCollection(context.Background(), name)
		return
	}

	i.retireMu.Lock()
	defer i.retireMu.Unlock()
	if _, ok := i.retiring[name]; ok {
		return
	}
	i.retiring[name] = time.AfterFunc(i.retireDelay, func() {
		i.retireMu.Lock()
		delete(i.retiring, name)
		i.retireMu.Unlock()
		i.dropCollection(context.Background(), name)
	})
}

func (i *Index) dropCollection(ctx context.Context, name string) {
	if err := i.do(ctx, http.MethodDelete, "/collections/"+name, nil, nil, "delete_collection"); err != nil && !isNotFound(err) {
		i.logger.WarnContext(ctx, "qdrant_delete_collection_failed", "collection", name, "error", err)
	}
}

func vectorSize(entries []domain.IndexedEntry) (int, error) {
	if len(entries) == 0 {
		return 1, nil
	}
	dim := len(entries[0].Vector)
	for n, entry := range entries {
		if len(entry.Vector) == 0 || len(entry.Vector) != dim {
			return 0, domain.WrapError(
				domain.ErrInvalidInput,
				"qdrant replace",
				fmt.Errorf("entry %d has vector size %d, expected %d", n, len(entry.Vector), dim),
			)
		}
	}
	return dim, nil
}

func isNotFound(err error) bool {
	var statusErr *resilience.StatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound
}
