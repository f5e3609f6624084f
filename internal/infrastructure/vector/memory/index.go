package memory

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/kirillkom/hybrid-rag-agent/internal/core/domain"
	"github.com/kirillkom/hybrid-rag-agent/internal/core/ports"
)

// Index is an in-process document index. Every ReplaceAll builds a new
// immutable snapshot and publishes it with a single pointer swap, so a query
// always scores against exactly one complete snapshot.
type Index struct {
	embedder ports.Embedder
	store    *SnapshotStore

	current atomic.Pointer[snapshot]
	writeMu sync.Mutex
}

type snapshot struct {
	entries []domain.IndexedEntry
	norms   []float64
}

// New returns an index. When store is not nil, the last persisted snapshot is
// loaded so the index survives restarts.
func New(embedder ports.Embedder, store *SnapshotStore) (*Index, error) {
	idx := &Index{embedder: embedder, store: store}
	if store == nil {
		return idx, nil
	}

	entries, ok, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load index snapshot: %w", err)
	}
	if ok {
		snap, err := newSnapshot(entries)
		if err != nil {
			return nil, fmt.Errorf("load index snapshot: %w", err)
		}
		idx.current.Store(snap)
	}
	return idx, nil
}

func (i *Index) ReplaceAll(ctx context.Context, entries []domain.IndexedEntry) error {
	snap, err := newSnapshot(entries)
	if err != nil {
		return err
	}

	i.writeMu.Lock()
	defer i.writeMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if i.store != nil {
		if err := i.store.Save(snap.entries); err != nil {
			return fmt.Errorf("persist index snapshot: %w", err)
		}
	}
	i.current.Store(snap)
	return nil
}

func (i *Index) Query(ctx context.Context, text string, k int) ([]domain.ScoredChunk, error) {
	snap := i.current.Load()
	if snap == nil {
		return nil, domain.WrapError(domain.ErrNotInitialized, "memory index query", errors.New("no snapshot has been built"))
	}
	if k <= 0 || len(snap.entries) == 0 {
		return []domain.ScoredChunk{}, nil
	}

	query, err := i.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return snap.search(query, k), nil
}

// Size reports the number of entries in the current snapshot and whether one exists.
func (i *Index) Size() (int, bool) {
	snap := i.current.Load()
	if snap == nil {
		return 0, false
	}
	return len(snap.entries), true
}

func newSnapshot(entries []domain.IndexedEntry) (*snapshot, error) {
	snap := &snapshot{
		entries: make([]domain.IndexedEntry, len(entries)),
		norms:   make([]float64, len(entries)),
	}
	dim := -1
	for n, entry := range entries {
		if len(entry.Vector) == 0 {
			return nil, domain.WrapError(domain.ErrInvalidInput, "build snapshot", fmt.Errorf("entry %d has an empty vector", n))
		}
		if dim == -1 {
			dim = len(entry.Vector)
		} else if len(entry.Vector) != dim {
			return nil, domain.WrapError(
				domain.ErrInvalidInput,
				"build snapshot",
				fmt.Errorf("vector dimension mismatch: expected %d, got %d", dim, len(entry.Vector)),
			)
		}
		vector := make([]float32, len(entry.Vector))
		copy(vector, entry.Vector)
		snap.entries[n] = domain.IndexedEntry{Chunk: entry.Chunk, Vector: vector}
		snap.norms[n] = norm(vector)
	}
	return snap, nil
}

func (s *snapshot) search(query []float32, k int) []domain.ScoredChunk {
	queryNorm := norm(query)
	scored := make([]domain.ScoredChunk, 0, len(s.entries))
	for n, entry := range s.entries {
		scored = append(scored, domain.ScoredChunk{
			Chunk: entry.Chunk,
			Score: cosine(query, entry.Vector, queryNorm, s.norms[n]),
		})
	}
	sort.SliceStable(scored, func(a, b int) bool {
		return scored[a].Score > scored[b].Score
	})
	if k < len(scored) {
		scored = scored[:k]
	}
	return scored
}

func cosine(a, b []float32, normA, normB float64) float64 {
	if normA == 0 || normB == 0 || len(a) != len(b) {
		return 0
	}
	var dot float64
	for n := range a {
		dot += float64(a[n]) * float64(b[n])
	}
	return dot / (normA * normB)
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}
