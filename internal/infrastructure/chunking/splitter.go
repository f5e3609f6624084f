package chunking

import "github.com/kirillkom/hybrid-rag-agent/internal/core/domain"

const (
	DefaultChunkSize    = 500
	DefaultChunkOverlap = 50
)

// boundaryLevels are tried in order; separators within one level compete on position.
var boundaryLevels = [][]string{
	{"\n\n"},
	{"\n"},
	{". ", "! ", "? "},
	{" "},
}

// Splitter cuts text into windows of at most ChunkSize runes. Each window after
// the first repeats up to Overlap trailing runes of its predecessor, and that
// count is recorded on the chunk so the document can be reassembled exactly.
type Splitter struct {
	ChunkSize int
	Overlap   int

	levels [][][]rune
}

func NewSplitter(chunkSize, overlap int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		overlap = chunkSize / 4
	}

	levels := make([][][]rune, 0, len(boundaryLevels))
	for _, level := range boundaryLevels {
		seps := make([][]rune, 0, len(level))
		for _, sep := range level {
			seps = append(seps, []rune(sep))
		}
		levels = append(levels, seps)
	}

	return &Splitter{
		ChunkSize: chunkSize,
		Overlap:   overlap,
		levels:    levels,
	}
}

func (s *Splitter) Split(doc domain.Document) []domain.Chunk {
	runes := []rune(doc.Text)
	n := len(runes)
	if n == 0 {
		return nil
	}

	out := make([]domain.Chunk, 0, n/s.ChunkSize+1)
	start, overlap := 0, 0
	for {
		end := n
		if maxEnd := start + s.ChunkSize; maxEnd < n {
			end = s.cut(runes, start, start+overlap, maxEnd)
		}

		out = append(out, domain.Chunk{
			Source:  doc.Source,
			Index:   len(out),
			Text:    string(runes[start:end]),
			Start:   start,
			End:     end,
			Overlap: overlap,
		})
		if end == n {
			return out
		}

		overlap = min(s.Overlap, end-start)
		start = end - overlap
	}
}

// cut returns the end of the chunk that starts at start. The result is always
// in (fresh, maxEnd] so every chunk contributes at least one new rune.
func (s *Splitter) cut(runes []rune, start, fresh, maxEnd int) int {
	for _, level := range s.levels {
		best := -1
		for _, sep := range level {
			if p := lastBoundary(runes, start, fresh, maxEnd, sep); p > best {
				best = p
			}
		}
		if best > 0 {
			return best
		}
	}
	return maxEnd
}

// lastBoundary finds the rightmost position just after sep such that sep lies
// inside runes[start:maxEnd] and the position is beyond fresh. It returns -1
// when there is none.
func lastBoundary(runes []rune, start, fresh, maxEnd int, sep []rune) int {
	for i := maxEnd - len(sep); i >= start && i+len(sep) > fresh; i-- {
		if matchAt(runes, i, sep) {
			return i + len(sep)
		}
	}
	return -1
}

func matchAt(runes []rune, i int, sep []rune) bool {
	for j, r := range sep {
		if runes[i+j] != r {
			return false
		}
	}
	return true
}
