package domain

import "time"

// Document is the raw text of one source file as seen by ingestion.
type Document struct {
	Source string `json:"source"`
	Text   string `json:"text"`
}

// Chunk is a contiguous window of a Document. Start and End are rune offsets
// into the document text; Overlap is the number of leading runes shared with
// the previous chunk of the same document.
type Chunk struct {
	Source  string `json:"source"`
	Index   int    `json:"index"`
	Text    string `json:"text"`
	Start   int    `json:"start"`
	End     int    `json:"end"`
	Overlap int    `json:"overlap"`
}

// Fresh returns the part of the chunk that is not shared with its predecessor.
func (c Chunk) Fresh() string {
	runes := []rune(c.Text)
	if c.Overlap <= 0 {
		return c.Text
	}
	if c.Overlap >= len(runes) {
		return ""
	}
	return string(runes[c.Overlap:])
}

type IndexedEntry struct {
	Chunk  Chunk     `json:"chunk"`
	Vector []float32 `json:"vector"`
}

type ScoredChunk struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
}

type UploadStatus string

const (
	StatusUploaded UploadStatus = "uploaded"
	StatusIndexing UploadStatus = "indexing"
	StatusIndexed  UploadStatus = "indexed"
	StatusFailed   UploadStatus = "failed"
)

// Upload is the ledger record of a user-submitted file.
type Upload struct {
	ID          string       `json:"id"`
	Filename    string       `json:"filename"`
	MimeType    string       `json:"mime_type"`
	StoragePath string       `json:"storage_path"`
	Status      UploadStatus `json:"status"`
	Error       string       `json:"error,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

type IndexReport struct {
	Documents int       `json:"documents"`
	Chunks    int       `json:"chunks"`
	Sources   []string  `json:"sources"`
	BuiltAt   time.Time `json:"built_at"`
}

func (r IndexReport) Contains(source string) bool {
	for _, s := range r.Sources {
		if s == source {
			return true
		}
	}
	return false
}
