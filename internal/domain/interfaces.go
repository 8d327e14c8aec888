package domain

import (
	"context"
	"time"
)

// SourceKind distinguishes local files from web pages.
type SourceKind int

const (
	// KindFile is a local file whose bytes can be hashed for change detection.
	KindFile SourceKind = iota
	// KindWeb is a URL. Its content may change without being detected.
	KindWeb
)

// String returns "file" or "web".
func (k SourceKind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindWeb:
		return "web"
	default:
		return "unknown"
	}
}

// Source is a logical document origin: a file path or a URL.
// One source maps to many index records, one per chunk.
type Source struct {
	ID   string
	Kind SourceKind
}

// FileSources wraps paths as file sources.
func FileSources(paths []string) []Source {
	out := make([]Source, len(paths))
	for i, p := range paths {
		out[i] = Source{ID: p, Kind: KindFile}
	}
	return out
}

// WebSources wraps URLs as web sources.
func WebSources(urls []string) []Source {
	out := make([]Source, len(urls))
	for i, u := range urls {
		out[i] = Source{ID: u, Kind: KindWeb}
	}
	return out
}

// Metadata keys stored with every index record.
const (
	MetaSource     = "source"
	MetaTimestamp  = "timestamp"
	MetaHash       = "hash"
	MetaText       = "text"
	MetaStartIndex = "start_index"
)

// IndexRecord is one stored embedding plus metadata, addressable by ID.
type IndexRecord struct {
	ID       string
	Vector   []float32
	Metadata map[string]any
}

// Match is a record returned by a metadata query, without its vector.
type Match struct {
	ID       string
	Metadata map[string]any
}

// Summary extracts the reconciliation-relevant metadata of a match.
func (m Match) Summary() RecordSummary {
	return RecordSummary{
		ID:        m.ID,
		Source:    MetaString(m.Metadata, MetaSource),
		Hash:      MetaString(m.Metadata, MetaHash),
		Timestamp: MetaString(m.Metadata, MetaTimestamp),
	}
}

// RecordSummary is the metadata view of one indexed record.
// Hash is empty for web sources and for records written without one.
type RecordSummary struct {
	ID        string
	Source    string
	Hash      string
	Timestamp string
}

// Query selects records by metadata. An empty Source means no filter.
type Query struct {
	Source string
	TopK   int
}

// Chunk is a bounded slice of a source's text, the unit that gets embedded.
type Chunk struct {
	Source     string
	Text       string
	Index      int
	StartIndex int
}

// SearchResult is a chunk returned by similarity search.
type SearchResult struct {
	ID     string
	Source string
	Text   string
	Score  float64
}

// Decision is the outcome of change detection for one source.
type Decision int

const (
	DecisionSkip Decision = iota
	DecisionAdd
	DecisionUpdate
)

// String returns the label printed in sync reports.
func (d Decision) String() string {
	switch d {
	case DecisionSkip:
		return "unchanged"
	case DecisionAdd:
		return "new"
	case DecisionUpdate:
		return "updated"
	default:
		return "unknown"
	}
}

// Embedder converts free text into vectors.
type Embedder interface {
	Name() string
	Dimensions() int
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Chunker splits document text into overlapping chunks.
type Chunker interface {
	Chunk(source, text string) ([]Chunk, error)
}

// Loader fetches the raw text of a source.
type Loader interface {
	Load(ctx context.Context, id string) (string, error)
}

// SnapshotLoader extracts text from file bytes the caller already read, so
// the extracted text and the content hash describe the same snapshot.
type SnapshotLoader interface {
	LoadBytes(ctx context.Context, id string, data []byte) (string, error)
}

// Generator answers a question from retrieved context.
type Generator interface {
	Generate(ctx context.Context, question string, contexts []string) (string, error)
}

// Clock returns the current time. Tests substitute a fixed clock.
type Clock func() time.Time

// MetaString returns m[key] as a string, or "" when missing or not a string.
func MetaString(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}
