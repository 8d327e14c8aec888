package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragsync/internal/chunker"
	"ragsync/internal/domain"
	"ragsync/internal/embedding/hashing"
	apperrors "ragsync/internal/errors"
	"ragsync/internal/source"
	"ragsync/internal/vectorstore/memory"
)

type fileTextLoader struct{}

func (fileTextLoader) Load(_ context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

type staticLoader map[string]string

func (s staticLoader) Load(_ context.Context, id string) (string, error) {
	text, ok := s[id]
	if !ok {
		return "", fmt.Errorf("no page %s", id)
	}
	return text, nil
}

// rewritingLoader extracts text from the snapshot it is given and then
// overwrites the file on disk, as a concurrent editor would.
type rewritingLoader struct{ replacement string }

func (rewritingLoader) Load(context.Context, string) (string, error) {
	return "", errors.New("snapshot loads only")
}

func (r rewritingLoader) LoadBytes(_ context.Context, path string, data []byte) (string, error) {
	if err := os.WriteFile(path, []byte(r.replacement), 0o644); err != nil {
		return "", err
	}
	return string(data), nil
}

type failingEmbedder struct{ *hashing.Embedder }

func (failingEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("quota exceeded")
}

var fixedNow = time.Date(2025, 3, 4, 5, 6, 7, 8000, time.UTC)

func newIngestor(store *memory.Storage, web staticLoader) *Ingestor {
	ing := NewIngestor(fileTextLoader{}, web, chunker.NewCharacterChunker(40, 10), hashing.NewEmbedder(256), store, IngestOptions{}, nil)
	ing.now = func() time.Time { return fixedNow }
	return ing
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestIngestor_FileRecordsCarryMetadata(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStorage()
	path := writeFile(t, t.TempDir(), "a.pdf", "first sentence of the file. second sentence follows here. third one ends it.")

	n, err := newIngestor(store, nil).Ingest(ctx, domain.Source{ID: path, Kind: domain.KindFile}, false)
	require.NoError(t, err)
	require.Greater(t, n, 1)
	assert.Equal(t, n, store.Len())

	matches, err := store.Query(ctx, domain.Query{Source: path})
	require.NoError(t, err)
	wantHash, _ := source.HashFile(path)
	ids := map[string]struct{}{}
	for _, m := range matches {
		ids[m.ID] = struct{}{}
		assert.Equal(t, path, m.Metadata[domain.MetaSource])
		assert.Equal(t, wantHash, m.Metadata[domain.MetaHash])
		assert.Equal(t, "2025-03-04T05:06:07.000008Z", m.Metadata[domain.MetaTimestamp])
		assert.NotEmpty(t, m.Metadata[domain.MetaText])
		assert.IsType(t, 0, m.Metadata[domain.MetaStartIndex])
	}
	assert.Len(t, ids, n, "record ids must be unique")
}

func TestIngestor_HashMatchesExtractedSnapshot(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStorage()
	original := "the original body of the document."
	path := writeFile(t, t.TempDir(), "a.pdf", original)

	ing := NewIngestor(rewritingLoader{replacement: "edited while loading"}, nil,
		chunker.NewCharacterChunker(1000, 200), hashing.NewEmbedder(64), store, IngestOptions{}, nil)
	n, err := ing.Ingest(ctx, domain.Source{ID: path, Kind: domain.KindFile}, false)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	matches, err := store.Query(ctx, domain.Query{Source: path})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, original, matches[0].Metadata[domain.MetaText])
	assert.Equal(t, source.HashBytes([]byte(original)), matches[0].Metadata[domain.MetaHash])
}

func TestIngestor_WebRecordsHaveNoHash(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStorage()
	url := "https://example.com/page"
	n, err := newIngestor(store, staticLoader{url: "web page text"}).Ingest(ctx, domain.Source{ID: url, Kind: domain.KindWeb}, false)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	matches, _ := store.Query(ctx, domain.Query{Source: url})
	require.Len(t, matches, 1)
	_, hasHash := matches[0].Metadata[domain.MetaHash]
	assert.False(t, hasHash)
}

func TestIngestor_ReplaceRemovesPriorRecords(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStorage()
	dir := t.TempDir()
	path := writeFile(t, dir, "a.pdf", "old content")
	other := writeFile(t, dir, "b.pdf", "unrelated")
	ing := newIngestor(store, nil)

	_, err := ing.Ingest(ctx, domain.Source{ID: path, Kind: domain.KindFile}, false)
	require.NoError(t, err)
	_, err = ing.Ingest(ctx, domain.Source{ID: other, Kind: domain.KindFile}, false)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("new content"), 0o644))
	_, err = ing.Ingest(ctx, domain.Source{ID: path, Kind: domain.KindFile}, true)
	require.NoError(t, err)

	matches, _ := store.Query(ctx, domain.Query{Source: path})
	require.Len(t, matches, 1)
	assert.Equal(t, "new content", matches[0].Metadata[domain.MetaText])
	assert.Equal(t, source.HashBytes([]byte("new content")), matches[0].Metadata[domain.MetaHash])

	others, _ := store.Query(ctx, domain.Query{Source: other})
	assert.Len(t, others, 1)
}

func TestIngestor_WithoutReplaceKeepsDuplicates(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStorage()
	path := writeFile(t, t.TempDir(), "a.pdf", "v1")
	ing := newIngestor(store, nil)
	src := domain.Source{ID: path, Kind: domain.KindFile}

	_, err := ing.Ingest(ctx, src, false)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte("v2"), 0o644))
	_, err = ing.Ingest(ctx, src, false)
	require.NoError(t, err)
	assert.Equal(t, 2, store.Len())
}

func TestIngestor_EmbedFailureLeavesIndexUntouched(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStorage()
	path := writeFile(t, t.TempDir(), "a.pdf", "v1")
	ing := newIngestor(store, nil)
	src := domain.Source{ID: path, Kind: domain.KindFile}
	_, err := ing.Ingest(ctx, src, false)
	require.NoError(t, err)

	ing.embedder = failingEmbedder{hashing.NewEmbedder(256)}
	_, err = ing.Ingest(ctx, src, true)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeEmbeddingFailed, apperrors.GetCode(err))
	assert.Equal(t, 1, store.Len(), "prior records survive a failed re-ingest")
}

func TestIngestor_LoadFailure(t *testing.T) {
	_, err := newIngestor(memory.NewStorage(), staticLoader{}).
		Ingest(context.Background(), domain.Source{ID: "https://gone", Kind: domain.KindWeb}, false)
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindLoad))
}

type recordingGenerator struct {
	question string
	contexts []string
}

func (g *recordingGenerator) Generate(_ context.Context, question string, contexts []string) (string, error) {
	g.question, g.contexts = question, contexts
	return "generated answer", nil
}

func TestQueryService_AskRetrievesAndGenerates(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStorage()
	web := staticLoader{
		"https://a": "smart campaigns trigger on form fills",
		"https://b": "invoices export monthly to finance",
	}
	ing := newIngestor(store, web)
	for id := range web {
		_, err := ing.Ingest(ctx, domain.Source{ID: id, Kind: domain.KindWeb}, false)
		require.NoError(t, err)
	}

	gen := &recordingGenerator{}
	qs := NewQueryService(hashing.NewEmbedder(256), store, gen, 0, time.Second, nil)
	ans, err := qs.Ask(ctx, "  when do smart campaigns trigger?  ")
	require.NoError(t, err)
	assert.Equal(t, "generated answer", ans.Answer)
	assert.Equal(t, []string{"https://a"}, ans.Documents)
	assert.Equal(t, "when do smart campaigns trigger?", gen.question)
	assert.Equal(t, []string{"smart campaigns trigger on form fills"}, gen.contexts)
}

func TestQueryService_DistinctDocuments(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStorage()
	require.NoError(t, store.Add(ctx, []domain.IndexRecord{
		{ID: "1", Vector: []float32{1, 0}, Metadata: map[string]any{domain.MetaSource: "a.pdf", domain.MetaText: "x"}},
		{ID: "2", Vector: []float32{1, 0.1}, Metadata: map[string]any{domain.MetaSource: "a.pdf", domain.MetaText: "y"}},
		{ID: "3", Vector: []float32{1, 0.2}, Metadata: map[string]any{domain.MetaSource: "b.pdf", domain.MetaText: "z"}},
	}))
	qs := NewQueryService(constEmbedder{1, 0}, store, &recordingGenerator{}, 3, 0, nil)
	ans, err := qs.Ask(ctx, "q")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.pdf", "b.pdf"}, ans.Documents)
}

func TestQueryService_EmptyQuestion(t *testing.T) {
	qs := NewQueryService(hashing.NewEmbedder(8), memory.NewStorage(), &recordingGenerator{}, 1, 0, nil)
	_, err := qs.Ask(context.Background(), "   ")
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))
}

func TestQueryService_EmptyIndex(t *testing.T) {
	gen := &recordingGenerator{}
	qs := NewQueryService(hashing.NewEmbedder(8), memory.NewStorage(), gen, 1, 0, nil)
	ans, err := qs.Ask(context.Background(), "anything")
	require.NoError(t, err)
	assert.Empty(t, ans.Documents)
	assert.NotNil(t, ans.Documents)
	assert.Empty(t, gen.contexts)
}

type constEmbedder []float32

func (c constEmbedder) Name() string    { return "const" }
func (c constEmbedder) Dimensions() int { return len(c) }
func (c constEmbedder) Embed(context.Context, string) ([]float32, error) {
	return c, nil
}
func (c constEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = c
	}
	return out, nil
}
