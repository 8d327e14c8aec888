package reconcile_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragsync/internal/chunker"
	"ragsync/internal/domain"
	"ragsync/internal/embedding/hashing"
	apperrors "ragsync/internal/errors"
	"ragsync/internal/reconcile"
	"ragsync/internal/service"
	"ragsync/internal/source"
	"ragsync/internal/vectorstore"
	"ragsync/internal/vectorstore/memory"
)

type fileTextLoader struct{}

func (fileTextLoader) Load(_ context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	return string(data), err
}

type pages map[string]string

func (p pages) Load(_ context.Context, url string) (string, error) {
	if text, ok := p[url]; ok {
		return text, nil
	}
	return "", fmt.Errorf("404 %s", url)
}

type fixture struct {
	dir      string
	urlsFile string
	store    *memory.Storage
	rec      *reconcile.Reconciler
}

func newFixture(t *testing.T, replace bool, web pages) *fixture {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "pdfs")
	require.NoError(t, os.Mkdir(dir, 0o755))
	urlsFile := filepath.Join(t.TempDir(), "urls.txt")

	store := memory.NewStorage()
	ing := service.NewIngestor(fileTextLoader{}, web, chunker.NewCharacterChunker(1000, 200),
		hashing.NewEmbedder(64), store, service.IngestOptions{}, nil)
	rec := reconcile.New(source.NewLister(dir, "*.pdf", urlsFile), store, ing,
		reconcile.Options{ReplaceOnUpdate: replace, Parallelism: 4}, nil)
	return &fixture{dir: dir, urlsFile: urlsFile, store: store, rec: rec}
}

func (f *fixture) writePDF(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(f.dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func (f *fixture) writeURLs(t *testing.T, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(f.urlsFile, []byte(content), 0o644))
}

func (f *fixture) seed(t *testing.T, id, src, hash string) {
	t.Helper()
	meta := map[string]any{domain.MetaSource: src, domain.MetaText: "seeded"}
	if hash != "" {
		meta[domain.MetaHash] = hash
	}
	require.NoError(t, f.store.Add(context.Background(), []domain.IndexRecord{{ID: id, Vector: make([]float32, 64), Metadata: meta}}))
}

func decisions(p *reconcile.Plan) map[string]domain.Decision {
	out := map[string]domain.Decision{}
	for _, d := range p.Decisions {
		out[d.Source.ID] = d.Decision
	}
	return out
}

func TestSync_MixedSourcesScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true, pages{"http://x/y": "page body"})
	a := f.writePDF(t, "a.pdf", "alpha document")
	b := f.writePDF(t, "b.pdf", "beta document")
	f.writeURLs(t, "http://x/y\n")
	f.seed(t, "a-1", a, source.HashBytes([]byte("alpha document")))
	f.seed(t, "web-1", "http://x/y", "")

	report, err := f.rec.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]domain.Decision{
		a:            domain.DecisionSkip,
		b:            domain.DecisionAdd,
		"http://x/y": domain.DecisionSkip,
	}, decisions(report.Plan))
	require.Len(t, report.Ingested, 1)
	assert.Equal(t, b, report.Ingested[0].Source.ID)

	cleanup, err := f.rec.Cleanup(ctx)
	require.NoError(t, err)
	assert.Empty(t, cleanup.Scheduled)
	assert.Zero(t, cleanup.Total())
}

func TestCleanup_RemovesVanishedSource(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true, nil)
	old := filepath.Join(f.dir, "old.pdf")
	keep := f.writePDF(t, "keep.pdf", "still here")
	f.writeURLs(t, "https://unrelated.example\n")
	f.seed(t, "old-1", old, "h1")
	f.seed(t, "old-2", old, "h1")
	f.seed(t, "keep-1", keep, "h2")

	report, err := f.rec.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{old}, report.Scheduled)
	assert.Equal(t, 2, report.Total())

	left, err := f.store.Query(ctx, domain.Query{Source: old})
	require.NoError(t, err)
	assert.Empty(t, left)
	kept, err := f.store.Query(ctx, domain.Query{Source: keep})
	require.NoError(t, err)
	assert.Len(t, kept, 1)
}

func TestSync_UpdateStoresNewHash(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true, nil)
	p := f.writePDF(t, "a.pdf", "version one")

	_, err := f.rec.Sync(ctx)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(p, []byte("version two"), 0o644))
	report, err := f.rec.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionUpdate, decisions(report.Plan)[p])

	prior, err := vectorstore.LookupBySource(ctx, f.store, p, 0)
	require.NoError(t, err)
	require.NotNil(t, prior)
	assert.Equal(t, source.HashBytes([]byte("version two")), prior.Hash)
	assert.Equal(t, 1, f.store.Len())

	again, err := f.rec.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionSkip, decisions(again.Plan)[p])
	assert.Empty(t, again.Ingested)
}

func TestSync_LegacyModeKeepsStaleRecords(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false, nil)
	p := f.writePDF(t, "a.pdf", "version one")
	_, err := f.rec.Sync(ctx)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(p, []byte("version two"), 0o644))
	_, err = f.rec.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, f.store.Len())
}

func TestSync_LegacyModeManyChunksSettlesToSkip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false, nil)
	long := func(word string) string {
		var b strings.Builder
		for i := range 600 {
			fmt.Fprintf(&b, "%s sentence number %d is here. ", word, i)
		}
		return b.String()
	}
	p := f.writePDF(t, "a.pdf", long("first"))

	first, err := f.rec.Sync(ctx)
	require.NoError(t, err)
	require.Len(t, first.Ingested, 1)
	perIngest := f.store.Len()
	require.Greater(t, perIngest, 10)

	require.NoError(t, os.WriteFile(p, []byte(long("second")), 0o644))
	second, err := f.rec.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionUpdate, decisions(second.Plan)[p])
	grown := f.store.Len()

	third, err := f.rec.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionSkip, decisions(third.Plan)[p])
	assert.Empty(t, third.Ingested)
	assert.Equal(t, grown, f.store.Len())
}

func TestSync_LogsEveryDecisionOnce(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "pdfs")
	require.NoError(t, os.Mkdir(dir, 0o755))
	urlsFile := filepath.Join(t.TempDir(), "urls.txt")
	require.NoError(t, os.WriteFile(urlsFile, []byte("https://w\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.pdf"), []byte("alpha"), 0o644))

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	store := memory.NewStorage()
	ing := service.NewIngestor(fileTextLoader{}, pages{"https://w": "web"}, chunker.NewCharacterChunker(1000, 200),
		hashing.NewEmbedder(64), store, service.IngestOptions{}, nil)
	rec := reconcile.New(source.NewLister(dir, "*.pdf", urlsFile), store, ing, reconcile.Options{}, logger)

	_, err := rec.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(buf.String(), "source classified"))

	buf.Reset()
	_, err = rec.Sync(ctx)
	require.NoError(t, err)
	out := buf.String()
	assert.Equal(t, 2, strings.Count(out, "source classified"))
	assert.Equal(t, 2, strings.Count(out, "decision=unchanged"))
}

func TestSync_AbsentHashCountsAsChanged(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true, nil)
	p := f.writePDF(t, "a.pdf", "content")
	f.seed(t, "legacy", p, "")

	report, err := f.rec.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionUpdate, decisions(report.Plan)[p])
}

func TestSync_WebSourceSkippedForever(t *testing.T) {
	ctx := context.Background()
	web := pages{"https://w": "first body"}
	f := newFixture(t, true, web)
	f.writeURLs(t, "'https://w'\n")

	first, err := f.rec.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionAdd, decisions(first.Plan)["https://w"])

	web["https://w"] = "completely different body"
	second, err := f.rec.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionSkip, decisions(second.Plan)["https://w"])
	assert.Equal(t, 1, f.store.Len())
}

func TestSync_PerSourceFailureIsIsolated(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true, pages{})
	good := f.writePDF(t, "good.pdf", "fine")
	f.writeURLs(t, "https://broken\n")

	report, err := f.rec.Sync(ctx)
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindLoad))
	require.Len(t, report.Ingested, 2)
	assert.Equal(t, good, report.Ingested[0].Source.ID)
	assert.NoError(t, report.Ingested[0].Err)
	assert.Error(t, report.Ingested[1].Err)
	assert.Equal(t, 1, f.store.Len())
}

func TestSync_MissingDirectoryIsConfigError(t *testing.T) {
	f := newFixture(t, true, nil)
	require.NoError(t, os.Remove(f.dir))
	_, err := f.rec.Sync(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindConfig))
}

func TestDeleteSource_UnknownIsNoop(t *testing.T) {
	f := newFixture(t, true, nil)
	f.seed(t, "1", "a.pdf", "h")
	n, err := f.rec.DeleteSource(context.Background(), "never-indexed.pdf")
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, f.store.Len())
}

func TestRun_DeleteShortCircuits(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true, nil)
	f.writePDF(t, "new.pdf", "would be added by sync")
	f.seed(t, "1", "gone.pdf", "h")
	f.seed(t, "2", "gone.pdf", "h")

	report, err := f.rec.Run(ctx, reconcile.RunOptions{Delete: "gone.pdf", Cleanup: true, Sync: true})
	require.NoError(t, err)
	require.NotNil(t, report.Deleted)
	assert.Equal(t, 2, report.Deleted.Deleted)
	assert.Nil(t, report.Sync)
	assert.Nil(t, report.Cleanup)
	assert.Equal(t, 0, f.store.Len())
}

func TestRun_CleanupThenSync(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true, nil)
	a := f.writePDF(t, "a.pdf", "alpha")
	f.seed(t, "stale", "removed.pdf", "h")

	report, err := f.rec.Run(ctx, reconcile.RunOptions{Cleanup: true, Sync: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"removed.pdf"}, report.Cleanup.Scheduled)
	require.Len(t, report.Sync.Ingested, 1)
	assert.Equal(t, a, report.Sync.Ingested[0].Source.ID)
	assert.Equal(t, 1, f.store.Len())
}

func TestPlanCleanup(t *testing.T) {
	scan := []domain.RecordSummary{
		{Source: "a.pdf"}, {Source: "a.pdf"}, {Source: "z.pdf"},
		{Source: "http://x/y"}, {Source: "http://gone"}, {Source: ""}, {Source: "m.pdf"},
	}
	got := reconcile.PlanCleanup([]string{"a.pdf"}, []string{"http://x/y"}, scan)
	assert.Equal(t, []string{"http://gone", "m.pdf", "z.pdf"}, got)

	assert.Empty(t, reconcile.PlanCleanup(nil, nil, nil))
}

func TestPlanCleanup_NeverSchedulesCurrentSources(t *testing.T) {
	files := []string{"a.pdf", "b.pdf"}
	urls := []string{"https://u"}
	var scan []domain.RecordSummary
	for _, s := range append(append([]string{}, files...), urls...) {
		scan = append(scan, domain.RecordSummary{Source: s})
	}
	assert.Empty(t, reconcile.PlanCleanup(files, urls, scan))
}

type brokenStore struct{ *memory.Storage }

func (brokenStore) Query(context.Context, domain.Query) ([]domain.Match, error) {
	return nil, errors.New("index down")
}

func TestPlanner_RecordsLookupFailurePerSource(t *testing.T) {
	planner := reconcile.NewSyncPlanner(brokenStore{memory.NewStorage()}, reconcile.PlannerOptions{Parallelism: 2})
	plan := planner.Plan(context.Background(), domain.WebSources([]string{"https://a", "https://b"}))
	require.Len(t, plan.Decisions, 2)
	assert.Equal(t, "https://a", plan.Decisions[0].Source.ID)
	assert.Equal(t, "https://b", plan.Decisions[1].Source.ID)
	for _, d := range plan.Decisions {
		assert.True(t, apperrors.IsKind(d.Err, apperrors.KindRetrieval))
	}
	assert.Empty(t, plan.ToIngest())
	assert.Error(t, plan.Err())
}

func TestPlanner_PreservesInputOrder(t *testing.T) {
	store := memory.NewStorage()
	require.NoError(t, store.Add(context.Background(), []domain.IndexRecord{
		{ID: "1", Vector: []float32{1}, Metadata: map[string]any{domain.MetaSource: "https://s3"}},
	}))
	ids := []string{"https://s1", "https://s2", "https://s3", "https://s4", "https://s5"}
	plan := reconcile.NewSyncPlanner(store, reconcile.PlannerOptions{Parallelism: 3}).
		Plan(context.Background(), domain.WebSources(ids))

	var order []string
	for _, d := range plan.Decisions {
		order = append(order, d.Source.ID)
	}
	assert.Equal(t, ids, order)
	assert.Equal(t, 4, plan.Count(domain.DecisionAdd))
	assert.Equal(t, 1, plan.Count(domain.DecisionSkip))

	var toIngest []string
	for _, d := range plan.ToIngest() {
		toIngest = append(toIngest, d.Source.ID)
	}
	assert.Equal(t, []string{"https://s1", "https://s2", "https://s4", "https://s5"}, toIngest)
}

func TestRunLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "locks", "ragsync.lock")
	l := reconcile.NewRunLock(path)
	assert.Equal(t, path, l.Path())
	require.NoError(t, l.Lock(context.Background()))
	_, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, l.Unlock())
	require.NoError(t, l.Unlock())

	noop := reconcile.NewRunLock("")
	assert.NoError(t, noop.Lock(context.Background()))
	assert.NoError(t, noop.Unlock())
}
