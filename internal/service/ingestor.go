package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"ragsync/internal/domain"
	apperrors "ragsync/internal/errors"
	"ragsync/internal/source"
	"ragsync/internal/vectorstore"
)

// DefaultEmbedBatchSize is how many chunks are sent per embedding call.
const DefaultEmbedBatchSize = 64

// IngestOptions tunes Ingestor.
type IngestOptions struct {
	EmbedBatchSize int
	ScanLimit      int
	CallTimeout    time.Duration
}

// Ingestor turns one source into embedded chunk records in the index.
type Ingestor struct {
	loaders  map[domain.SourceKind]domain.Loader
	chunker  domain.Chunker
	embedder domain.Embedder
	store    vectorstore.Storage
	opts     IngestOptions
	logger   *slog.Logger

	now      domain.Clock
	newID    func() string
	readFile func(string) ([]byte, error)
}

func NewIngestor(fileLoader, webLoader domain.Loader, chunker domain.Chunker, embedder domain.Embedder, store vectorstore.Storage, opts IngestOptions, logger *slog.Logger) *Ingestor {
	if opts.EmbedBatchSize <= 0 {
		opts.EmbedBatchSize = DefaultEmbedBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{
		loaders: map[domain.SourceKind]domain.Loader{
			domain.KindFile: fileLoader,
			domain.KindWeb:  webLoader,
		},
		chunker:  chunker,
		embedder: embedder,
		store:    store,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
		newID:    uuid.NewString,
		readFile: os.ReadFile,
	}
}

// Ingest loads, chunks and embeds src, then writes one record per chunk.
// With replace set, prior records of src are deleted after embedding
// succeeds and before the new records are written.
func (s *Ingestor) Ingest(ctx context.Context, src domain.Source, replace bool) (int, error) {
	loader := s.loaders[src.Kind]
	if loader == nil {
		return 0, apperrors.ConfigError(fmt.Sprintf("no loader for %s sources", src.Kind), nil)
	}

	var (
		text, hash string
		err        error
	)
	if src.Kind == domain.KindFile {
		text, hash, err = s.loadFile(ctx, loader, src.ID)
	} else {
		text, err = s.load(ctx, src.ID, loader.Load)
	}
	if err != nil {
		return 0, err
	}

	chunks, err := s.chunker.Chunk(src.ID, text)
	if err != nil {
		return 0, apperrors.IngestError("chunk text", err).WithDetail("source", src.ID)
	}
	if len(chunks) == 0 {
		s.logger.Warn("no text extracted", slog.String("source", src.ID))
	}

	vectors, err := s.embed(ctx, chunks)
	if err != nil {
		return 0, apperrors.New(apperrors.ErrCodeEmbeddingFailed, "embed chunks", err).WithDetail("source", src.ID)
	}

	if replace {
		n, err := vectorstore.DeleteBySource(ctx, s.store, src.ID, s.opts.ScanLimit)
		if err != nil {
			return 0, err
		}
		s.logger.Debug("removed prior records", slog.String("source", src.ID), slog.Int("records", n))
	}
	if len(chunks) == 0 {
		return 0, nil
	}

	ts := s.now().UTC().Format(time.RFC3339Nano)
	records := make([]domain.IndexRecord, len(chunks))
	for i, ch := range chunks {
		meta := map[string]any{
			domain.MetaSource:     src.ID,
			domain.MetaTimestamp:  ts,
			domain.MetaText:       ch.Text,
			domain.MetaStartIndex: ch.StartIndex,
		}
		if hash != "" {
			meta[domain.MetaHash] = hash
		}
		records[i] = domain.IndexRecord{ID: s.newID(), Vector: vectors[i], Metadata: meta}
	}

	if err := s.store.Add(ctx, records); err != nil {
		return 0, apperrors.IngestError("write records", err).WithDetail("source", src.ID)
	}
	return len(records), nil
}

// loadFile returns the text of a file source and the hash of the bytes it
// was extracted from. Loaders without snapshot support read the file
// themselves, so the hash is taken only after they succeed.
func (s *Ingestor) loadFile(ctx context.Context, loader domain.Loader, path string) (string, string, error) {
	snap, ok := loader.(domain.SnapshotLoader)
	if !ok {
		text, err := s.load(ctx, path, loader.Load)
		if err != nil {
			return "", "", err
		}
		data, err := s.read(path)
		if err != nil {
			return "", "", err
		}
		return text, source.HashBytes(data), nil
	}

	data, err := s.read(path)
	if err != nil {
		return "", "", err
	}
	text, err := s.load(ctx, path, func(ctx context.Context, id string) (string, error) {
		return snap.LoadBytes(ctx, id, data)
	})
	if err != nil {
		return "", "", err
	}
	return text, source.HashBytes(data), nil
}

func (s *Ingestor) read(path string) ([]byte, error) {
	data, err := s.readFile(path)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrCodeReadFailed, "read file", err).WithDetail("source", path)
	}
	return data, nil
}

func (s *Ingestor) load(ctx context.Context, id string, load func(context.Context, string) (string, error)) (string, error) {
	if s.opts.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.CallTimeout)
		defer cancel()
	}
	text, err := load(ctx, id)
	if err != nil {
		var appErr *apperrors.Error
		if errors.As(err, &appErr) {
			return "", err
		}
		return "", apperrors.LoadError("load source", err).WithDetail("source", id)
	}
	return text, nil
}

func (s *Ingestor) embed(ctx context.Context, chunks []domain.Chunk) ([][]float32, error) {
	vectors := make([][]float32, 0, len(chunks))
	for start := 0; start < len(chunks); start += s.opts.EmbedBatchSize {
		end := min(start+s.opts.EmbedBatchSize, len(chunks))
		texts := make([]string, 0, end-start)
		for _, ch := range chunks[start:end] {
			texts = append(texts, ch.Text)
		}
		batch, err := s.embedBatch(ctx, texts)
		if err != nil {
			return nil, err
		}
		if len(batch) != len(texts) {
			return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(batch), len(texts))
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

func (s *Ingestor) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if s.opts.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.CallTimeout)
		defer cancel()
	}
	return s.embedder.EmbedBatch(ctx, texts)
}
