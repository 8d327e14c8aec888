// Package app assembles the process-wide clients from configuration. One App
// is built per process and shared by every command and request.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ragsync/internal/chunker"
	"ragsync/internal/config"
	"ragsync/internal/domain"
	"ragsync/internal/embedding"
	"ragsync/internal/embedding/hashing"
	embopenai "ragsync/internal/embedding/openai"
	apperrors "ragsync/internal/errors"
	"ragsync/internal/llm"
	llmopenai "ragsync/internal/llm/openai"
	"ragsync/internal/loader"
	"ragsync/internal/reconcile"
	"ragsync/internal/service"
	"ragsync/internal/source"
	"ragsync/internal/summarizer"
	"ragsync/internal/vectorstore"
	"ragsync/internal/vectorstore/memory"
	"ragsync/internal/vectorstore/pinecone"
	"ragsync/internal/vectorstore/qdrant"
	"ragsync/internal/vectorstore/sqlite"
)

// App holds the shared clients.
type App struct {
	Config     *config.AppConfig
	Logger     *slog.Logger
	Embedder   domain.Embedder
	Store      vectorstore.Storage
	Lister     *source.Lister
	Ingestor   *service.Ingestor
	Reconciler *reconcile.Reconciler
	Query      *service.QueryService
	Lock       *reconcile.RunLock
}

type options struct {
	fileLoader domain.Loader
	webLoader  domain.Loader
	generator  domain.Generator
	store      vectorstore.Storage
}

// Option overrides a component normally built from configuration.
type Option func(*options)

func WithFileLoader(l domain.Loader) Option { return func(o *options) { o.fileLoader = l } }
func WithWebLoader(l domain.Loader) Option  { return func(o *options) { o.webLoader = l } }
func WithGenerator(g domain.Generator) Option {
	return func(o *options) { o.generator = g }
}
func WithStore(s vectorstore.Storage) Option { return func(o *options) { o.store = s } }

// New validates cfg, builds every client and makes sure the index exists
// with the embedder's dimension.
func New(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	base, err := newEmbedder(cfg.Embedder)
	if err != nil {
		return nil, err
	}
	emb := embedding.NewCached(base, cfg.Query.CacheSize)

	gen := o.generator
	if gen == nil {
		if gen, err = newGenerator(cfg.LLM); err != nil {
			return nil, err
		}
	}

	store := o.store
	if store == nil {
		if store, err = newStore(cfg.VectorStore); err != nil {
			return nil, err
		}
	}

	dim, err := embedderDimension(ctx, emb)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	if err := store.EnsureCollection(ctx, dim); err != nil {
		_ = store.Close()
		return nil, apperrors.RetrievalError("preparing index", err)
	}

	fileLoader := o.fileLoader
	if fileLoader == nil {
		fileLoader = loader.NewPDF()
	}
	webLoader := o.webLoader
	if webLoader == nil {
		webLoader = loader.NewWeb(loader.WebConfig{})
	}

	callTimeout := time.Duration(cfg.Sync.CallTimeoutSecs) * time.Second
	lister := source.NewLister(cfg.Sources.PDFDir, cfg.Sources.Pattern, cfg.Sources.URLsFile)
	ingestor := service.NewIngestor(
		fileLoader, webLoader,
		chunker.NewCharacterChunker(cfg.Chunker.ChunkSize, cfg.Chunker.ChunkOverlap),
		emb, store,
		service.IngestOptions{
			EmbedBatchSize: embedBatchSize(cfg.Embedder),
			ScanLimit:      cfg.Sync.ScanLimit,
			CallTimeout:    callTimeout,
		},
		logger.With("component", "ingestor"),
	)
	rec := reconcile.New(lister, store, ingestor, reconcile.Options{
		ReplaceOnUpdate: cfg.Sync.ReplaceOnUpdate,
		ScanLimit:       cfg.Sync.ScanLimit,
		Parallelism:     cfg.Sync.Parallelism,
		CallTimeout:     callTimeout,
	}, logger.With("component", "reconcile"))
	query := service.NewQueryService(emb, store, gen, cfg.Query.TopK, callTimeout, logger.With("component", "query"))

	return &App{
		Config:     cfg,
		Logger:     logger,
		Embedder:   emb,
		Store:      store,
		Lister:     lister,
		Ingestor:   ingestor,
		Reconciler: rec,
		Query:      query,
		Lock:       reconcile.NewRunLock(cfg.Sync.LockFile),
	}, nil
}

// Close releases the index client and the run lock.
func (a *App) Close() error {
	return errors.Join(a.Lock.Unlock(), a.Store.Close())
}

// RunLocked runs a reconciliation while holding the run lock.
func (a *App) RunLocked(ctx context.Context, opts reconcile.RunOptions) (*reconcile.RunReport, error) {
	if err := a.Lock.Lock(ctx); err != nil {
		return nil, err
	}
	defer func() { _ = a.Lock.Unlock() }()
	a.Logger.Debug("run lock acquired", slog.String("path", a.Lock.Path()))
	return a.Reconciler.Run(ctx, opts)
}

func newEmbedder(cfg config.EmbedderConfig) (domain.Embedder, error) {
	switch cfg.Type {
	case "hashing":
		dims := 0
		if cfg.Hashing != nil {
			dims = cfg.Hashing.Dimensions
		}
		return hashing.NewEmbedder(dims), nil
	case "openai":
		o := cfg.OpenAI
		if o == nil {
			return nil, apperrors.ConfigError("openai embedder config missing", nil)
		}
		return embopenai.NewClient(embopenai.Config{
			BaseURL:           o.BaseURL,
			APIKeyEnv:         o.APIKeyEnv,
			Model:             o.Model,
			Dimensions:        o.Dimensions,
			Timeout:           time.Duration(o.TimeoutSecs) * time.Second,
			RequestsPerSecond: o.RequestsPerSecond,
		})
	default:
		return nil, apperrors.ConfigError(fmt.Sprintf("unknown embedder: %s", cfg.Type), nil)
	}
}

func embedBatchSize(cfg config.EmbedderConfig) int {
	if cfg.Type == "openai" && cfg.OpenAI != nil {
		return cfg.OpenAI.BatchSize
	}
	return 0
}

func newGenerator(cfg config.LLMConfig) (domain.Generator, error) {
	switch cfg.Type {
	case "extractive":
		return summarizer.NewFrequencySummarizer(cfg.MaxSentences), nil
	case "openai":
		o := cfg.OpenAI
		if o == nil {
			return nil, apperrors.ConfigError("openai llm config missing", nil)
		}
		prompt, err := llm.NewPrompt(cfg.Prompt)
		if err != nil {
			return nil, apperrors.ConfigError("invalid prompt template", err)
		}
		return llmopenai.NewGenerator(llmopenai.Config{
			BaseURL:     o.BaseURL,
			APIKeyEnv:   o.APIKeyEnv,
			Model:       o.Model,
			Temperature: o.Temperature,
			Timeout:     time.Duration(o.TimeoutSecs) * time.Second,
			Prompt:      prompt,
		})
	default:
		return nil, apperrors.ConfigError(fmt.Sprintf("unknown llm: %s", cfg.Type), nil)
	}
}

func newStore(cfg config.VectorStoreConfig) (vectorstore.Storage, error) {
	switch cfg.Type {
	case "memory":
		return memory.NewStorage(), nil
	case "sqlite":
		if cfg.SQLite == nil {
			return nil, apperrors.ConfigError("sqlite config missing", nil)
		}
		s, err := sqlite.Open(cfg.SQLite.Path)
		if err != nil {
			return nil, apperrors.ConfigError("opening sqlite index", err)
		}
		return s, nil
	case "qdrant":
		q := cfg.Qdrant
		if q == nil {
			return nil, apperrors.ConfigError("qdrant config missing", nil)
		}
		key, err := config.Credential(q.APIKeyEnv)
		if err != nil {
			return nil, err
		}
		return qdrant.NewStorage(qdrant.Config{
			URL:        q.URL,
			APIKey:     key,
			Collection: q.Collection,
			Timeout:    time.Duration(q.TimeoutSecs) * time.Second,
		}), nil
	case "pinecone":
		p := cfg.Pinecone
		if p == nil {
			return nil, apperrors.ConfigError("pinecone config missing", nil)
		}
		key, err := config.Credential(p.APIKeyEnv)
		if err != nil {
			return nil, err
		}
		s, err := pinecone.NewStorage(pinecone.Config{
			APIKey:    key,
			Index:     p.Index,
			Host:      p.Host,
			Cloud:     p.Cloud,
			Region:    p.Region,
			Namespace: p.Namespace,
			Timeout:   time.Duration(p.TimeoutSecs) * time.Second,
		})
		if err != nil {
			return nil, apperrors.ConfigError("pinecone", err)
		}
		return s, nil
	default:
		return nil, apperrors.ConfigError(fmt.Sprintf("unknown vector store: %s", cfg.Type), nil)
	}
}

// embedderDimension returns the embedder's vector size, probing it once
// for models whose size is not known up front.
func embedderDimension(ctx context.Context, emb domain.Embedder) (int, error) {
	if d := emb.Dimensions(); d > 0 {
		return d, nil
	}
	vec, err := emb.Embed(ctx, "dimension probe")
	if err != nil {
		return 0, apperrors.New(apperrors.ErrCodeEmbeddingFailed, "probing embedding dimension", err)
	}
	return len(vec), nil
}
