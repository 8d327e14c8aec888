package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"ragsync/internal/domain"
	apperrors "ragsync/internal/errors"
	"ragsync/internal/vectorstore"
)

// DefaultTopK is how many chunks are retrieved per question.
const DefaultTopK = 1

// Answer is the response to one question.
type Answer struct {
	Answer    string   `json:"answer"`
	Documents []string `json:"document"`
}

// QueryService answers questions from the indexed chunks.
type QueryService struct {
	embedder    domain.Embedder
	store       vectorstore.Storage
	generator   domain.Generator
	topK        int
	callTimeout time.Duration
	logger      *slog.Logger
}

func NewQueryService(embedder domain.Embedder, store vectorstore.Storage, generator domain.Generator, topK int, callTimeout time.Duration, logger *slog.Logger) *QueryService {
	if topK <= 0 {
		topK = DefaultTopK
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &QueryService{
		embedder:    embedder,
		store:       store,
		generator:   generator,
		topK:        topK,
		callTimeout: callTimeout,
		logger:      logger,
	}
}

// Ask embeds question, retrieves the closest chunks and generates an answer
// grounded in them. Documents lists the distinct sources of those chunks.
func (q *QueryService) Ask(ctx context.Context, question string) (*Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, apperrors.New(apperrors.ErrCodeEmptyQuestion, "question is required", nil)
	}

	results, err := q.retrieve(ctx, question)
	if err != nil {
		return nil, err
	}

	contexts := make([]string, 0, len(results))
	docs := make([]string, 0, len(results))
	seen := make(map[string]struct{}, len(results))
	for _, r := range results {
		contexts = append(contexts, r.Text)
		if r.Source == "" {
			continue
		}
		if _, ok := seen[r.Source]; !ok {
			seen[r.Source] = struct{}{}
			docs = append(docs, r.Source)
		}
	}

	gctx, cancel := q.withTimeout(ctx)
	defer cancel()
	answer, err := q.generator.Generate(gctx, question, contexts)
	if err != nil {
		return nil, apperrors.InternalError("generate answer", err)
	}
	q.logger.Debug("answered question",
		slog.Int("contexts", len(contexts)),
		slog.Any("documents", docs))
	return &Answer{Answer: answer, Documents: docs}, nil
}

func (q *QueryService) retrieve(ctx context.Context, question string) ([]domain.SearchResult, error) {
	ectx, cancel := q.withTimeout(ctx)
	defer cancel()
	vec, err := q.embedder.Embed(ectx, question)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrCodeEmbeddingFailed, "embed question", err)
	}

	sctx, cancel := q.withTimeout(ctx)
	defer cancel()
	results, err := q.store.Search(sctx, vec, q.topK)
	if err != nil {
		return nil, apperrors.RetrievalError("search index", err)
	}
	return results, nil
}

func (q *QueryService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if q.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, q.callTimeout)
}
