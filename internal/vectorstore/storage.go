package vectorstore

import (
	"context"
	"time"

	"ragsync/internal/domain"
	apperrors "ragsync/internal/errors"
)

// DefaultScanLimit bounds full metadata scans and per-source id collection.
const DefaultScanLimit = 10000

// Storage is the external vector index.
type Storage interface {
	// EnsureCollection creates the collection or index if missing.
	EnsureCollection(ctx context.Context, dimension int) error
	// Query returns records whose metadata matches q, without vectors.
	Query(ctx context.Context, q domain.Query) ([]domain.Match, error)
	Add(ctx context.Context, records []domain.IndexRecord) error
	Delete(ctx context.Context, ids []string) error
	Search(ctx context.Context, vector []float32, topK int) ([]domain.SearchResult, error)
	Close() error
}

// LookupBySource returns the summary of the most recently written record of
// source, or nil when the index holds none. Up to limit records of source are
// compared, since backends return them in no particular timestamp order.
func LookupBySource(ctx context.Context, s Storage, source string, limit int) (*domain.RecordSummary, error) {
	if limit <= 0 {
		limit = DefaultScanLimit
	}
	matches, err := s.Query(ctx, domain.Query{Source: source, TopK: limit})
	if err != nil {
		return nil, apperrors.RetrievalError("lookup source", err).WithDetail("source", source)
	}
	if len(matches) == 0 {
		return nil, nil
	}
	best := matches[0].Summary()
	bestAt := parseTimestamp(best.Timestamp)
	for _, m := range matches[1:] {
		sum := m.Summary()
		if at := parseTimestamp(sum.Timestamp); at.After(bestAt) {
			best, bestAt = sum, at
		}
	}
	return &best, nil
}

// IDsBySource collects the ids of every record of source, up to limit.
func IDsBySource(ctx context.Context, s Storage, source string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = DefaultScanLimit
	}
	matches, err := s.Query(ctx, domain.Query{Source: source, TopK: limit})
	if err != nil {
		return nil, apperrors.RetrievalError("collect record ids", err).WithDetail("source", source)
	}
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

// Scan returns the metadata of up to limit records across all sources.
func Scan(ctx context.Context, s Storage, limit int) ([]domain.RecordSummary, error) {
	if limit <= 0 {
		limit = DefaultScanLimit
	}
	matches, err := s.Query(ctx, domain.Query{TopK: limit})
	if err != nil {
		return nil, apperrors.RetrievalError("scan index", err)
	}
	out := make([]domain.RecordSummary, len(matches))
	for i, m := range matches {
		out[i] = m.Summary()
	}
	return out, nil
}

// DeleteBySource removes every record of source in one batch call and
// returns how many were deleted. No records is not an error.
func DeleteBySource(ctx context.Context, s Storage, source string, limit int) (int, error) {
	ids, err := IDsBySource(ctx, s, source, limit)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	if err := s.Delete(ctx, ids); err != nil {
		return 0, apperrors.New(apperrors.ErrCodeDeleteFailed, "delete records", err).WithDetail("source", source)
	}
	return len(ids), nil
}

func parseTimestamp(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
