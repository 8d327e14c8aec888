package memory

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"

	"ragsync/internal/domain"
)

// Storage is a simple in-memory vector store using brute-force cosine similarity.
// Records keep insertion order so metadata queries are deterministic.
type Storage struct {
	mu        sync.RWMutex
	dimension int
	order     []string
	records   map[string]domain.IndexRecord
}

func NewStorage() *Storage {
	return &Storage{records: make(map[string]domain.IndexRecord)}
}

func (s *Storage) EnsureCollection(_ context.Context, dimension int) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dimension == 0 {
		s.dimension = dimension
	}
	if s.dimension != dimension {
		return errors.New("collection exists with a different dimension")
	}
	return nil
}

func (s *Storage) Query(ctx context.Context, q domain.Query) ([]domain.Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Match
	for _, id := range s.order {
		if q.TopK > 0 && len(out) >= q.TopK {
			break
		}
		rec := s.records[id]
		if q.Source != "" && domain.MetaString(rec.Metadata, domain.MetaSource) != q.Source {
			continue
		}
		out = append(out, domain.Match{ID: rec.ID, Metadata: copyMeta(rec.Metadata)})
	}
	return out, nil
}

func (s *Storage) Add(ctx context.Context, records []domain.IndexRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		if s.dimension != 0 && len(r.Vector) != s.dimension {
			return errors.New("vector dimension mismatch")
		}
	}
	for _, r := range records {
		if _, exists := s.records[r.ID]; !exists {
			s.order = append(s.order, r.ID)
		}
		vec := make([]float32, len(r.Vector))
		copy(vec, r.Vector)
		s.records[r.ID] = domain.IndexRecord{ID: r.ID, Vector: vec, Metadata: copyMeta(r.Metadata)}
	}
	return nil
}

func (s *Storage) Delete(ctx context.Context, ids []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := s.records[id]; ok {
			drop[id] = struct{}{}
			delete(s.records, id)
		}
	}
	if len(drop) == 0 {
		return nil
	}
	kept := s.order[:0]
	for _, id := range s.order {
		if _, gone := drop[id]; !gone {
			kept = append(kept, id)
		}
	}
	s.order = kept
	return nil
}

func (s *Storage) Search(ctx context.Context, vector []float32, topK int) ([]domain.SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if topK <= 0 {
		topK = 5
	}
	scores := make([]float64, len(s.order))
	for i, id := range s.order {
		scores[i] = cosine(s.records[id].Vector, vector)
	}
	idxs := argsortDesc(scores)
	if topK > len(idxs) {
		topK = len(idxs)
	}
	results := make([]domain.SearchResult, 0, topK)
	for _, j := range idxs[:topK] {
		rec := s.records[s.order[j]]
		results = append(results, domain.SearchResult{
			ID:     rec.ID,
			Source: domain.MetaString(rec.Metadata, domain.MetaSource),
			Text:   domain.MetaString(rec.Metadata, domain.MetaText),
			Score:  scores[j],
		})
	}
	return results, nil
}

// Len reports how many records are stored.
func (s *Storage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

func (s *Storage) Close() error { return nil }

func copyMeta(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// argsortDesc returns indexes of vals ordered by descending value; ties keep insertion order.
func argsortDesc(vals []float64) []int {
	idxs := make([]int, len(vals))
	for i := range vals {
		idxs[i] = i
	}
	sort.SliceStable(idxs, func(a, b int) bool { return vals[idxs[a]] > vals[idxs[b]] })
	return idxs
}
