// Package pinecone stores records in a serverless Pinecone index over its
// REST API. Filtered lookups are issued as zero-vector queries with an $eq
// metadata filter, which is how the index was populated historically.
package pinecone

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"ragsync/internal/domain"
)

const (
	DefaultControlURL = "https://api.pinecone.io"
	DefaultIndex      = "marketo"
	DefaultCloud      = "aws"
	DefaultRegion     = "us-east-1"
	apiVersion        = "2025-01"

	// maxTopK is the largest top_k a Pinecone query accepts.
	maxTopK     = 10000
	upsertBatch = 100
	deleteBatch = 1000
)

type Config struct {
	APIKey     string
	Index      string
	ControlURL string
	// Host skips index discovery when set.
	Host      string
	Cloud     string
	Region    string
	Namespace string
	Timeout   time.Duration
	// ReadyWait bounds how long EnsureCollection waits for a new index.
	ReadyWait time.Duration
}

type Storage struct {
	cfg    Config
	client *http.Client

	mu        sync.Mutex
	host      string
	dimension int
}

type statusError struct {
	method, url string
	status      int
	body        string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("pinecone %s %s failed: %d %s", e.method, e.url, e.status, e.body)
}

func NewStorage(cfg Config) (*Storage, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("pinecone api key is required")
	}
	if cfg.Index == "" {
		cfg.Index = DefaultIndex
	}
	if cfg.ControlURL == "" {
		cfg.ControlURL = DefaultControlURL
	}
	if cfg.Cloud == "" {
		cfg.Cloud = DefaultCloud
	}
	if cfg.Region == "" {
		cfg.Region = DefaultRegion
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.ReadyWait == 0 {
		cfg.ReadyWait = 2 * time.Minute
	}
	cfg.ControlURL = strings.TrimRight(cfg.ControlURL, "/")
	return &Storage{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		host:   normalizeHost(cfg.Host),
	}, nil
}

func normalizeHost(h string) string {
	h = strings.TrimRight(h, "/")
	if h == "" || strings.HasPrefix(h, "http://") || strings.HasPrefix(h, "https://") {
		return h
	}
	return "https://" + h
}

type indexDescription struct {
	Name      string `json:"name"`
	Dimension int    `json:"dimension"`
	Metric    string `json:"metric"`
	Host      string `json:"host"`
	Status    struct {
		Ready bool   `json:"ready"`
		State string `json:"state"`
	} `json:"status"`
}

// EnsureCollection describes the index, creating it when it does not exist,
// and resolves the data-plane host.
func (s *Storage) EnsureCollection(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	url := s.cfg.ControlURL + "/indexes/" + s.cfg.Index
	var desc indexDescription
	err := s.do(ctx, http.MethodGet, url, nil, &desc)
	var se *statusError
	switch {
	case err == nil:
	case errors.As(err, &se) && se.status == http.StatusNotFound:
		create := map[string]any{
			"name":      s.cfg.Index,
			"dimension": dimension,
			"metric":    "cosine",
			"spec": map[string]any{
				"serverless": map[string]any{"cloud": s.cfg.Cloud, "region": s.cfg.Region},
			},
		}
		if err := s.do(ctx, http.MethodPost, s.cfg.ControlURL+"/indexes", create, &desc); err != nil {
			return err
		}
		if desc, err = s.waitReady(ctx, url, desc); err != nil {
			return err
		}
	default:
		return err
	}

	if desc.Dimension != 0 && desc.Dimension != dimension {
		return fmt.Errorf("pinecone index %s has dimension %d, embedder produces %d", s.cfg.Index, desc.Dimension, dimension)
	}
	s.dimension = dimension
	if s.host == "" {
		if desc.Host == "" {
			return fmt.Errorf("pinecone index %s has no host yet", s.cfg.Index)
		}
		s.host = normalizeHost(desc.Host)
	}
	return nil
}

func (s *Storage) waitReady(ctx context.Context, url string, desc indexDescription) (indexDescription, error) {
	deadline := time.Now().Add(s.cfg.ReadyWait)
	for !desc.Status.Ready || desc.Host == "" {
		if time.Now().After(deadline) {
			return desc, fmt.Errorf("pinecone index %s not ready after %s (state %q)", s.cfg.Index, s.cfg.ReadyWait, desc.Status.State)
		}
		select {
		case <-ctx.Done():
			return desc, ctx.Err()
		case <-time.After(time.Second):
		}
		if err := s.do(ctx, http.MethodGet, url, nil, &desc); err != nil {
			return desc, err
		}
	}
	return desc, nil
}

func (s *Storage) dataURL(path string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.host == "" {
		return "", errors.New("pinecone host unknown: call EnsureCollection first")
	}
	return s.host + path, nil
}

type queryMatch struct {
	ID       string         `json:"id"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata"`
}

func (s *Storage) query(ctx context.Context, vector []float32, topK int, filter map[string]any) ([]queryMatch, error) {
	url, err := s.dataURL("/query")
	if err != nil {
		return nil, err
	}
	body := map[string]any{
		"vector":          vector,
		"topK":            topK,
		"includeMetadata": true,
		"includeValues":   false,
	}
	if filter != nil {
		body["filter"] = filter
	}
	if s.cfg.Namespace != "" {
		body["namespace"] = s.cfg.Namespace
	}
	var resp struct {
		Matches []queryMatch `json:"matches"`
	}
	if err := s.do(ctx, http.MethodPost, url, body, &resp); err != nil {
		return nil, err
	}
	return resp.Matches, nil
}

// Query lists records with a zero-vector query. TopK is capped at 10000.
func (s *Storage) Query(ctx context.Context, q domain.Query) ([]domain.Match, error) {
	topK := q.TopK
	if topK <= 0 || topK > maxTopK {
		topK = maxTopK
	}
	var filter map[string]any
	if q.Source != "" {
		filter = map[string]any{domain.MetaSource: map[string]any{"$eq": q.Source}}
	}
	s.mu.Lock()
	dim := s.dimension
	s.mu.Unlock()
	if dim == 0 {
		return nil, errors.New("pinecone dimension unknown: call EnsureCollection first")
	}
	matches, err := s.query(ctx, make([]float32, dim), topK, filter)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Match, 0, len(matches))
	for _, m := range matches {
		out = append(out, domain.Match{ID: m.ID, Metadata: m.Metadata})
	}
	return out, nil
}

func (s *Storage) Add(ctx context.Context, records []domain.IndexRecord) error {
	if len(records) == 0 {
		return nil
	}
	url, err := s.dataURL("/vectors/upsert")
	if err != nil {
		return err
	}
	for start := 0; start < len(records); start += upsertBatch {
		batch := records[start:min(start+upsertBatch, len(records))]
		vectors := make([]map[string]any, len(batch))
		for i, r := range batch {
			vectors[i] = map[string]any{"id": r.ID, "values": r.Vector, "metadata": r.Metadata}
		}
		body := map[string]any{"vectors": vectors}
		if s.cfg.Namespace != "" {
			body["namespace"] = s.cfg.Namespace
		}
		if err := s.do(ctx, http.MethodPost, url, body, nil); err != nil {
			return err
		}
	}
	return nil
}

func (s *Storage) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	url, err := s.dataURL("/vectors/delete")
	if err != nil {
		return err
	}
	for start := 0; start < len(ids); start += deleteBatch {
		body := map[string]any{"ids": ids[start:min(start+deleteBatch, len(ids))]}
		if s.cfg.Namespace != "" {
			body["namespace"] = s.cfg.Namespace
		}
		if err := s.do(ctx, http.MethodPost, url, body, nil); err != nil {
			return err
		}
	}
	return nil
}

func (s *Storage) Search(ctx context.Context, vector []float32, topK int) ([]domain.SearchResult, error) {
	if topK <= 0 {
		topK = 5
	}
	matches, err := s.query(ctx, vector, min(topK, maxTopK), nil)
	if err != nil {
		return nil, err
	}
	out := make([]domain.SearchResult, 0, len(matches))
	for _, m := range matches {
		out = append(out, domain.SearchResult{
			ID:     m.ID,
			Source: domain.MetaString(m.Metadata, domain.MetaSource),
			Text:   domain.MetaString(m.Metadata, domain.MetaText),
			Score:  m.Score,
		})
	}
	return out, nil
}

func (s *Storage) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

func (s *Storage) do(ctx context.Context, method, url string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Api-Key", s.cfg.APIKey)
	req.Header.Set("X-Pinecone-API-Version", apiVersion)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &statusError{method: method, url: url, status: resp.StatusCode, body: strings.TrimSpace(string(msg))}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
