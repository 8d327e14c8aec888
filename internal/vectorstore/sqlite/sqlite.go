// Package sqlite is a local, persistent vector index: records live in a
// SQLite table and similarity search runs on an in-memory HNSW graph that is
// rebuilt from the table whenever it changed.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/coder/hnsw"
	_ "modernc.org/sqlite" // SQLite driver

	"ragsync/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS records (
	seq      INTEGER PRIMARY KEY AUTOINCREMENT,
	id       TEXT NOT NULL UNIQUE,
	source   TEXT NOT NULL,
	metadata TEXT NOT NULL,
	vector   BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_records_source ON records(source);
CREATE TABLE IF NOT EXISTS settings (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);`

// deleteBatch bounds the number of ids bound into one DELETE statement.
const deleteBatch = 500

type hit struct {
	id     string
	source string
	text   string
}

// Storage implements vectorstore.Storage on SQLite.
type Storage struct {
	db   *sql.DB
	path string

	mu        sync.Mutex
	dimension int
	graph     *hnsw.Graph[int64]
	hits      map[int64]hit
	dirty     bool
}

// Open opens or creates the database at path.
func Open(path string) (*Storage, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	s := &Storage{db: db, path: path, dirty: true}
	if err := s.loadDimension(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Storage) loadDimension() error {
	var v string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = 'dimension'`).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading dimension: %w", err)
	}
	d, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("corrupt dimension setting %q: %w", v, err)
	}
	s.dimension = d
	return nil
}

func (s *Storage) EnsureCollection(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dimension != 0 {
		if s.dimension != dimension {
			return fmt.Errorf("index %s holds %d-dimensional vectors, embedder produces %d", s.path, s.dimension, dimension)
		}
		return nil
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO settings(key, value) VALUES ('dimension', ?)`, strconv.Itoa(dimension)); err != nil {
		return fmt.Errorf("storing dimension: %w", err)
	}
	s.dimension = dimension
	return nil
}

func (s *Storage) Query(ctx context.Context, q domain.Query) ([]domain.Match, error) {
	limit := q.TopK
	if limit <= 0 {
		limit = -1
	}
	var (
		rows *sql.Rows
		err  error
	)
	if q.Source != "" {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, metadata FROM records WHERE source = ? ORDER BY seq LIMIT ?`, q.Source, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `SELECT id, metadata FROM records ORDER BY seq LIMIT ?`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("querying records: %w", err)
	}
	defer rows.Close()

	var out []domain.Match
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		meta := map[string]any{}
		if err := json.Unmarshal([]byte(raw), &meta); err != nil {
			return nil, fmt.Errorf("decoding metadata of %s: %w", id, err)
		}
		out = append(out, domain.Match{ID: id, Metadata: meta})
	}
	return out, rows.Err()
}

func (s *Storage) Add(ctx context.Context, records []domain.IndexRecord) error {
	if len(records) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		if s.dimension != 0 && len(r.Vector) != s.dimension {
			return fmt.Errorf("vector dimension mismatch: expected %d, got %d", s.dimension, len(r.Vector))
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO records(id, source, metadata, vector) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET source = excluded.source, metadata = excluded.metadata, vector = excluded.vector`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		meta, err := json.Marshal(r.Metadata)
		if err != nil {
			return fmt.Errorf("encoding metadata of %s: %w", r.ID, err)
		}
		src := domain.MetaString(r.Metadata, domain.MetaSource)
		if _, err := stmt.ExecContext(ctx, r.ID, src, string(meta), float32SliceToBytes(r.Vector)); err != nil {
			return fmt.Errorf("inserting %s: %w", r.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing records: %w", err)
	}
	s.dirty = true
	return nil
}

func (s *Storage) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for start := 0; start < len(ids); start += deleteBatch {
		batch := ids[start:min(start+deleteBatch, len(ids))]
		args := make([]any, len(batch))
		for i, id := range batch {
			args[i] = id
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(batch)), ",")
		if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE id IN (`+placeholders+`)`, args...); err != nil {
			return fmt.Errorf("deleting records: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing delete: %w", err)
	}
	s.dirty = true
	return nil
}

// Search returns the topK records closest to vector by cosine similarity.
func (s *Storage) Search(ctx context.Context, vector []float32, topK int) ([]domain.SearchResult, error) {
	if topK <= 0 {
		topK = 5
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dimension != 0 && len(vector) != s.dimension {
		return nil, fmt.Errorf("query dimension mismatch: expected %d, got %d", s.dimension, len(vector))
	}
	if s.dirty {
		if err := s.rebuild(ctx); err != nil {
			return nil, err
		}
	}
	if s.graph.Len() == 0 {
		return []domain.SearchResult{}, nil
	}
	query := make([]float32, len(vector))
	copy(query, vector)
	if !normalizeVectorInPlace(query) {
		return []domain.SearchResult{}, nil
	}

	nodes := s.graph.Search(query, topK)
	results := make([]domain.SearchResult, 0, len(nodes))
	for _, n := range nodes {
		h, ok := s.hits[n.Key]
		if !ok {
			continue
		}
		results = append(results, domain.SearchResult{
			ID:     h.id,
			Source: h.source,
			Text:   h.text,
			Score:  float64(1 - s.graph.Distance(query, n.Value)),
		})
	}
	return results, nil
}

// rebuild reloads every vector into a fresh graph. Callers hold s.mu.
func (s *Storage) rebuild(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT seq, id, source, metadata, vector FROM records ORDER BY seq`)
	if err != nil {
		return fmt.Errorf("loading vectors: %w", err)
	}
	defer rows.Close()

	graph := hnsw.NewGraph[int64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = 16
	graph.EfSearch = 64
	hits := make(map[int64]hit)
	for rows.Next() {
		var (
			seq          int64
			id, src, raw string
			blob         []byte
		)
		if err := rows.Scan(&seq, &id, &src, &raw, &blob); err != nil {
			return fmt.Errorf("scanning vector: %w", err)
		}
		vec := bytesToFloat32Slice(blob)
		if !normalizeVectorInPlace(vec) {
			continue
		}
		var meta map[string]any
		_ = json.Unmarshal([]byte(raw), &meta)
		graph.Add(hnsw.MakeNode(seq, vec))
		hits[seq] = hit{id: id, source: src, text: domain.MetaString(meta, domain.MetaText)}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	s.graph, s.hits, s.dirty = graph, hits, false
	return nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func float32SliceToBytes(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func bytesToFloat32Slice(data []byte) []float32 {
	floats := make([]float32, len(data)/4)
	for i := range floats {
		floats[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return floats
}

// normalizeVectorInPlace scales v to unit length and reports false for a zero vector.
func normalizeVectorInPlace(v []float32) bool {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return false
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
	return true
}
