package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragsync/internal/domain"
)

func rec(id, source string, vec ...float32) domain.IndexRecord {
	return domain.IndexRecord{
		ID:     id,
		Vector: vec,
		Metadata: map[string]any{
			domain.MetaSource: source,
			domain.MetaText:   "text of " + id,
		},
	}
}

func TestStorage_QueryFiltersBySource(t *testing.T) {
	ctx := context.Background()
	s := NewStorage()
	require.NoError(t, s.EnsureCollection(ctx, 2))
	require.NoError(t, s.Add(ctx, []domain.IndexRecord{
		rec("1", "a.pdf", 1, 0),
		rec("2", "b.pdf", 0, 1),
		rec("3", "a.pdf", 1, 1),
	}))

	got, err := s.Query(ctx, domain.Query{Source: "a.pdf", TopK: 10})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "1", got[0].ID)
	assert.Equal(t, "3", got[1].ID)

	limited, err := s.Query(ctx, domain.Query{TopK: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	none, err := s.Query(ctx, domain.Query{Source: "c.pdf", TopK: 10})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestStorage_DeleteRemovesOnlyGivenIDs(t *testing.T) {
	ctx := context.Background()
	s := NewStorage()
	require.NoError(t, s.Add(ctx, []domain.IndexRecord{rec("1", "a", 1, 0), rec("2", "b", 0, 1)}))
	require.NoError(t, s.Delete(ctx, []string{"1", "missing"}))
	assert.Equal(t, 1, s.Len())

	got, err := s.Query(ctx, domain.Query{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "2", got[0].ID)
}

func TestStorage_SearchRanksByCosine(t *testing.T) {
	ctx := context.Background()
	s := NewStorage()
	require.NoError(t, s.EnsureCollection(ctx, 2))
	require.NoError(t, s.Add(ctx, []domain.IndexRecord{
		rec("x", "x.pdf", 1, 0),
		rec("y", "y.pdf", 0, 1),
		rec("xy", "xy.pdf", 1, 1),
	}))

	res, err := s.Search(ctx, []float32{0.9, 0.1}, 2)
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, "x", res[0].ID)
	assert.Equal(t, "x.pdf", res[0].Source)
	assert.Equal(t, "text of x", res[0].Text)
	assert.Equal(t, "xy", res[1].ID)
	assert.Greater(t, res[0].Score, res[1].Score)
}

func TestStorage_DimensionChecks(t *testing.T) {
	ctx := context.Background()
	s := NewStorage()
	assert.Error(t, s.EnsureCollection(ctx, 0))
	require.NoError(t, s.EnsureCollection(ctx, 3))
	assert.Error(t, s.EnsureCollection(ctx, 4))
	assert.Error(t, s.Add(ctx, []domain.IndexRecord{rec("1", "a", 1, 2)}))
	assert.Equal(t, 0, s.Len())
}

func TestStorage_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewStorage()
	require.NoError(t, s.Add(ctx, []domain.IndexRecord{rec("1", "a", 1)}))
	got, err := s.Query(ctx, domain.Query{})
	require.NoError(t, err)
	got[0].Metadata[domain.MetaSource] = "mutated"

	again, err := s.Query(ctx, domain.Query{Source: "a"})
	require.NoError(t, err)
	assert.Len(t, again, 1)
}
