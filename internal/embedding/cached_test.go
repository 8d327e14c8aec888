package embedding

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingEmbedder struct {
	calls int
	texts []string
	fail  bool
}

func (c *countingEmbedder) Name() string    { return "counting" }
func (c *countingEmbedder) Dimensions() int { return 1 }

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (c *countingEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	c.calls++
	if c.fail {
		return nil, errors.New("boom")
	}
	c.texts = append(c.texts, texts...)
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t))}
	}
	return out, nil
}

func TestCached_EmbedHitsCache(t *testing.T) {
	inner := &countingEmbedder{}
	c := NewCached(inner, 10)
	ctx := context.Background()

	v1, err := c.Embed(ctx, "hello")
	require.NoError(t, err)
	v2, err := c.Embed(ctx, "hello")
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
	assert.Equal(t, 1, inner.calls)
	assert.Equal(t, 1, c.Len())
}

func TestCached_BatchOnlySendsMisses(t *testing.T) {
	inner := &countingEmbedder{}
	c := NewCached(inner, 10)
	ctx := context.Background()

	_, err := c.Embed(ctx, "a")
	require.NoError(t, err)
	out, err := c.EmbedBatch(ctx, []string{"a", "bb", "ccc"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1}, {2}, {3}}, out)
	assert.Equal(t, []string{"a", "bb", "ccc"}, inner.texts)
}

func TestCached_ErrorsAreNotCached(t *testing.T) {
	inner := &countingEmbedder{fail: true}
	c := NewCached(inner, 10)
	_, err := c.Embed(context.Background(), "x")
	require.Error(t, err)
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, "counting", c.Name())
}
