package embed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingEmbedder struct {
	calls int
	dims  int
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls++
	return []float32{float32(len(text))}, nil
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		c.calls++
		out[i] = []float32{float32(len(t))}
	}
	return out, nil
}

func (c *countingEmbedder) Dimensions() int             { return c.dims }
func (c *countingEmbedder) ModelName() string           { return "counting" }
func (c *countingEmbedder) Available(_ context.Context) bool { return true }
func (c *countingEmbedder) Close() error                { return nil }

func TestCachedEmbedder_CacheHitAvoidsInnerCall(t *testing.T) {
	inner := &countingEmbedder{dims: 4}
	cached := NewCachedEmbedder(inner, 10)
	ctx := context.Background()

	v1, err := cached.Embed(ctx, "hello")
	require.NoError(t, err)
	v2, err := cached.Embed(ctx, "hello")
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
	assert.Equal(t, 1, inner.calls)
}

func TestCachedEmbedder_EmbedBatchOnlySendsMisses(t *testing.T) {
	inner := &countingEmbedder{dims: 4}
	cached := NewCachedEmbedder(inner, 10)
	ctx := context.Background()

	_, err := cached.Embed(ctx, "alpha")
	require.NoError(t, err)

	vecs, err := cached.EmbedBatch(ctx, []string{"alpha", "beta"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, 2, inner.calls)
}

func TestCachedEmbedder_PassthroughMethods(t *testing.T) {
	inner := &countingEmbedder{dims: 16}
	cached := NewCachedEmbedder(inner, 10)

	assert.Equal(t, 16, cached.Dimensions())
	assert.Equal(t, "counting", cached.ModelName())
	assert.True(t, cached.Available(context.Background()))
	assert.Same(t, inner, cached.Inner())
	assert.NoError(t, cached.Close())
}

func TestNewCachedEmbedderWithDefaults(t *testing.T) {
	inner := &countingEmbedder{dims: 4}
	cached := NewCachedEmbedderWithDefaults(inner)
	assert.NotNil(t, cached)
}
