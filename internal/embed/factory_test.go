package embed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProvider(t *testing.T) {
	assert.Equal(t, ProviderHash, ParseProvider("hash"))
	assert.Equal(t, ProviderHash, ParseProvider("static"))
	assert.Equal(t, ProviderHTTP, ParseProvider("http"))
	assert.Equal(t, ProviderHTTP, ParseProvider(""))
	assert.Equal(t, ProviderHTTP, ParseProvider("unknown"))
}

func TestIsValidProvider(t *testing.T) {
	assert.True(t, IsValidProvider("hash"))
	assert.True(t, IsValidProvider("HTTP"))
	assert.False(t, IsValidProvider("mlx"))
}

func TestNewEmbedder_Hash(t *testing.T) {
	e, err := NewEmbedder(context.Background(), ProviderHash, 64, "", "")
	require.NoError(t, err)
	assert.Equal(t, 64, e.Dimensions())
}

func TestNewEmbedder_UnknownProvider(t *testing.T) {
	_, err := NewEmbedder(context.Background(), ProviderType("bogus"), 64, "", "")
	assert.Error(t, err)
}

func TestNewEmbedder_CacheDisabled(t *testing.T) {
	t.Setenv("VRETRIEVE_EMBED_CACHE", "false")
	e, err := NewEmbedder(context.Background(), ProviderHash, 64, "", "")
	require.NoError(t, err)
	_, ok := e.(*CachedEmbedder)
	assert.False(t, ok)
}

func TestNewEmbedder_CacheEnabledByDefault(t *testing.T) {
	e, err := NewEmbedder(context.Background(), ProviderHash, 64, "", "")
	require.NoError(t, err)
	_, ok := e.(*CachedEmbedder)
	assert.True(t, ok)
}
