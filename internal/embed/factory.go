package embed

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// ProviderType selects which Embedder implementation NewEmbedder constructs.
type ProviderType string

const (
	// ProviderHTTP calls an external embedding HTTP API (default).
	ProviderHTTP ProviderType = "http"

	// ProviderHash uses deterministic hash-based embeddings: no network
	// dependency, used for offline operation and tests.
	ProviderHash ProviderType = "hash"
)

// ParseProvider converts a string to ProviderType, defaulting to ProviderHTTP
// for anything unrecognized.
func ParseProvider(s string) ProviderType {
	switch strings.ToLower(s) {
	case "hash", "static":
		return ProviderHash
	case "http", "":
		return ProviderHTTP
	default:
		return ProviderHTTP
	}
}

func (p ProviderType) String() string { return string(p) }

// ValidProviders returns all valid provider names.
func ValidProviders() []string {
	return []string{string(ProviderHTTP), string(ProviderHash)}
}

// IsValidProvider checks if a provider name is valid.
func IsValidProvider(s string) bool {
	for _, p := range ValidProviders() {
		if strings.ToLower(s) == p {
			return true
		}
	}
	return false
}

// NewEmbedder constructs an Embedder for the given provider, dimension, and
// endpoint (only consulted for ProviderHTTP), wrapping it in a
// CachedEmbedder unless VRETRIEVE_EMBED_CACHE disables caching.
func NewEmbedder(ctx context.Context, provider ProviderType, dimensions int, endpoint, model string) (Embedder, error) {
	var embedder Embedder

	switch provider {
	case ProviderHash:
		embedder = NewHashEmbedder(dimensions)

	case ProviderHTTP:
		cfg := DefaultHTTPConfig(dimensions)
		if endpoint != "" {
			cfg.Endpoint = endpoint
		}
		if model != "" {
			cfg.Model = model
		}
		if apiKey := os.Getenv("VRETRIEVE_EMBED_API_KEY"); apiKey != "" {
			cfg.APIKey = apiKey
		}
		embedder = NewHTTPEmbedder(cfg)

	default:
		return nil, fmt.Errorf("unknown embedder provider %q", provider)
	}

	if isCacheDisabled() {
		return embedder, nil
	}
	return NewCachedEmbedderWithDefaults(embedder), nil
}

// isCacheDisabled reports whether the embedding cache is disabled via
// environment override.
func isCacheDisabled() bool {
	v := strings.ToLower(os.Getenv("VRETRIEVE_EMBED_CACHE"))
	return v == "false" || v == "0" || v == "off" || v == "disabled"
}

// MustNewEmbedder creates an embedder and panics on failure. Use only in
// tests or initialization code where failure is fatal.
func MustNewEmbedder(ctx context.Context, provider ProviderType, dimensions int, endpoint, model string) Embedder {
	embedder, err := NewEmbedder(ctx, provider, dimensions, endpoint, model)
	if err != nil {
		panic(fmt.Sprintf("failed to create embedder: %v", err))
	}
	return embedder
}
