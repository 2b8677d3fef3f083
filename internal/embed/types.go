// Package embed defines the Embedder collaborator the engine consumes.
// The provider is opaque to the engine and its failures bubble up as
// embed errors; an LRU cache wrapper sits in front of every call site.
package embed

import "context"

const (
	// DefaultBatchSize is 32 texts. Nothing in this package reads it;
	// EmbedBatch calls are not split by it.
	DefaultBatchSize = 32

	// DefaultDimension matches the common 1536-wide embedding APIs;
	// overridden by the engine's configured dimension.
	DefaultDimension = 1536

	// DefaultCacheSize is the default LRU entry count for CachedEmbedder.
	DefaultCacheSize = 1000
)

// Embedder turns text into fixed-dimension vectors. Implementations call
// an external embedding API (or, for tests, return deterministic vectors);
// the engine never inspects how.
type Embedder interface {
	// Embed returns the embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns embeddings for multiple texts, in order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the fixed vector length this embedder produces.
	Dimensions() int

	// ModelName identifies the underlying model. It is part of the
	// embedding cache key, and the store records it at first open.
	ModelName() string

	// Available reports whether the embedder is currently reachable.
	Available(ctx context.Context) bool

	// Close releases any resources (connections, etc).
	Close() error
}
