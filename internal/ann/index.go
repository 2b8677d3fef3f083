// Package ann provides the approximate-nearest-neighbor index abstraction
// and its concrete backends (flat, IVF, IVF-PQ, HNSW).
package ann

import (
	"context"

	"github.com/vretrieve/engine/internal/domain"
)

// Result is a single scored neighbor returned from a search.
type Result struct {
	ID       string
	Distance float32
	Score    float32
}

// Config carries the tunables every backend needs a subset of. Backends
// ignore fields that don't apply to them.
type Config struct {
	Dimensions     int
	Metric         string // "cos" or "l2"
	NList          int    // IVF: number of coarse clusters
	NProbe         int    // IVF: clusters visited per query
	PQSubvectors   int    // IVF-PQ: number of subquantizers
	PQBits         int    // IVF-PQ: bits per subquantizer code
	M              int    // HNSW: max connections per layer
	EfConstruction int    // HNSW: build-time search width
	EfSearch       int    // HNSW: query-time search width
}

// DefaultConfig returns the default tunables for dimensions.
func DefaultConfig(dimensions int) Config {
	return Config{
		Dimensions:     dimensions,
		Metric:         "cos",
		NList:          16,
		NProbe:         1,
		PQSubvectors:   8,
		PQBits:         8,
		M:              32,
		EfConstruction: 200,
		EfSearch:       64,
	}
}

// Index is the common surface every ANN backend implements: create, train
// (no-op for backends that don't need it), add, remove, search, and
// persistence. Implementations must be safe for concurrent use.
type Index interface {
	// Backend identifies which concrete implementation this is.
	Backend() domain.BackendType

	// Train prepares the index from a representative sample of vectors.
	// Flat and HNSW ignore this; IVF and IVF-PQ use it to fit the coarse
	// quantizer (and, for IVF-PQ, the product-quantization codebooks).
	Train(ctx context.Context, sample [][]float32) error

	// Add inserts or replaces vectors by ID.
	Add(ctx context.Context, ids []string, vectors [][]float32) error

	// Remove deletes vectors by ID. Returns ok=false if the backend cannot
	// physically remove entries (the caller should tombstone instead).
	Remove(ctx context.Context, ids []string) (ok bool, err error)

	// Search returns the k nearest neighbors to query.
	Search(ctx context.Context, query []float32, k int) ([]Result, error)

	// Trained reports whether the index is ready for Add. Always true
	// for Flat and HNSW; false for the IVF family until Train succeeds.
	Trained() bool

	// Contains reports whether id is present.
	Contains(id string) bool

	// AllIDs returns every live ID in the index.
	AllIDs() []string

	// Count returns the number of live vectors.
	Count() int

	// Save persists the index atomically to path.
	Save(path string) error

	// Load restores the index from path.
	Load(path string) error

	// Close releases any resources held by the index.
	Close() error
}
