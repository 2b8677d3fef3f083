// Package rerank rescales a small fused candidate set with a cross-encoder.
// The model is heavy, so it is initialized lazily on first use; if it is
// missing or fails, callers fall back to the fused ranking unchanged.
package rerank

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// DefaultBatchSize is how many query/passage pairs are scored per call to
// the underlying cross-encoder.
const DefaultBatchSize = 32

// CrossEncoder is the injected scoring collaborator: it jointly encodes
// (query, passage) pairs and returns one relevance score per passage.
type CrossEncoder interface {
	Score(ctx context.Context, query string, passages []string) ([]float64, error)
	Available(ctx context.Context) bool
	Close() error
}

// Result is one reranked candidate: its position in the input slice and
// the cross-encoder's relevance score.
type Result struct {
	Index int
	Score float64
}

// Reranker batches candidates through a lazily initialized cross-encoder.
type Reranker struct {
	factory   func(ctx context.Context) (CrossEncoder, error)
	batchSize int
	timeout   time.Duration

	mu      sync.Mutex
	encoder CrossEncoder
	initErr error
	inited  bool
}

// Option configures a Reranker.
type Option func(*Reranker)

// WithBatchSize overrides the scoring batch size.
func WithBatchSize(n int) Option {
	return func(r *Reranker) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithTimeout bounds a single Rerank call end to end.
func WithTimeout(d time.Duration) Option {
	return func(r *Reranker) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// New creates a Reranker whose cross-encoder is built by factory on first
// use. Construction is cheap; the heavy model load happens inside factory.
func New(factory func(ctx context.Context) (CrossEncoder, error), opts ...Option) *Reranker {
	r := &Reranker{
		factory:   factory,
		batchSize: DefaultBatchSize,
		timeout:   30 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewWithEncoder wraps an already constructed cross-encoder, used by tests.
func NewWithEncoder(enc CrossEncoder, opts ...Option) *Reranker {
	r := New(nil, opts...)
	r.encoder = enc
	r.inited = true
	return r
}

func (r *Reranker) init(ctx context.Context) (CrossEncoder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inited {
		return r.encoder, r.initErr
	}
	r.inited = true
	if r.factory == nil {
		r.initErr = fmt.Errorf("no cross-encoder configured")
		return nil, r.initErr
	}
	start := time.Now()
	r.encoder, r.initErr = r.factory(ctx)
	if r.initErr == nil {
		slog.Info("cross-encoder initialized", slog.Duration("took", time.Since(start)))
	}
	return r.encoder, r.initErr
}

// Rerank scores candidates against query and returns them sorted by score
// descending, truncated to k. On any failure it returns ok=false and nil
// results so the caller keeps the fused ordering.
func (r *Reranker) Rerank(ctx context.Context, query string, candidates []string, k int) (results []Result, ok bool) {
	if len(candidates) == 0 {
		return nil, true
	}
	enc, err := r.init(ctx)
	if err != nil {
		slog.Warn("reranker unavailable, keeping fused ranking", slog.String("error", err.Error()))
		return nil, false
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	scores := make([]float64, 0, len(candidates))
	for start := 0; start < len(candidates); start += r.batchSize {
		end := start + r.batchSize
		if end > len(candidates) {
			end = len(candidates)
		}
		batchScores, err := enc.Score(ctx, query, candidates[start:end])
		if err != nil {
			slog.Warn("rerank batch failed, keeping fused ranking",
				slog.Int("batch_start", start),
				slog.String("error", err.Error()))
			return nil, false
		}
		if len(batchScores) != end-start {
			slog.Warn("rerank batch returned wrong score count, keeping fused ranking",
				slog.Int("want", end-start),
				slog.Int("got", len(batchScores)))
			return nil, false
		}
		scores = append(scores, batchScores...)
	}

	results = make([]Result, len(scores))
	for i, s := range scores {
		results[i] = Result{Index: i, Score: s}
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Index < results[j].Index
	})
	if k > 0 && k < len(results) {
		results = results[:k]
	}
	return results, true
}

// Available reports whether the cross-encoder has been (or can be)
// initialized; it never triggers the heavy load itself.
func (r *Reranker) Available(ctx context.Context) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inited {
		return r.initErr == nil && r.encoder != nil && r.encoder.Available(ctx)
	}
	return r.factory != nil
}

func (r *Reranker) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.encoder != nil {
		return r.encoder.Close()
	}
	return nil
}
