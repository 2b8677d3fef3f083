package rerank

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEncoder scores passages by length and can be told to fail after N calls.
type fakeEncoder struct {
	calls     int
	failAfter int // fail on call number failAfter (1-based); 0 = never
	closed    bool
}

func (f *fakeEncoder) Score(_ context.Context, _ string, passages []string) ([]float64, error) {
	f.calls++
	if f.failAfter > 0 && f.calls >= f.failAfter {
		return nil, fmt.Errorf("encoder down")
	}
	scores := make([]float64, len(passages))
	for i, p := range passages {
		scores[i] = float64(len(p))
	}
	return scores, nil
}

func (f *fakeEncoder) Available(context.Context) bool { return true }
func (f *fakeEncoder) Close() error                   { f.closed = true; return nil }

func TestRerankOrdersByScore(t *testing.T) {
	r := NewWithEncoder(&fakeEncoder{})
	results, ok := r.Rerank(context.Background(), "q", []string{"bb", "dddd", "a"}, 0)
	require.True(t, ok)
	require.Len(t, results, 3)
	assert.Equal(t, 1, results[0].Index) // "dddd"
	assert.Equal(t, 0, results[1].Index) // "bb"
	assert.Equal(t, 2, results[2].Index) // "a"
}

func TestRerankTruncatesToK(t *testing.T) {
	r := NewWithEncoder(&fakeEncoder{})
	results, ok := r.Rerank(context.Background(), "q", []string{"a", "bb", "ccc"}, 2)
	require.True(t, ok)
	assert.Len(t, results, 2)
}

func TestRerankBatches(t *testing.T) {
	enc := &fakeEncoder{}
	r := NewWithEncoder(enc, WithBatchSize(2))
	candidates := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	results, ok := r.Rerank(context.Background(), "q", candidates, 0)
	require.True(t, ok)
	assert.Len(t, results, 5)
	assert.Equal(t, 3, enc.calls) // ceil(5/2)
}

func TestRerankFailOpen(t *testing.T) {
	enc := &fakeEncoder{failAfter: 3}
	r := NewWithEncoder(enc)

	for i := 0; i < 2; i++ {
		_, ok := r.Rerank(context.Background(), "q", []string{"a", "bb"}, 0)
		assert.True(t, ok)
	}
	// Third call fails; caller keeps the fused ranking.
	results, ok := r.Rerank(context.Background(), "q", []string{"a", "bb"}, 0)
	assert.False(t, ok)
	assert.Nil(t, results)
}

func TestRerankNoFactory(t *testing.T) {
	r := New(nil)
	results, ok := r.Rerank(context.Background(), "q", []string{"a"}, 0)
	assert.False(t, ok)
	assert.Nil(t, results)
	assert.False(t, r.Available(context.Background()))
}

func TestRerankEmptyCandidates(t *testing.T) {
	r := New(nil)
	results, ok := r.Rerank(context.Background(), "q", nil, 5)
	assert.True(t, ok)
	assert.Nil(t, results)
}

func TestLazyInitOnce(t *testing.T) {
	var built int
	r := New(func(ctx context.Context) (CrossEncoder, error) {
		built++
		return &fakeEncoder{}, nil
	})
	_, ok := r.Rerank(context.Background(), "q", []string{"a"}, 0)
	require.True(t, ok)
	_, ok = r.Rerank(context.Background(), "q", []string{"b"}, 0)
	require.True(t, ok)
	assert.Equal(t, 1, built)
}

func TestHTTPCrossEncoder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.WriteHeader(http.StatusOK)
			return
		}
		// Score passages in reverse order so ordering is observable.
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[{"index":0,"score":0.2},{"index":1,"score":0.9}]`)
	}))
	defer srv.Close()

	enc := NewHTTPCrossEncoder(HTTPConfig{Endpoint: srv.URL})
	scores, err := enc.Score(context.Background(), "q", []string{"p0", "p1"})
	require.NoError(t, err)
	assert.Equal(t, []float64{0.2, 0.9}, scores)
	assert.True(t, enc.Available(context.Background()))
	assert.NoError(t, enc.Close())
}

func TestHTTPCrossEncoderErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	enc := NewHTTPCrossEncoder(HTTPConfig{Endpoint: srv.URL})
	_, err := enc.Score(context.Background(), "q", []string{"p"})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "503"))
}
