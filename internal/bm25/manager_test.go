package bm25

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager("", DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestIndexAndSearch(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	err := m.Index(ctx, []string{"d1", "d2", "d3"}, []string{
		"vector retrieval engine with generational index",
		"keyword search over inverted postings",
		"generational garbage collection tuning",
	})
	require.NoError(t, err)
	assert.Equal(t, 3, m.DocCount())

	results, err := m.Search(ctx, "generational index", 10)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "d1", results[0].DocID)
	assert.Greater(t, results[0].Score, 0.0)
	assert.NotEmpty(t, results[0].MatchedTerms)
}

func TestSearchEmptyQuery(t *testing.T) {
	m := newTestManager(t)
	results, err := m.Search(context.Background(), "   ", 10)
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = m.Search(context.Background(), "anything", 0)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestDelete(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Index(ctx, []string{"d1", "d2"}, []string{"alpha beta", "alpha gamma"}))
	require.NoError(t, m.Delete(ctx, []string{"d1"}))
	assert.Equal(t, 1, m.DocCount())

	results, err := m.Search(ctx, "alpha", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "d2", results[0].DocID)

	// Deleting an unknown ID is a no-op.
	require.NoError(t, m.Delete(ctx, []string{"missing"}))
}

func TestAllIDs(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	require.NoError(t, m.Index(ctx, []string{"a", "b"}, []string{"one two", "three four"}))

	ids, err := m.AllIDs()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, ids)
}

func TestClosedManager(t *testing.T) {
	m, err := NewManager("", DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, m.Close())

	assert.Error(t, m.Index(context.Background(), []string{"x"}, []string{"y"}))
	_, err = m.Search(context.Background(), "x", 5)
	assert.Error(t, err)
	assert.Equal(t, 0, m.DocCount())
	// Double close is safe.
	assert.NoError(t, m.Close())
}

func TestNonDefaultScoringParamsRejected(t *testing.T) {
	_, err := NewManager("", Config{K1: 2.0, B: 0.75})
	require.Error(t, err)
	_, err = NewManager("", Config{K1: 1.2, B: 0.5})
	require.Error(t, err)
}

func TestDefaultTokeniser(t *testing.T) {
	tok := DefaultTokeniser{}

	tests := []struct {
		name string
		text string
		want []string
	}{
		{"ascii words", "Hello World", []string{"hello", "world"}},
		{"short tokens dropped", "a go run", []string{"go", "run"}},
		{"underscore kept", "doc_id lookup", []string{"doc_id", "lookup"}},
		{"cjk bigrams", "检索引擎", []string{"检索", "索引", "引擎"}},
		{"single cjk rune", "猫", []string{"猫"}},
		{"mixed", "vector检索", []string{"vector", "检索"}},
		{"empty", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tok.Tokenise(tt.text))
		})
	}
}

func TestCJKSearch(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	require.NoError(t, m.Index(ctx, []string{"zh", "en"}, []string{"向量检索引擎", "vector retrieval engine"}))

	results, err := m.Search(ctx, "检索", 10)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "zh", results[0].DocID)
}
