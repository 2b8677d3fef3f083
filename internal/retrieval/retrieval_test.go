package retrieval

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vretrieve/engine/internal/domain"
	"github.com/vretrieve/engine/internal/generational"
)

// fakeSearcher records queries and serves canned result lists.
type fakeSearcher struct {
	queries   []string
	responses map[string][]generational.Result
	failOn    string
	sawOpts   []generational.SearchOptions
}

func (f *fakeSearcher) Search(_ context.Context, query string, k int, opts generational.SearchOptions) (*generational.Response, error) {
	f.queries = append(f.queries, query)
	f.sawOpts = append(f.sawOpts, opts)
	if f.failOn != "" && strings.Contains(query, f.failOn) {
		return nil, fmt.Errorf("backend down")
	}
	results := f.responses[query]
	if results == nil {
		// Default: one hit derived from the query text.
		results = []generational.Result{{ChunkID: "hit-" + query, FileID: "f1", Content: query}}
	}
	if len(results) > k {
		results = results[:k]
	}
	return &generational.Response{Results: results}, nil
}

// fakeChunks serves a fixed file layout for parent-child expansion.
type fakeChunks struct {
	records map[string][]domain.RoutingRecord
	chunks  map[string]domain.Chunk
}

func (f *fakeChunks) ByFile(_ context.Context, fileID string) ([]domain.RoutingRecord, error) {
	return f.records[fileID], nil
}

func (f *fakeChunks) GetChunks(_ context.Context, ids []string) ([]domain.Chunk, error) {
	var out []domain.Chunk
	for _, id := range ids {
		if c, ok := f.chunks[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

type fakeGenerator struct {
	response string
	err      error
	prompts  []string
}

func (g *fakeGenerator) Generate(_ context.Context, prompt string) (string, error) {
	g.prompts = append(g.prompts, prompt)
	return g.response, g.err
}

func TestParseStrategy(t *testing.T) {
	assert.Equal(t, StrategyVector, ParseStrategy("vector"))
	assert.Equal(t, StrategyHyDE, ParseStrategy("HyDE"))
	assert.Equal(t, StrategyHybrid, ParseStrategy(""))
	assert.Equal(t, StrategyHybrid, ParseStrategy("unknown"))
}

func TestVectorStrategyDisablesBM25(t *testing.T) {
	s := &fakeSearcher{}
	r := New(s, &fakeChunks{})
	_, err := r.Retrieve(context.Background(), StrategyVector, "query text", 5, generational.SearchOptions{})
	require.NoError(t, err)
	require.Len(t, s.sawOpts, 1)
	assert.True(t, s.sawOpts[0].DisableBM25)
}

func TestHybridPassThrough(t *testing.T) {
	s := &fakeSearcher{}
	r := New(s, &fakeChunks{})
	resp, err := r.Retrieve(context.Background(), StrategyHybrid, "plain query", 5, generational.SearchOptions{})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, []string{"plain query"}, s.queries)
}

func TestEmptyQueryAndZeroK(t *testing.T) {
	s := &fakeSearcher{}
	r := New(s, &fakeChunks{})
	resp, err := r.Retrieve(context.Background(), StrategyHybrid, "   ", 5, generational.SearchOptions{})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)

	resp, err = r.Retrieve(context.Background(), StrategyHybrid, "q", 0, generational.SearchOptions{})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
	assert.Empty(t, s.queries)
}

func TestHyDEWithoutGeneratorFallsBack(t *testing.T) {
	s := &fakeSearcher{}
	r := New(s, &fakeChunks{})
	_, err := r.Retrieve(context.Background(), StrategyHyDE, "what is a tier", 5, generational.SearchOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"what is a tier"}, s.queries)
}

func TestHyDEFusesOriginalAndPassage(t *testing.T) {
	s := &fakeSearcher{responses: map[string][]generational.Result{}}
	gen := &fakeGenerator{response: "a tier is a generation of the index"}
	r := New(s, &fakeChunks{}, WithGenerator(gen))

	_, err := r.Retrieve(context.Background(), StrategyHyDE, "what is a tier", 5, generational.SearchOptions{})
	require.NoError(t, err)
	require.Len(t, gen.prompts, 1)
	// Both the raw query and the generated passage were searched.
	assert.Len(t, s.queries, 2)
	assert.Contains(t, s.queries, "what is a tier")
	assert.Contains(t, s.queries, "a tier is a generation of the index")
}

func TestHyDEGenerationErrorFallsBack(t *testing.T) {
	s := &fakeSearcher{}
	gen := &fakeGenerator{err: fmt.Errorf("llm offline")}
	r := New(s, &fakeChunks{}, WithGenerator(gen))

	_, err := r.Retrieve(context.Background(), StrategyHyDE, "what is a tier", 5, generational.SearchOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"what is a tier"}, s.queries)
}

func TestQuery2DocConcatenates(t *testing.T) {
	s := &fakeSearcher{}
	gen := &fakeGenerator{response: "pseudo document text"}
	r := New(s, &fakeChunks{}, WithGenerator(gen))

	_, err := r.Retrieve(context.Background(), StrategyQuery2Doc, "routing table", 5, generational.SearchOptions{})
	require.NoError(t, err)
	require.Len(t, s.queries, 1)
	assert.Equal(t, "routing table pseudo document text", s.queries[0])
}

func TestDecompose(t *testing.T) {
	tests := []struct {
		query string
		want  []string
	}{
		{"how does archiving work and when does cold rebuild", []string{"how does archiving work", "when does cold rebuild"}},
		{"hot tier, cold tier, routing table", []string{"hot tier", "cold tier", "routing table"}},
		{"single topic query", []string{"single topic query"}},
		{"", []string{""}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Decompose(tt.query), tt.query)
	}
}

func TestDecompositionFusesSubQueries(t *testing.T) {
	shared := generational.Result{ChunkID: "shared", FileID: "f", Content: "both"}
	s := &fakeSearcher{responses: map[string][]generational.Result{
		"hot tier":  {shared, {ChunkID: "only-hot", FileID: "f", Content: "h"}},
		"cold tier": {shared, {ChunkID: "only-cold", FileID: "f", Content: "c"}},
	}}
	r := New(s, &fakeChunks{})

	resp, err := r.Retrieve(context.Background(), StrategyDecomposition, "hot tier, cold tier", 3, generational.SearchOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	// The document both sub-queries agree on wins via consensus boost.
	assert.Equal(t, "shared", resp.Results[0].ChunkID)
}

func TestDecompositionSurvivesPartialFailure(t *testing.T) {
	s := &fakeSearcher{
		responses: map[string][]generational.Result{
			"hot tier": {{ChunkID: "h1", FileID: "f", Content: "h"}},
		},
		failOn: "cold",
	}
	r := New(s, &fakeChunks{})
	resp, err := r.Retrieve(context.Background(), StrategyDecomposition, "hot tier, cold tier", 3, generational.SearchOptions{})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "h1", resp.Results[0].ChunkID)
}

func TestParentChildExpansion(t *testing.T) {
	base := time.Unix(0, 0)
	chunks := &fakeChunks{
		records: map[string][]domain.RoutingRecord{
			"f1": {
				{ChunkID: "c0", FileID: "f1"},
				{ChunkID: "c1", FileID: "f1"},
				{ChunkID: "c2", FileID: "f1"},
			},
		},
		chunks: map[string]domain.Chunk{
			"c0": {ID: "c0", FileID: "f1", Content: "before", Metadata: map[string]any{"chunk_index": 0}, CreatedAt: base},
			"c1": {ID: "c1", FileID: "f1", Content: "match", Metadata: map[string]any{"chunk_index": 1}, CreatedAt: base},
			"c2": {ID: "c2", FileID: "f1", Content: "after", Metadata: map[string]any{"chunk_index": 2}, CreatedAt: base},
		},
	}
	s := &fakeSearcher{responses: map[string][]generational.Result{
		"find match": {{ChunkID: "c1", FileID: "f1", Content: "match"}},
	}}
	r := New(s, chunks)

	resp, err := r.Retrieve(context.Background(), StrategyParentChild, "find match", 5, generational.SearchOptions{})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "before\nmatch\nafter", resp.Results[0].Content)
}

func TestParentChildSingleChunkFile(t *testing.T) {
	chunks := &fakeChunks{
		records: map[string][]domain.RoutingRecord{
			"f1": {{ChunkID: "c1", FileID: "f1"}},
		},
		chunks: map[string]domain.Chunk{
			"c1": {ID: "c1", FileID: "f1", Content: "solo"},
		},
	}
	s := &fakeSearcher{responses: map[string][]generational.Result{
		"find solo": {{ChunkID: "c1", FileID: "f1", Content: "solo"}},
	}}
	r := New(s, chunks)

	resp, err := r.Retrieve(context.Background(), StrategyParentChild, "find solo", 5, generational.SearchOptions{})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "solo", resp.Results[0].Content)
}
