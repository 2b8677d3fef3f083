package generational

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vretrieve/engine/internal/ann"
	"github.com/vretrieve/engine/internal/bm25"
	"github.com/vretrieve/engine/internal/config"
	"github.com/vretrieve/engine/internal/domain"
	"github.com/vretrieve/engine/internal/rerank"
)

// mapEmbedder returns fixed vectors for known texts and a zero-padded
// fallback for anything else, so ranking assertions are exact.
type mapEmbedder struct {
	dim     int
	vectors map[string][]float32
}

func (m *mapEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if v, ok := m.vectors[text]; ok {
		return v, nil
	}
	v := make([]float32, m.dim)
	for i, r := range text {
		v[i%m.dim] += float32(r%13) / 13
	}
	return v, nil
}

func (m *mapEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := m.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (m *mapEmbedder) Dimensions() int                  { return m.dim }
func (m *mapEmbedder) ModelName() string                { return "map-test" }
func (m *mapEmbedder) Available(context.Context) bool   { return true }
func (m *mapEmbedder) Close() error                     { return nil }

// fakeClock is a settable clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testConfig(t *testing.T, dim int) *config.Config {
	t.Helper()
	cfg := config.NewConfig()
	cfg.RootDir = t.TempDir()
	cfg.Dimension = dim
	return cfg
}

func scenario1Embedder() *mapEmbedder {
	return &mapEmbedder{dim: 4, vectors: map[string][]float32{
		"a": {1, 0, 0, 0},
		"b": {0, 1, 0, 0},
		"c": {1, 0, 0, 0.01},
	}}
}

func openTestStore(t *testing.T, cfg *config.Config, emb *mapEmbedder, opts ...Option) (*Store, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	s, err := Open(cfg, emb, append([]Option{WithClock(clock)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, clock
}

func TestIngestSearchDelete(t *testing.T) {
	cfg := testConfig(t, 4)
	s, _ := openTestStore(t, cfg, scenario1Embedder())
	ctx := context.Background()

	idsF1, err := s.AddDocuments(ctx, "F1", []DocumentInput{{Content: "a"}, {Content: "b"}})
	require.NoError(t, err)
	require.Len(t, idsF1, 2)

	idsF2, err := s.AddDocuments(ctx, "F2", []DocumentInput{{Content: "c"}})
	require.NoError(t, err)
	require.Len(t, idsF2, 1)

	resp, err := s.Search(ctx, "a", 2, SearchOptions{})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "a", resp.Results[0].Content)
	assert.Equal(t, "c", resp.Results[1].Content)

	removed, err := s.DeleteByFile(ctx, "F1")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	resp, err = s.Search(ctx, "a", 2, SearchOptions{})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "c", resp.Results[0].Content)
	assert.Equal(t, "F2", resp.Results[0].FileID)
}

func TestSearchKZero(t *testing.T) {
	cfg := testConfig(t, 4)
	s, _ := openTestStore(t, cfg, scenario1Embedder())

	resp, err := s.Search(context.Background(), "a", 0, SearchOptions{})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
}

func TestSearchEmptyStore(t *testing.T) {
	cfg := testConfig(t, 4)
	s, _ := openTestStore(t, cfg, scenario1Embedder())

	resp, err := s.Search(context.Background(), "anything", 5, SearchOptions{})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
}

func TestResultsBoundedByK(t *testing.T) {
	cfg := testConfig(t, 4)
	s, _ := openTestStore(t, cfg, scenario1Embedder())
	ctx := context.Background()

	_, err := s.AddDocuments(ctx, "F", []DocumentInput{
		{Content: "alpha one"}, {Content: "alpha two"}, {Content: "alpha three"},
		{Content: "alpha four"}, {Content: "alpha five"},
	})
	require.NoError(t, err)

	resp, err := s.Search(ctx, "alpha", 3, SearchOptions{})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(resp.Results), 3)
}

func TestMetadataFilter(t *testing.T) {
	cfg := testConfig(t, 4)
	s, _ := openTestStore(t, cfg, scenario1Embedder())
	ctx := context.Background()

	_, err := s.AddDocuments(ctx, "F", []DocumentInput{
		{Content: "a", Metadata: map[string]any{"lang": "en", "page": 1}},
		{Content: "c", Metadata: map[string]any{"lang": "de"}},
	})
	require.NoError(t, err)

	resp, err := s.Search(ctx, "a", 5, SearchOptions{Filters: map[string]any{"lang": "en"}})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "a", resp.Results[0].Content)

	// Numeric filter values match across int/float64 representations.
	resp, err = s.Search(ctx, "a", 5, SearchOptions{Filters: map[string]any{"page": 1}})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)

	// Chunks lacking the filtered key are excluded.
	resp, err = s.Search(ctx, "a", 5, SearchOptions{Filters: map[string]any{"missing_key": "x"}})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
}

func TestRejectsNonPrimitiveMetadata(t *testing.T) {
	cfg := testConfig(t, 4)
	s, _ := openTestStore(t, cfg, scenario1Embedder())

	_, err := s.AddDocuments(context.Background(), "F", []DocumentInput{
		{Content: "a", Metadata: map[string]any{"nested": map[string]any{"x": 1}}},
	})
	assert.Error(t, err)
}

func TestArchiveOld(t *testing.T) {
	cfg := testConfig(t, 4)
	emb := scenario1Embedder()
	s, clock := openTestStore(t, cfg, emb)
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		_, err := s.AddDocuments(ctx, fmt.Sprintf("old-%d", i), []DocumentInput{{Content: fmt.Sprintf("old doc %d", i)}})
		require.NoError(t, err)
	}
	clock.Advance(31 * 24 * time.Hour)
	for i := 0; i < 10; i++ {
		_, err := s.AddDocuments(ctx, fmt.Sprintf("new-%d", i), []DocumentInput{{Content: fmt.Sprintf("new doc %d", i)}})
		require.NoError(t, err)
	}

	before, err := s.Search(ctx, "old doc 7", 5, SearchOptions{})
	require.NoError(t, err)

	report, err := s.ArchiveOld(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 100, report.Archived)
	assert.Equal(t, 110, report.HotSizeBefore)
	assert.Equal(t, 10, report.HotSizeAfter)
	assert.Equal(t, 0, report.ColdSizeBefore)
	assert.Equal(t, 100, report.ColdSizeAfter)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, stats.RoutingHot)
	assert.Equal(t, 100, stats.RoutingCold)
	assert.Equal(t, 10, stats.Hot.Count)
	require.NotNil(t, stats.Cold)
	assert.Equal(t, 100, stats.Cold.Count)

	// The relative ranking of the archived docs is preserved across the
	// tier move (hot hits are weighted above cold at equal rank, so the
	// comparison is within the archived set).
	after, err := s.Search(ctx, "old doc 7", 20, SearchOptions{})
	require.NoError(t, err)
	afterOld := make([]string, 0, len(after.Results))
	for _, r := range after.Results {
		if r.Tier == domain.TierCold {
			afterOld = append(afterOld, r.ChunkID)
		}
	}
	require.NotEmpty(t, afterOld)
	assert.Equal(t, before.Results[0].ChunkID, afterOld[0])

	// A second run with no new data archives nothing.
	report, err = s.ArchiveOld(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Archived)
}

func TestDeleteByFileAcrossTiers(t *testing.T) {
	cfg := testConfig(t, 4)
	s, clock := openTestStore(t, cfg, scenario1Embedder())
	ctx := context.Background()

	_, err := s.AddDocuments(ctx, "F1", []DocumentInput{{Content: "cold doc one"}, {Content: "cold doc two"}})
	require.NoError(t, err)
	clock.Advance(31 * 24 * time.Hour)
	_, err = s.AddDocuments(ctx, "F1", []DocumentInput{{Content: "hot doc"}})
	require.NoError(t, err)

	_, err = s.ArchiveOld(ctx, false)
	require.NoError(t, err)

	removed, err := s.DeleteByFile(ctx, "F1")
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	resp, err := s.Search(ctx, "cold doc one", 10, SearchOptions{})
	require.NoError(t, err)
	for _, r := range resp.Results {
		assert.NotEqual(t, "F1", r.FileID)
	}

	// Idempotent: deleting again removes nothing.
	removed, err = s.DeleteByFile(ctx, "F1")
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
}

func TestCapacityExceeded(t *testing.T) {
	cfg := testConfig(t, 4)
	cfg.Hot.MaxSize = 3
	cfg.EnableGenerationalIndex = false
	s, _ := openTestStore(t, cfg, scenario1Embedder())
	ctx := context.Background()

	_, err := s.AddDocuments(ctx, "F", []DocumentInput{{Content: "one"}, {Content: "two"}})
	require.NoError(t, err)
	_, err = s.AddDocuments(ctx, "F", []DocumentInput{{Content: "three"}, {Content: "four"}})
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindCapacityExceeded))
}

func TestCapacityArchivePassAllowsInsert(t *testing.T) {
	cfg := testConfig(t, 4)
	cfg.Hot.MaxSize = 3
	s, _ := openTestStore(t, cfg, scenario1Embedder())
	ctx := context.Background()

	_, err := s.AddDocuments(ctx, "F", []DocumentInput{{Content: "one"}, {Content: "two"}})
	require.NoError(t, err)
	// Hot is at 2/3; the insert of 2 forces a synchronous archive pass
	// that moves the existing docs to Cold, making room.
	_, err = s.AddDocuments(ctx, "F", []DocumentInput{{Content: "three"}, {Content: "four"}})
	require.NoError(t, err)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.RoutingHot)
	assert.Equal(t, 2, stats.RoutingCold)
}

func TestPersistReopen(t *testing.T) {
	cfg := testConfig(t, 4)
	emb := scenario1Embedder()
	clock := newFakeClock()

	s, err := Open(cfg, emb, WithClock(clock))
	require.NoError(t, err)
	ctx := context.Background()
	_, err = s.AddDocuments(ctx, "F1", []DocumentInput{{Content: "a"}, {Content: "b"}})
	require.NoError(t, err)
	_, err = s.AddDocuments(ctx, "F2", []DocumentInput{{Content: "c"}})
	require.NoError(t, err)

	statsBefore, err := s.Stats(ctx)
	require.NoError(t, err)
	respBefore, err := s.Search(ctx, "a", 2, SearchOptions{})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s2, err := Open(cfg, emb, WithClock(clock))
	require.NoError(t, err)
	defer s2.Close()

	statsAfter, err := s2.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, statsBefore.RoutingTotal, statsAfter.RoutingTotal)
	assert.Equal(t, statsBefore.Hot.Count, statsAfter.Hot.Count)

	respAfter, err := s2.Search(ctx, "a", 2, SearchOptions{})
	require.NoError(t, err)
	require.Len(t, respAfter.Results, len(respBefore.Results))
	for i := range respBefore.Results {
		assert.Equal(t, respBefore.Results[i].ChunkID, respAfter.Results[i].ChunkID)
	}
}

func TestDimensionChangeAcrossReopen(t *testing.T) {
	cfg := testConfig(t, 4)
	emb := scenario1Embedder()
	s, err := Open(cfg, emb)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	cfg.Dimension = 8
	_, err = Open(cfg, &mapEmbedder{dim: 8})
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindConfigError))
}

func TestEmbedderDimensionMismatchAtOpen(t *testing.T) {
	cfg := testConfig(t, 4)
	_, err := Open(cfg, &mapEmbedder{dim: 8})
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindConfigError))
}

// failThirdEncoder works twice then fails, for the reranker-fallback path.
type failThirdEncoder struct{ calls int }

func (f *failThirdEncoder) Score(_ context.Context, _ string, passages []string) ([]float64, error) {
	f.calls++
	if f.calls >= 3 {
		return nil, fmt.Errorf("cross-encoder crashed")
	}
	scores := make([]float64, len(passages))
	for i := range passages {
		// Later candidates score higher, so reranking observably reorders.
		scores[i] = float64(i + 1)
	}
	return scores, nil
}

func (f *failThirdEncoder) Available(context.Context) bool { return true }
func (f *failThirdEncoder) Close() error                   { return nil }

func TestRerankerFallback(t *testing.T) {
	cfg := testConfig(t, 4)
	cfg.Rerank.Enabled = true
	rr := rerank.NewWithEncoder(&failThirdEncoder{})
	s, _ := openTestStore(t, cfg, scenario1Embedder(), WithReranker(rr))
	ctx := context.Background()

	_, err := s.AddDocuments(ctx, "F", []DocumentInput{{Content: "a"}, {Content: "c"}})
	require.NoError(t, err)

	// First two searches: cross-encoder ordering (reversed input).
	for i := 0; i < 2; i++ {
		resp, err := s.Search(ctx, "a", 2, SearchOptions{})
		require.NoError(t, err)
		require.Len(t, resp.Results, 2)
		assert.Equal(t, "c", resp.Results[0].Content)
		assert.False(t, hasAdvisory(resp.Advisories, AdvisoryRerankSkipped))
	}

	// Third search: encoder fails, fused ordering returned with advisory.
	resp, err := s.Search(ctx, "a", 2, SearchOptions{})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "a", resp.Results[0].Content)
	assert.True(t, hasAdvisory(resp.Advisories, AdvisoryRerankSkipped))
}

func TestCrashRecoveryReconciliation(t *testing.T) {
	cfg := testConfig(t, 4)
	emb := scenario1Embedder()
	clock := newFakeClock()

	s, err := Open(cfg, emb, WithClock(clock))
	require.NoError(t, err)
	ctx := context.Background()
	_, err = s.AddDocuments(ctx, "F", []DocumentInput{{Content: "a"}})
	require.NoError(t, err)

	// Simulate a crash between the Hot write and the routing write: the
	// vector lands in Hot with no routing record.
	orphanVec := []float32{0.5, 0.5, 0, 0}
	require.NoError(t, s.hot.Add(ctx, []string{"doc-orphan"}, [][]float32{orphanVec}))
	require.NoError(t, s.Persist())
	// Close without Persist picking up routing (routing never saw the orphan).
	require.NoError(t, s.Close())

	s2, err := Open(cfg, emb, WithClock(clock))
	require.NoError(t, err)
	defer s2.Close()

	assert.False(t, s2.hot.Contains("doc-orphan"))
	resp, err := s2.Search(ctx, "a", 10, SearchOptions{})
	require.NoError(t, err)
	for _, r := range resp.Results {
		assert.NotEqual(t, "doc-orphan", r.ChunkID)
	}
	stats, err := s2.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, stats.RoutingTotal, stats.Hot.Count)
}

func TestRoutingRecordMatchesSearchability(t *testing.T) {
	cfg := testConfig(t, 4)
	s, _ := openTestStore(t, cfg, scenario1Embedder())
	ctx := context.Background()

	ids, err := s.AddDocuments(ctx, "F", []DocumentInput{{Content: "a"}, {Content: "c"}})
	require.NoError(t, err)

	for _, id := range ids {
		rec, err := s.Routing().Get(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Equal(t, domain.TierHot, rec.Tier)
		assert.True(t, s.hot.Contains(id))
	}
}

func TestDocIDsContiguousAndOrdered(t *testing.T) {
	cfg := testConfig(t, 4)
	s, _ := openTestStore(t, cfg, scenario1Embedder())

	ids, err := s.AddDocuments(context.Background(), "F", []DocumentInput{
		{Content: "one one"}, {Content: "two two"}, {Content: "three three"},
	})
	require.NoError(t, err)
	require.Len(t, ids, 3)
	for i := 1; i < len(ids); i++ {
		assert.Less(t, ids[i-1], ids[i])
	}
}

func TestRebuildCold(t *testing.T) {
	cfg := testConfig(t, 4)
	cfg.Cold.RebuildMinSoftDeleted = 1
	s, clock := openTestStore(t, cfg, scenario1Embedder())
	ctx := context.Background()

	_, err := s.AddDocuments(ctx, "keep", []DocumentInput{{Content: "keep doc one"}, {Content: "keep doc two"}})
	require.NoError(t, err)
	_, err = s.AddDocuments(ctx, "drop", []DocumentInput{{Content: "drop doc one"}, {Content: "drop doc two"}})
	require.NoError(t, err)
	clock.Advance(31 * 24 * time.Hour)
	_, err = s.ArchiveOld(ctx, false)
	require.NoError(t, err)

	_, err = s.DeleteByFile(ctx, "drop")
	require.NoError(t, err)
	assert.True(t, s.NeedsColdRebuild())

	report, err := s.RebuildCold(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, report.SizeBefore)
	assert.Equal(t, 2, report.SizeAfter)
	assert.Equal(t, 2, report.PurgedDeleted)
	assert.False(t, s.NeedsColdRebuild())

	// Survivors still searchable; dropped file gone for good.
	resp, err := s.Search(ctx, "keep doc one", 10, SearchOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	for _, r := range resp.Results {
		assert.NotEqual(t, "drop", r.FileID)
	}
}

func TestRebuildColdToEmpty(t *testing.T) {
	cfg := testConfig(t, 4)
	s, clock := openTestStore(t, cfg, scenario1Embedder())
	ctx := context.Background()

	_, err := s.AddDocuments(ctx, "only", []DocumentInput{{Content: "sole doc"}})
	require.NoError(t, err)
	clock.Advance(31 * 24 * time.Hour)
	_, err = s.ArchiveOld(ctx, false)
	require.NoError(t, err)
	_, err = s.DeleteByFile(ctx, "only")
	require.NoError(t, err)

	report, err := s.RebuildCold(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.SizeAfter)

	// Cold is empty but valid: searches still succeed.
	resp, err := s.Search(ctx, "sole doc", 5, SearchOptions{})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
}

func TestOpenSelectorAdvisory(t *testing.T) {
	cfg := testConfig(t, 4)
	cfg.Hot.IndexType = "hnsw"
	emb := scenario1Embedder()
	clock := newFakeClock()

	s, err := Open(cfg, emb, WithClock(clock))
	require.NoError(t, err)
	ctx := context.Background()
	_, err = s.AddDocuments(ctx, "F", []DocumentInput{{Content: "a"}, {Content: "c"}})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// On reopen the selector recommends Flat for a 2-vector corpus; the
	// persisted HNSW structure is kept and the disagreement surfaces as
	// an advisory in stats.
	s2, err := Open(cfg, emb, WithClock(clock))
	require.NoError(t, err)
	defer s2.Close()

	stats, err := s2.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.BackendHNSW, stats.Hot.Backend)
	assert.Equal(t, domain.BackendFlat, stats.Hot.Recommended)
}

func TestOpenForceRebuildToSelectorChoice(t *testing.T) {
	cfg := testConfig(t, 4)
	cfg.Hot.IndexType = "hnsw"
	emb := scenario1Embedder()
	clock := newFakeClock()

	s, err := Open(cfg, emb, WithClock(clock))
	require.NoError(t, err)
	ctx := context.Background()
	_, err = s.AddDocuments(ctx, "F", []DocumentInput{{Content: "a"}, {Content: "c"}})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	cfg.Select.ForceRebuildOnOpen = true
	s2, err := Open(cfg, emb, WithClock(clock))
	require.NoError(t, err)
	defer s2.Close()

	stats, err := s2.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.BackendFlat, stats.Hot.Backend)
	assert.Equal(t, 2, stats.Hot.Count)
	assert.Empty(t, stats.Hot.Recommended)

	// The rebuilt tier serves the same data.
	resp, err := s2.Search(ctx, "a", 2, SearchOptions{})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "a", resp.Results[0].Content)
}

func TestHybridWeightRescaling(t *testing.T) {
	cfg := testConfig(t, 4)
	s, _ := openTestStore(t, cfg, scenario1Embedder())

	hot := []ann.Result{{ID: "h1", Distance: 0.1}}
	cold := []ann.Result{{ID: "c1", Distance: 0.2}}
	keyword := []bm25.Result{{DocID: "b1", Score: 1.0}}

	// With BM25 in play the vector lists split 1 - W_bm25 equally.
	lists := s.buildRankedLists(hot, cold, keyword, SearchOptions{})
	require.Len(t, lists, 3)
	byName := map[string]float64{}
	for _, l := range lists {
		byName[l.Name] = l.Weight
	}
	assert.InDelta(t, 0.35, byName["hot"], 1e-9)
	assert.InDelta(t, 0.35, byName["cold"], 1e-9)
	assert.InDelta(t, 0.3, byName["bm25"], 1e-9)

	// Vector-only searches keep the configured per-tier weights.
	lists = s.buildRankedLists(hot, cold, nil, SearchOptions{})
	require.Len(t, lists, 2)
	byName = map[string]float64{}
	for _, l := range lists {
		byName[l.Name] = l.Weight
	}
	assert.InDelta(t, 0.7, byName["hot"], 1e-9)
	assert.InDelta(t, 0.3, byName["cold"], 1e-9)

	// A single vector list alongside BM25 takes the whole vector share.
	lists = s.buildRankedLists(hot, nil, keyword, SearchOptions{})
	require.Len(t, lists, 2)
	for _, l := range lists {
		if l.Name == "hot" {
			assert.InDelta(t, 0.7, l.Weight, 1e-9)
		}
	}
}

func TestAddDeleteRoundTrip(t *testing.T) {
	cfg := testConfig(t, 4)
	s, _ := openTestStore(t, cfg, scenario1Embedder())
	ctx := context.Background()

	statsBefore, err := s.Stats(ctx)
	require.NoError(t, err)

	_, err = s.AddDocuments(ctx, "F", []DocumentInput{{Content: "transient doc"}})
	require.NoError(t, err)
	_, err = s.DeleteByFile(ctx, "F")
	require.NoError(t, err)

	statsAfter, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, statsBefore.RoutingTotal, statsAfter.RoutingTotal)
	assert.Equal(t, statsBefore.Hot.Count, statsAfter.Hot.Count)
	assert.Equal(t, statsBefore.BM25Docs, statsAfter.BM25Docs)
}
