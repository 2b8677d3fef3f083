package fusion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFuseEmpty(t *testing.T) {
	f := New()
	out := f.Fuse(nil)
	assert.Empty(t, out)

	out = f.Fuse([]RankedList{{Name: "hot", Weight: 0.7, Ranks: map[string]int{}}})
	assert.Empty(t, out)
}

func TestFuseThreeLists(t *testing.T) {
	// Hybrid weighting: BM25 carries 0.3 and the two vector lists split
	// the remaining 0.7 (0.35 each). Hot=[A,B,C], Cold=[D,B,E],
	// BM25=[B,F,A]: B is in all three lists, A in two, D only tops
	// Cold's list, so the fused head must be B, A, D in that order.
	f := New()
	out := f.Fuse([]RankedList{
		{Name: "hot", Weight: 0.35, Ranks: RanksFromIDs([]string{"A", "B", "C"})},
		{Name: "cold", Weight: 0.35, Ranks: RanksFromIDs([]string{"D", "B", "E"})},
		{Name: "bm25", Weight: 0.3, Ranks: RanksFromIDs([]string{"B", "F", "A"})},
	})
	require.GreaterOrEqual(t, len(out), 3)
	assert.Equal(t, "B", out[0].ID)
	assert.Equal(t, "A", out[1].ID)
	assert.Equal(t, "D", out[2].ID)
	assert.Equal(t, 3, out[0].ListHits)
	assert.Equal(t, 2, out[1].ListHits)
	assert.Equal(t, 1, out[2].ListHits)
}

func TestFuseScoreFormula(t *testing.T) {
	f := New()
	out := f.Fuse([]RankedList{
		{Name: "hot", Weight: 0.7, Ranks: map[string]int{"A": 1}},
	})
	require.Len(t, out, 1)
	assert.InDelta(t, 0.7/61.0, out[0].Score, 1e-12)
}

func TestFuseTieBreakByDistance(t *testing.T) {
	// Same weight, same rank in symmetric lists -> identical scores; the
	// document with the smaller reported distance must rank first even
	// though its ID sorts later.
	f := New()
	out := f.Fuse([]RankedList{
		{Name: "hot", Weight: 0.5, Ranks: map[string]int{"zzz": 1}, Distances: map[string]float32{"zzz": 0.1}},
		{Name: "cold", Weight: 0.5, Ranks: map[string]int{"aaa": 1}, Distances: map[string]float32{"aaa": 0.9}},
	})
	require.Len(t, out, 2)
	assert.Equal(t, "zzz", out[0].ID)
	assert.Equal(t, "aaa", out[1].ID)
}

func TestFuseTieBreakByID(t *testing.T) {
	f := New()
	out := f.Fuse([]RankedList{
		{Name: "hot", Weight: 0.5, Ranks: map[string]int{"b": 1}},
		{Name: "cold", Weight: 0.5, Ranks: map[string]int{"a": 1}},
	})
	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].ID)
	assert.Equal(t, "b", out[1].ID)
}

func TestFuseAbsentListContributesNothing(t *testing.T) {
	f := New()
	out := f.Fuse([]RankedList{
		{Name: "hot", Weight: 0.7, Ranks: RanksFromIDs([]string{"A", "B"})},
		{Name: "bm25", Weight: 0.3, Ranks: RanksFromIDs([]string{"B"})},
	})
	require.Len(t, out, 2)
	// B: 0.7/62 + 0.3/61; A: 0.7/61.
	assert.Equal(t, "B", out[0].ID)
	assert.InDelta(t, 0.7/62.0+0.3/61.0, out[0].Score, 1e-12)
	assert.InDelta(t, 0.7/61.0, out[1].Score, 1e-12)
}

func TestRanksFromIDs(t *testing.T) {
	ranks := RanksFromIDs([]string{"x", "y"})
	assert.Equal(t, map[string]int{"x": 1, "y": 2}, ranks)
	assert.Empty(t, RanksFromIDs(nil))
}

func TestMultiFuseConsensusBoost(t *testing.T) {
	m := NewMulti()
	out := m.Fuse([]SubQueryResult{
		{SubWeight: 1.0, Ranks: map[string]int{"A": 1, "B": 2}},
		{SubWeight: 1.0, Ranks: map[string]int{"B": 1, "C": 2}},
	})
	require.Len(t, out, 3)
	// B appears in both sub-queries and gets the consensus boost on top
	// of its base sum, so it must lead.
	assert.Equal(t, "B", out[0].ID)
	assert.Equal(t, 2, out[0].SubQueryHits)
	base := 1.0/62.0 + 1.0/61.0
	assert.InDelta(t, base*(1+0.1), out[0].Score, 1e-12)
}
