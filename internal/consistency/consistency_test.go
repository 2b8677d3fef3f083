package consistency

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vretrieve/engine/internal/domain"
)

type fakeRouting struct {
	hot  []string
	cold []string
}

func (f *fakeRouting) ByTier(_ context.Context, tier domain.Tier) ([]domain.RoutingRecord, error) {
	var ids []string
	if tier == domain.TierHot {
		ids = f.hot
	} else {
		ids = f.cold
	}
	out := make([]domain.RoutingRecord, len(ids))
	for i, id := range ids {
		out[i] = domain.RoutingRecord{ChunkID: id, Tier: tier}
	}
	return out, nil
}

type fakeTier struct{ ids []string }

func (f *fakeTier) AllIDs() []string { return f.ids }

type fakeBM25 struct{ ids []string }

func (f *fakeBM25) AllIDs() ([]string, error) { return f.ids, nil }

func TestCleanStores(t *testing.T) {
	c := New(
		&fakeRouting{hot: []string{"a", "b"}, cold: []string{"c"}},
		&fakeTier{ids: []string{"a", "b"}},
		&fakeTier{ids: []string{"c"}},
		&fakeBM25{ids: []string{"a", "b", "c"}},
	)
	res, err := c.Check(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Clean())
	assert.Equal(t, 3, res.Checked)
}

func TestDetectsHotOrphan(t *testing.T) {
	// "ghost" is in the Hot index but has no routing record: the shape a
	// crash between the ANN write and the routing write leaves behind.
	c := New(
		&fakeRouting{hot: []string{"a"}},
		&fakeTier{ids: []string{"a", "ghost"}},
		nil, nil,
	)
	res, err := c.Check(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Issues, 1)
	assert.Equal(t, OrphanHot, res.Issues[0].Type)
	assert.Equal(t, "ghost", res.Issues[0].ChunkID)
}

func TestDetectsMissingAndOrphanAcrossStores(t *testing.T) {
	c := New(
		&fakeRouting{hot: []string{"a", "lost"}, cold: []string{"c"}},
		&fakeTier{ids: []string{"a"}},
		&fakeTier{ids: []string{"c", "stale"}},
		&fakeBM25{ids: []string{"a", "zombie"}},
	)
	res, err := c.Check(context.Background())
	require.NoError(t, err)

	byType := ByType(res.Issues)
	assert.Equal(t, []string{"lost"}, byType[MissingHot])
	assert.Equal(t, []string{"stale"}, byType[OrphanCold])
	assert.Equal(t, []string{"zombie"}, byType[OrphanBM25])
	// "lost" and "c" are routed but absent from BM25.
	assert.ElementsMatch(t, []string{"lost", "c"}, byType[MissingBM25])
}

func TestNilOptionalStores(t *testing.T) {
	c := New(&fakeRouting{hot: []string{"a"}}, &fakeTier{ids: []string{"a"}}, nil, nil)
	res, err := c.Check(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Clean())
}
