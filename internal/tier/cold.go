package tier

import (
	"context"
	"sync"

	"github.com/vretrieve/engine/internal/ann"
	"github.com/vretrieve/engine/internal/domain"
)

// Cold is the read-optimized tier. It never deletes in place: removal only
// soft-deletes (tracked by the caller's routing table), and the backend is
// rebuilt wholesale by the store's Cold rebuild, which drops the
// soft-deleted entries. Search oversamples candidates to absorb the
// soft-deleted entries that get filtered out afterward.
// DefaultOversample is the extra fraction fetched when soft-deletes are
// present, so the post-filter result set still fills k (fetch = 3k+1 total).
const DefaultOversample = 2.0

type Cold struct {
	mu          sync.RWMutex
	index       ann.Index
	oversample  float64 // fraction extra to request, e.g. 2.0 = fetch 3x
	softDeleted map[string]struct{}
}

// NewCold wraps idx as the Cold tier with the given oversample factor.
func NewCold(idx ann.Index, oversample float64) *Cold {
	return &Cold{index: idx, oversample: oversample, softDeleted: make(map[string]struct{})}
}

func (c *Cold) Backend() domain.BackendType { return c.index.Backend() }

func (c *Cold) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		delete(c.softDeleted, id)
	}
	return c.index.Add(ctx, ids, vectors)
}

// SoftDelete marks IDs as deleted without touching the backend index.
func (c *Cold) SoftDelete(ids []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		c.softDeleted[id] = struct{}{}
	}
}

func (c *Cold) Search(ctx context.Context, query []float32, k int) ([]ann.Result, error) {
	c.mu.RLock()
	hasSoftDeletes := len(c.softDeleted) > 0
	c.mu.RUnlock()

	fetch := k
	if hasSoftDeletes {
		fetch = k + int(float64(k)*c.oversample) + 1
	}
	results, err := c.index.Search(ctx, query, fetch)
	if err != nil {
		return nil, err
	}
	if !hasSoftDeletes {
		return results, nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ann.Result, 0, k)
	for _, r := range results {
		if _, dead := c.softDeleted[r.ID]; dead {
			continue
		}
		out = append(out, r)
		if len(out) == k {
			break
		}
	}
	return out, nil
}

func (c *Cold) Contains(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, dead := c.softDeleted[id]; dead {
		return false
	}
	return c.index.Contains(id)
}

func (c *Cold) AllIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	all := c.index.AllIDs()
	if len(c.softDeleted) == 0 {
		return all
	}
	out := make([]string, 0, len(all))
	for _, id := range all {
		if _, dead := c.softDeleted[id]; !dead {
			out = append(out, id)
		}
	}
	return out
}

func (c *Cold) Count() int { return len(c.AllIDs()) }

// DeletionRate returns soft-deleted / total, the numerator of the purge
// window decision (deletion_rate > 0.3 AND soft_deleted > 1000).
func (c *Cold) DeletionRate() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	total := c.index.Count()
	if total == 0 {
		return 0
	}
	return float64(len(c.softDeleted)) / float64(total)
}

func (c *Cold) SoftDeletedCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.softDeleted)
}

func (c *Cold) Index() ann.Index { return c.index }

// ReplaceIndex swaps in a new backend (from a Cold rebuild or a migration
// swap) and clears the soft-delete set.
func (c *Cold) ReplaceIndex(idx ann.Index) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.index = idx
	c.softDeleted = make(map[string]struct{})
}

func (c *Cold) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index.Close()
}
