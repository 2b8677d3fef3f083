// Package tier implements the Hot and Cold generations of the store: Hot
// absorbs writes and tries to physically delete, falling back to
// tombstoning when the backend can't; Cold is read-optimized, soft-delete
// only, and rebuilt rather than mutated in place.
package tier

import (
	"context"
	"fmt"
	"sync"

	"github.com/vretrieve/engine/internal/ann"
	"github.com/vretrieve/engine/internal/domain"
)

// Hot is the write-absorbing tier. It owns a single ANN backend (normally
// Flat or small IVF, chosen by the selector) and attempts a real delete on
// every removal, falling back to a tombstone set when the backend can't
// physically remove entries (HNSW's lazy-delete limitation).
type Hot struct {
	mu         sync.RWMutex
	index      ann.Index
	tombstones map[string]struct{}
	maxSize    int
}

// NewHot wraps idx as the Hot tier with the given capacity advisory (read
// by NearCapacity; it is not enforced as a hard cap here).
func NewHot(idx ann.Index, maxSize int) *Hot {
	return &Hot{index: idx, tombstones: make(map[string]struct{}), maxSize: maxSize}
}

func (h *Hot) Backend() domain.BackendType { return h.index.Backend() }

func (h *Hot) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, id := range ids {
		delete(h.tombstones, id)
	}
	return h.index.Add(ctx, ids, vectors)
}

// Delete attempts a physical remove; if the backend reports it cannot
// (ok=false), the ID is tombstoned instead so search results still exclude
// it until the next migration drops the orphaned vector for good.
func (h *Hot) Delete(ctx context.Context, ids []string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	ok, err := h.index.Remove(ctx, ids)
	if err != nil {
		return fmt.Errorf("hot delete: %w", err)
	}
	if !ok {
		for _, id := range ids {
			h.tombstones[id] = struct{}{}
		}
	}
	return nil
}

func (h *Hot) Search(ctx context.Context, query []float32, k int) ([]ann.Result, error) {
	h.mu.RLock()
	tombstoned := len(h.tombstones) > 0
	h.mu.RUnlock()

	fetch := k
	if tombstoned {
		fetch = k * 2
	}
	results, err := h.index.Search(ctx, query, fetch)
	if err != nil {
		return nil, err
	}
	if !tombstoned {
		return results, nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]ann.Result, 0, k)
	for _, r := range results {
		if _, dead := h.tombstones[r.ID]; dead {
			continue
		}
		out = append(out, r)
		if len(out) == k {
			break
		}
	}
	return out, nil
}

func (h *Hot) Contains(id string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, dead := h.tombstones[id]; dead {
		return false
	}
	return h.index.Contains(id)
}

func (h *Hot) AllIDs() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	all := h.index.AllIDs()
	if len(h.tombstones) == 0 {
		return all
	}
	out := make([]string, 0, len(all))
	for _, id := range all {
		if _, dead := h.tombstones[id]; !dead {
			out = append(out, id)
		}
	}
	return out
}

func (h *Hot) Count() int { return len(h.AllIDs()) }

// NearCapacity reports whether Hot holds at least its configured advisory
// size.
func (h *Hot) NearCapacity() bool {
	if h.maxSize <= 0 {
		return false
	}
	return h.Count() >= h.maxSize
}

func (h *Hot) Index() ann.Index { return h.index }

// ReplaceIndex swaps in a newly migrated backend, used by the migrator's
// atomic-swap step.
func (h *Hot) ReplaceIndex(idx ann.Index) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.index = idx
	h.tombstones = make(map[string]struct{})
}

func (h *Hot) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.index.Close()
}
