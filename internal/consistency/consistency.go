// Package consistency validates cross-store agreement between the routing
// table (the source of truth), the vector tiers, and the BM25 index. It
// detects orphans (indexed but unrouted) and missing entries (routed but
// unindexed), the two shapes a crash between writes can leave behind.
package consistency

import (
	"context"
	"log/slog"
	"time"

	"github.com/vretrieve/engine/internal/domain"
)

// IssueType categorizes a detected inconsistency.
type IssueType string

const (
	OrphanHot   IssueType = "orphan_hot"
	OrphanCold  IssueType = "orphan_cold"
	OrphanBM25  IssueType = "orphan_bm25"
	MissingHot  IssueType = "missing_hot"
	MissingCold IssueType = "missing_cold"
	MissingBM25 IssueType = "missing_bm25"
)

// Issue is one detected cross-store problem.
type Issue struct {
	Type    IssueType
	ChunkID string
}

// Result is the outcome of a full check.
type Result struct {
	Checked  int
	Issues   []Issue
	Duration time.Duration
}

// Clean reports whether the check found nothing wrong.
func (r *Result) Clean() bool { return len(r.Issues) == 0 }

// RoutingReader is the authoritative ID source.
type RoutingReader interface {
	ByTier(ctx context.Context, tier domain.Tier) ([]domain.RoutingRecord, error)
}

// TierReader is a vector tier's ID surface.
type TierReader interface {
	AllIDs() []string
}

// BM25Reader is the keyword index's ID surface.
type BM25Reader interface {
	AllIDs() ([]string, error)
}

// Checker compares the stores. Cold and BM25 readers are optional; nil
// skips their checks.
type Checker struct {
	routing RoutingReader
	hot     TierReader
	cold    TierReader
	bm25    BM25Reader
}

// New creates a Checker over the given stores.
func New(routing RoutingReader, hot, cold TierReader, bm25 BM25Reader) *Checker {
	return &Checker{routing: routing, hot: hot, cold: cold, bm25: bm25}
}

// Check scans all stores. O(n) in the total entry count.
func (c *Checker) Check(ctx context.Context) (*Result, error) {
	start := time.Now()
	var issues []Issue

	routedHot, err := routedSet(ctx, c.routing, domain.TierHot)
	if err != nil {
		return nil, err
	}
	routedCold, err := routedSet(ctx, c.routing, domain.TierCold)
	if err != nil {
		return nil, err
	}

	hotSet := toSet(c.hot.AllIDs())
	for id := range hotSet {
		if _, ok := routedHot[id]; !ok {
			issues = append(issues, Issue{Type: OrphanHot, ChunkID: id})
		}
	}
	for id := range routedHot {
		if _, ok := hotSet[id]; !ok {
			issues = append(issues, Issue{Type: MissingHot, ChunkID: id})
		}
	}

	if c.cold != nil {
		coldSet := toSet(c.cold.AllIDs())
		for id := range coldSet {
			if _, ok := routedCold[id]; !ok {
				issues = append(issues, Issue{Type: OrphanCold, ChunkID: id})
			}
		}
		for id := range routedCold {
			if _, ok := coldSet[id]; !ok {
				issues = append(issues, Issue{Type: MissingCold, ChunkID: id})
			}
		}
	}

	if c.bm25 != nil {
		bm25IDs, err := c.bm25.AllIDs()
		if err != nil {
			slog.Warn("bm25 ids unavailable for consistency check", slog.String("error", err.Error()))
		} else {
			bm25Set := toSet(bm25IDs)
			for id := range bm25Set {
				_, inHot := routedHot[id]
				_, inCold := routedCold[id]
				if !inHot && !inCold {
					issues = append(issues, Issue{Type: OrphanBM25, ChunkID: id})
				}
			}
			for id := range routedHot {
				if _, ok := bm25Set[id]; !ok {
					issues = append(issues, Issue{Type: MissingBM25, ChunkID: id})
				}
			}
			for id := range routedCold {
				if _, ok := bm25Set[id]; !ok {
					issues = append(issues, Issue{Type: MissingBM25, ChunkID: id})
				}
			}
		}
	}

	return &Result{
		Checked:  len(routedHot) + len(routedCold),
		Issues:   issues,
		Duration: time.Since(start),
	}, nil
}

func routedSet(ctx context.Context, r RoutingReader, tier domain.Tier) (map[string]struct{}, error) {
	records, err := r.ByTier(ctx, tier)
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(records))
	for _, rec := range records {
		if !rec.SoftDel {
			set[rec.ChunkID] = struct{}{}
		}
	}
	return set, nil
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// ByType groups issues for reporting.
func ByType(issues []Issue) map[IssueType][]string {
	out := make(map[IssueType][]string)
	for _, i := range issues {
		out[i.Type] = append(out[i.Type], i.ChunkID)
	}
	return out
}
