// Package fusion implements Reciprocal Rank Fusion across an arbitrary
// number of weighted ranked lists (Hot, Cold, BM25).
package fusion

import (
	"math"
	"sort"
)

// DefaultConstant is RRF's smoothing constant k in score = weight/(k+rank).
// k=60 is empirically validated across domains (used by Azure AI Search,
// OpenSearch, etc.).
const DefaultConstant = 60

// RankedList is one ranked result list going into the fusion, e.g. Hot
// vector search, Cold vector search, or BM25.
type RankedList struct {
	Name   string
	Weight float64
	// Ranks maps doc ID -> 1-based rank within this list. Omit an ID to
	// mean "not present in this list".
	Ranks map[string]int
	// Distances optionally maps doc ID -> L2 distance, used to break
	// score ties (smaller distance wins). Lists without a distance
	// notion (BM25) leave this nil.
	Distances map[string]float32
}

// Fused is one document's fused result.
type Fused struct {
	ID        string
	Score     float64
	ListHits  int // how many of the input lists contained this ID
	ListRanks map[string]int
	// Distance is the smallest distance any input list reported for this
	// ID, +Inf when no list carried one.
	Distance float32
}

// RRF fuses any number of weighted ranked lists via
// score(d) = sum_i weight_i / (k + rank_i(d)). A list a document is absent
// from contributes nothing; ties are broken by smaller distance, then by
// lexicographic ID.
type RRF struct {
	K float64
}

// New returns an RRF fuser using DefaultConstant.
func New() *RRF { return &RRF{K: DefaultConstant} }

// Fuse combines lists into a single score-sorted, deterministically
// tie-broken result set.
func (r *RRF) Fuse(lists []RankedList) []Fused {
	k := r.K
	if k == 0 {
		k = DefaultConstant
	}

	scores := make(map[string]float64)
	hits := make(map[string]int)
	ranksByID := make(map[string]map[string]int)
	distByID := make(map[string]float32)

	for _, l := range lists {
		for id, rank := range l.Ranks {
			scores[id] += l.Weight / (k + float64(rank))
			hits[id]++
			if ranksByID[id] == nil {
				ranksByID[id] = make(map[string]int)
			}
			ranksByID[id][l.Name] = rank
			if d, ok := l.Distances[id]; ok {
				if prev, seen := distByID[id]; !seen || d < prev {
					distByID[id] = d
				}
			}
		}
	}

	out := make([]Fused, 0, len(scores))
	for id, s := range scores {
		d, ok := distByID[id]
		if !ok {
			d = float32(math.Inf(1))
		}
		out = append(out, Fused{ID: id, Score: s, ListHits: hits[id], ListRanks: ranksByID[id], Distance: d})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// RanksFromIDs converts an ordered ID slice (best first) into a 1-based
// rank map suitable for RankedList.Ranks.
func RanksFromIDs(ids []string) map[string]int {
	ranks := make(map[string]int, len(ids))
	for i, id := range ids {
		ranks[id] = i + 1
	}
	return ranks
}
