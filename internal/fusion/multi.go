package fusion

import "sort"

// SubQueryResult is one sub-query's contribution to a decomposed search:
// its own weight and the ranked list it produced.
type SubQueryResult struct {
	SubWeight float64
	Ranks     map[string]int
}

// MultiFused is a fused result carrying how many sub-queries surfaced it,
// used to apply the consensus boost.
type MultiFused struct {
	Fused
	SubQueryHits int
}

// MultiRRF fuses several sub-query result lists produced by query
// decomposition, boosting documents that multiple sub-queries agree on:
// score(d) = sum_i (sub_weight_i / (k + rank_i(d))) * (1 + boost*(hits-1))
type MultiRRF struct {
	K              float64
	ConsensusBoost float64
}

// NewMulti returns a MultiRRF fuser with the standard constant and a 0.1
// consensus boost.
func NewMulti() *MultiRRF {
	return &MultiRRF{K: DefaultConstant, ConsensusBoost: 0.1}
}

// Fuse combines sub-query result lists, applying the consensus boost after
// the base RRF sum so a document hit by every sub-query outranks one hit by
// only the strongest single sub-query at an equal base score.
func (m *MultiRRF) Fuse(subResults []SubQueryResult) []MultiFused {
	k := m.K
	if k == 0 {
		k = DefaultConstant
	}

	base := make(map[string]float64)
	hits := make(map[string]int)
	for _, sub := range subResults {
		for id, rank := range sub.Ranks {
			base[id] += sub.SubWeight / (k + float64(rank))
			hits[id]++
		}
	}

	out := make([]MultiFused, 0, len(base))
	for id, score := range base {
		h := hits[id]
		boosted := score * (1 + m.ConsensusBoost*float64(h-1))
		out = append(out, MultiFused{
			Fused:        Fused{ID: id, Score: boosted, ListHits: h},
			SubQueryHits: h,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].SubQueryHits != out[j].SubQueryHits {
			return out[i].SubQueryHits > out[j].SubQueryHits
		}
		return out[i].ID < out[j].ID
	})
	return out
}
