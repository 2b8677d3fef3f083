// Package selector implements the adaptive index selector: given a vector
// count and dimension (and a memory budget for the borderline case),
// decide which ANN backend the generational store should be using, and
// advise when a live corpus has grown past the point its current backend
// was chosen for.
package selector

import (
	"math"

	"github.com/vretrieve/engine/internal/domain"
)

// MemoryBudget distinguishes the two plausible backends in the
// 100k-1M vector range: IVF-PQ when memory is tight, plain IVF otherwise.
type MemoryBudget string

const (
	MemoryBudgetConstrained MemoryBudget = "constrained"
	MemoryBudgetAmple       MemoryBudget = "ample"
)

// Decision is the selector's recommendation for a corpus of a given size.
type Decision struct {
	Backend domain.BackendType
	NList   int
	NProbe  int
	// PQM and PQNBits are populated for the IVF-PQ backend only.
	PQM     int
	PQNBits int
}

// Select implements the corpus-size decision rule: Flat below 10k vectors,
// IVF from 10k up to 100k with nlist/nprobe derived from the corpus size,
// IVF-PQ or IVF from 100k to 1M depending on the memory budget, and HNSW
// from 1M vectors up with fixed M/efConstruction/efSearch.
func Select(vectorCount, dimension int, budget MemoryBudget) Decision {
	switch {
	case vectorCount < 10_000:
		return Decision{Backend: domain.BackendFlat}
	case vectorCount < 100_000:
		nlist := clamp(int(math.Sqrt(float64(vectorCount))), 16, 256)
		nprobe := maxInt(1, nlist/10)
		return Decision{Backend: domain.BackendIVF, NList: nlist, NProbe: nprobe}
	case vectorCount < 1_000_000:
		nlist := clamp(int(math.Sqrt(float64(vectorCount))), 16, 256)
		nprobe := maxInt(1, nlist/10)
		if budget == MemoryBudgetConstrained {
			return Decision{
				Backend: domain.BackendIVFPQ,
				NList:   nlist,
				NProbe:  nprobe,
				PQM:     PQSubvectors(dimension),
				PQNBits: 8,
			}
		}
		return Decision{Backend: domain.BackendIVF, NList: nlist, NProbe: nprobe}
	default:
		return Decision{Backend: domain.BackendHNSW}
	}
}

// PQSubvectors derives the product-quantization subvector count for a
// dimension: the largest power-of-2 divisor, clipped to 64 so codebook
// tables stay cache-friendly at high dimensions.
func PQSubvectors(dimension int) int {
	if dimension <= 0 {
		return 1
	}
	m := dimension & -dimension
	if m > 64 {
		m = 64
	}
	return m
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// UpgradeAdvisory reports whether the live backend no longer matches what
// Select would recommend for the corpus's current size. The store surfaces
// the result as an advisory; no migration is started from it.
func UpgradeAdvisory(current domain.BackendType, vectorCount, dimension int, budget MemoryBudget) (shouldUpgrade bool, recommended domain.BackendType) {
	d := Select(vectorCount, dimension, budget)
	if d.Backend == current {
		return false, current
	}
	return true, d.Backend
}
