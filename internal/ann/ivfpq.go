package ann

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/vretrieve/engine/internal/domain"
)

// IVFPQIndex is an inverted-file index whose residuals are product-quantized:
// each vector's distance to its coarse centroid is split into PQSubvectors
// chunks, and each chunk is replaced by the index of its closest of 2^PQBits
// sub-centroids. This trades exact distances for an index an order of
// magnitude smaller than storing full float32 vectors, which is the point
// once the corpus crosses the memory-budget line from plain IVF.
type IVFPQIndex struct {
	mu        sync.RWMutex
	cfg       Config
	centroids [][]float32   // coarse centroids, NList x D
	codebooks [][][]float32 // [subvector][code] -> sub-centroid
	subDims   int
	trained   bool
	closed    bool
	lists     map[int][]pqEntry
	posByID   map[string]ivfPos
	rng       *rand.Rand
}

type pqEntry struct {
	ID   string
	Code []byte
}

// NewIVFPQIndex creates an untrained IVF-PQ index.
func NewIVFPQIndex(cfg Config) *IVFPQIndex {
	if cfg.NList <= 0 {
		cfg.NList = 16
	}
	if cfg.NProbe <= 0 {
		cfg.NProbe = maxInt(1, cfg.NList/10)
	}
	if cfg.PQSubvectors <= 0 {
		cfg.PQSubvectors = 8
	}
	if cfg.PQBits <= 0 {
		cfg.PQBits = 8
	}
	return &IVFPQIndex{
		cfg:     cfg,
		lists:   make(map[int][]pqEntry),
		posByID: make(map[string]ivfPos),
		rng:     rand.New(rand.NewSource(1)),
	}
}

func (ix *IVFPQIndex) Backend() domain.BackendType { return domain.BackendIVFPQ }

func (ix *IVFPQIndex) Trained() bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.trained
}

// Train fits the coarse quantizer and then, for each subspace, a codebook
// of 2^PQBits centroids over the coarse-residuals of the training sample.
func (ix *IVFPQIndex) Train(ctx context.Context, sample [][]float32) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if len(sample) == 0 {
		return fmt.Errorf("ivfpq train: empty sample")
	}
	dim := ix.cfg.Dimensions
	ix.subDims = dim / ix.cfg.PQSubvectors
	if ix.subDims == 0 {
		ix.subDims = 1
	}

	k := ix.cfg.NList
	if k > len(sample) {
		k = len(sample)
	}
	centroids := make([][]float32, k)
	perm := ix.rng.Perm(len(sample))
	for i := 0; i < k; i++ {
		c := make([]float32, dim)
		copy(c, sample[perm[i]])
		centroids[i] = c
	}
	for iter := 0; iter < 10; iter++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		sums := make([][]float64, k)
		counts := make([]int, k)
		for i := range sums {
			sums[i] = make([]float64, dim)
		}
		for _, v := range sample {
			best := nearestCentroid(centroids, v, ix.cfg.Metric)
			counts[best]++
			for d, x := range v {
				sums[best][d] += float64(x)
			}
		}
		for i := range centroids {
			if counts[i] == 0 {
				continue
			}
			for d := range centroids[i] {
				centroids[i][d] = float32(sums[i][d] / float64(counts[i]))
			}
		}
	}
	ix.centroids = centroids

	codeCount := 1 << uint(ix.cfg.PQBits)
	if codeCount > 256 {
		codeCount = 256
	}
	residuals := make([][]float32, len(sample))
	for i, v := range sample {
		c := centroids[nearestCentroid(centroids, v, ix.cfg.Metric)]
		r := make([]float32, dim)
		for d := range v {
			r[d] = v[d] - c[d]
		}
		residuals[i] = r
	}

	codebooks := make([][][]float32, ix.cfg.PQSubvectors)
	for s := 0; s < ix.cfg.PQSubvectors; s++ {
		start := s * ix.subDims
		end := start + ix.subDims
		if end > dim {
			end = dim
		}
		subs := make([][]float32, len(residuals))
		for i, r := range residuals {
			subs[i] = r[start:end]
		}
		codebooks[s] = kmeansSub(subs, codeCount, ix.rng)
	}
	ix.codebooks = codebooks
	ix.trained = true
	return nil
}

func kmeansSub(vectors [][]float32, k int, rng *rand.Rand) [][]float32 {
	if k > len(vectors) {
		k = len(vectors)
	}
	if k == 0 {
		return nil
	}
	dim := len(vectors[0])
	centroids := make([][]float32, k)
	perm := rng.Perm(len(vectors))
	for i := 0; i < k; i++ {
		c := make([]float32, dim)
		copy(c, vectors[perm[i]])
		centroids[i] = c
	}
	for iter := 0; iter < 6; iter++ {
		sums := make([][]float64, k)
		counts := make([]int, k)
		for i := range sums {
			sums[i] = make([]float64, dim)
		}
		for _, v := range vectors {
			best := nearestCentroid(centroids, v, "l2")
			counts[best]++
			for d, x := range v {
				sums[best][d] += float64(x)
			}
		}
		for i := range centroids {
			if counts[i] == 0 {
				continue
			}
			for d := range centroids[i] {
				centroids[i][d] = float32(sums[i][d] / float64(counts[i]))
			}
		}
	}
	return centroids
}

func (ix *IVFPQIndex) encode(residual []float32) []byte {
	code := make([]byte, len(ix.codebooks))
	for s, codebook := range ix.codebooks {
		start := s * ix.subDims
		end := start + ix.subDims
		if end > len(residual) {
			end = len(residual)
		}
		sub := residual[start:end]
		best, bestDist := 0, float32(math.MaxFloat32)
		for ci, c := range codebook {
			d := distance(sub, c, "l2")
			if d < bestDist {
				bestDist = d
				best = ci
			}
		}
		code[s] = byte(best)
	}
	return code
}

func (ix *IVFPQIndex) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.closed {
		return fmt.Errorf("ivfpq index is closed")
	}
	if !ix.trained {
		return fmt.Errorf("ivfpq index must be trained before add")
	}
	for i, id := range ids {
		v := vectors[i]
		if len(v) != ix.cfg.Dimensions {
			return domain.ErrDimensionMismatch{Expected: ix.cfg.Dimensions, Got: len(v)}
		}
		cp := make([]float32, len(v))
		copy(cp, v)
		if ix.cfg.Metric == "cos" {
			normalize(cp)
		}
		c := nearestCentroid(ix.centroids, cp, ix.cfg.Metric)
		residual := make([]float32, len(cp))
		for d := range cp {
			residual[d] = cp[d] - ix.centroids[c][d]
		}
		code := ix.encode(residual)
		if pos, ok := ix.posByID[id]; ok {
			ix.lists[pos.Centroid][pos.Index] = pqEntry{ID: id, Code: code}
			continue
		}
		ix.lists[c] = append(ix.lists[c], pqEntry{ID: id, Code: code})
		ix.posByID[id] = ivfPos{Centroid: c, Index: len(ix.lists[c]) - 1}
	}
	return nil
}

func (ix *IVFPQIndex) Remove(ctx context.Context, ids []string) (bool, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.closed {
		return false, fmt.Errorf("ivfpq index is closed")
	}
	for _, id := range ids {
		pos, ok := ix.posByID[id]
		if !ok {
			continue
		}
		list := ix.lists[pos.Centroid]
		last := len(list) - 1
		list[pos.Index] = list[last]
		ix.posByID[list[pos.Index].ID] = pos
		ix.lists[pos.Centroid] = list[:last]
		delete(ix.posByID, id)
	}
	return true, nil
}

// asymmetricDistance computes the approximate distance from the raw query
// residual to a PQ code by summing precomputed per-subvector distance
// tables, avoiding any codebook decode.
func (ix *IVFPQIndex) asymmetricDistance(tables [][]float32, code []byte) float32 {
	var sum float32
	for s, c := range code {
		sum += tables[s][int(c)]
	}
	return sum
}

func (ix *IVFPQIndex) buildTables(residual []float32) [][]float32 {
	tables := make([][]float32, len(ix.codebooks))
	for s, codebook := range ix.codebooks {
		start := s * ix.subDims
		end := start + ix.subDims
		if end > len(residual) {
			end = len(residual)
		}
		sub := residual[start:end]
		t := make([]float32, len(codebook))
		for ci, c := range codebook {
			t[ci] = distance(sub, c, "l2")
		}
		tables[s] = t
	}
	return tables
}

func (ix *IVFPQIndex) Search(ctx context.Context, query []float32, k int) ([]Result, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if ix.closed {
		return nil, fmt.Errorf("ivfpq index is closed")
	}
	if len(query) != ix.cfg.Dimensions {
		return nil, domain.ErrDimensionMismatch{Expected: ix.cfg.Dimensions, Got: len(query)}
	}
	if !ix.trained {
		return nil, fmt.Errorf("ivfpq index has not been trained")
	}
	q := make([]float32, len(query))
	copy(q, query)
	if ix.cfg.Metric == "cos" {
		normalize(q)
	}

	type cd struct {
		c int
		d float32
	}
	cands := make([]cd, len(ix.centroids))
	for i, c := range ix.centroids {
		cands[i] = cd{i, distance(q, c, ix.cfg.Metric)}
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].d < cands[j].d })
	nprobe := ix.cfg.NProbe
	if nprobe > len(cands) {
		nprobe = len(cands)
	}

	results := make([]Result, 0, k*2)
	for p := 0; p < nprobe; p++ {
		c := cands[p].c
		residual := make([]float32, len(q))
		for d := range q {
			residual[d] = q[d] - ix.centroids[c][d]
		}
		tables := ix.buildTables(residual)
		for _, e := range ix.lists[c] {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}
			d := ix.asymmetricDistance(tables, e.Code)
			results = append(results, Result{ID: e.ID, Distance: d, Score: scoreFromDistance(d, "l2")})
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Distance < results[j].Distance })
	if k < len(results) {
		results = results[:k]
	}
	return results, nil
}

func (ix *IVFPQIndex) Contains(id string) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	_, ok := ix.posByID[id]
	return ok
}

func (ix *IVFPQIndex) AllIDs() []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	ids := make([]string, 0, len(ix.posByID))
	for id := range ix.posByID {
		ids = append(ids, id)
	}
	return ids
}

func (ix *IVFPQIndex) Count() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.posByID)
}

type ivfpqPersist struct {
	Cfg       Config
	Centroids [][]float32
	Codebooks [][][]float32
	SubDims   int
	Trained   bool
	Lists     map[int][]pqEntry
}

func (ix *IVFPQIndex) Save(path string) error {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	tmp := path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	w := bufio.NewWriter(file)
	p := ivfpqPersist{
		Cfg: ix.cfg, Centroids: ix.centroids, Codebooks: ix.codebooks,
		SubDims: ix.subDims, Trained: ix.trained, Lists: ix.lists,
	}
	if err := gob.NewEncoder(w).Encode(p); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("encode ivfpq index: %w", err)
	}
	if err := w.Flush(); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("flush ivfpq index: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close ivfpq index: %w", err)
	}
	return os.Rename(tmp, path)
}

func (ix *IVFPQIndex) Load(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open ivfpq index: %w", err)
	}
	defer file.Close()
	var p ivfpqPersist
	if err := gob.NewDecoder(bufio.NewReader(file)).Decode(&p); err != nil {
		return fmt.Errorf("decode ivfpq index: %w", err)
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.cfg = p.Cfg
	ix.centroids = p.Centroids
	ix.codebooks = p.Codebooks
	ix.subDims = p.SubDims
	ix.trained = p.Trained
	ix.lists = p.Lists
	if ix.lists == nil {
		ix.lists = make(map[int][]pqEntry)
	}
	ix.posByID = make(map[string]ivfPos)
	for c, entries := range ix.lists {
		for i, e := range entries {
			ix.posByID[e.ID] = ivfPos{Centroid: c, Index: i}
		}
	}
	return nil
}

func (ix *IVFPQIndex) Close() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.closed = true
	ix.lists = nil
	ix.posByID = nil
	return nil
}

var _ Index = (*IVFPQIndex)(nil)
