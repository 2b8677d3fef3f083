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

// IVFIndex is an inverted-file index: vectors are assigned to the nearest
// of NList coarse centroids (trained by k-means) and a query only scans the
// NProbe closest lists instead of the whole corpus.
type IVFIndex struct {
	mu        sync.RWMutex
	cfg       Config
	centroids [][]float32
	lists     map[int][]ivfEntry // centroid index -> entries
	posByID   map[string]ivfPos
	trained   bool
	closed    bool
	rng       *rand.Rand
}

type ivfEntry struct {
	ID  string
	Vec []float32
}

type ivfPos struct {
	Centroid int
	Index    int
}

// NewIVFIndex creates an untrained IVF index. Train must be called with a
// representative sample before the first Add.
func NewIVFIndex(cfg Config) *IVFIndex {
	if cfg.NList <= 0 {
		cfg.NList = 16
	}
	if cfg.NProbe <= 0 {
		cfg.NProbe = maxInt(1, cfg.NList/10)
	}
	return &IVFIndex{
		cfg:     cfg,
		lists:   make(map[int][]ivfEntry),
		posByID: make(map[string]ivfPos),
		rng:     rand.New(rand.NewSource(1)),
	}
}

func (ix *IVFIndex) Backend() domain.BackendType { return domain.BackendIVF }

func (ix *IVFIndex) Trained() bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.trained
}

// Train fits NList centroids via Lloyd's k-means over the sample.
func (ix *IVFIndex) Train(ctx context.Context, sample [][]float32) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if len(sample) == 0 {
		return fmt.Errorf("ivf train: empty sample")
	}
	k := ix.cfg.NList
	if k > len(sample) {
		k = len(sample)
	}
	centroids := make([][]float32, k)
	perm := ix.rng.Perm(len(sample))
	for i := 0; i < k; i++ {
		src := sample[perm[i]]
		c := make([]float32, len(src))
		copy(c, src)
		centroids[i] = c
	}
	const maxIters = 10
	for iter := 0; iter < maxIters; iter++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		sums := make([][]float64, k)
		counts := make([]int, k)
		for i := range sums {
			sums[i] = make([]float64, ix.cfg.Dimensions)
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
	ix.trained = true
	return nil
}

func nearestCentroid(centroids [][]float32, v []float32, metric string) int {
	best, bestDist := 0, float32(math.MaxFloat32)
	for i, c := range centroids {
		d := distance(v, c, metric)
		if d < bestDist {
			bestDist = d
			best = i
		}
	}
	return best
}

func (ix *IVFIndex) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.closed {
		return fmt.Errorf("ivf index is closed")
	}
	if !ix.trained {
		return fmt.Errorf("ivf index must be trained before add")
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
		if pos, ok := ix.posByID[id]; ok {
			ix.lists[pos.Centroid][pos.Index] = ivfEntry{ID: id, Vec: cp}
			continue
		}
		c := nearestCentroid(ix.centroids, cp, ix.cfg.Metric)
		ix.lists[c] = append(ix.lists[c], ivfEntry{ID: id, Vec: cp})
		ix.posByID[id] = ivfPos{Centroid: c, Index: len(ix.lists[c]) - 1}
	}
	return nil
}

func (ix *IVFIndex) Remove(ctx context.Context, ids []string) (bool, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.closed {
		return false, fmt.Errorf("ivf index is closed")
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

func (ix *IVFIndex) Search(ctx context.Context, query []float32, k int) ([]Result, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if ix.closed {
		return nil, fmt.Errorf("ivf index is closed")
	}
	if len(query) != ix.cfg.Dimensions {
		return nil, domain.ErrDimensionMismatch{Expected: ix.cfg.Dimensions, Got: len(query)}
	}
	q := make([]float32, len(query))
	copy(q, query)
	if ix.cfg.Metric == "cos" {
		normalize(q)
	}

	probeLists := ix.probeOrder(q)
	results := make([]Result, 0, k*2)
	for _, c := range probeLists {
		for _, e := range ix.lists[c] {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}
			d := distance(q, e.Vec, ix.cfg.Metric)
			results = append(results, Result{ID: e.ID, Distance: d, Score: scoreFromDistance(d, ix.cfg.Metric)})
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Distance < results[j].Distance })
	if k < len(results) {
		results = results[:k]
	}
	return results, nil
}

// probeOrder ranks coarse lists by centroid proximity to q and returns the
// NProbe closest (or every list, if untrained).
func (ix *IVFIndex) probeOrder(q []float32) []int {
	if !ix.trained {
		all := make([]int, 0, len(ix.lists))
		for c := range ix.lists {
			all = append(all, c)
		}
		return all
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
	n := ix.cfg.NProbe
	if n > len(cands) {
		n = len(cands)
	}
	out := make([]int, n)
	for i := 0; i < n; i++ {
		out[i] = cands[i].c
	}
	return out
}

func (ix *IVFIndex) Contains(id string) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	_, ok := ix.posByID[id]
	return ok
}

func (ix *IVFIndex) AllIDs() []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	ids := make([]string, 0, len(ix.posByID))
	for id := range ix.posByID {
		ids = append(ids, id)
	}
	return ids
}

func (ix *IVFIndex) Count() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.posByID)
}

type ivfPersist struct {
	Cfg       Config
	Centroids [][]float32
	Trained   bool
	Lists     map[int][]ivfEntry
}

func (ix *IVFIndex) Save(path string) error {
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
	p := ivfPersist{Cfg: ix.cfg, Centroids: ix.centroids, Trained: ix.trained, Lists: ix.lists}
	if err := gob.NewEncoder(w).Encode(p); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("encode ivf index: %w", err)
	}
	if err := w.Flush(); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("flush ivf index: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close ivf index: %w", err)
	}
	return os.Rename(tmp, path)
}

func (ix *IVFIndex) Load(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open ivf index: %w", err)
	}
	defer file.Close()
	var p ivfPersist
	if err := gob.NewDecoder(bufio.NewReader(file)).Decode(&p); err != nil {
		return fmt.Errorf("decode ivf index: %w", err)
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.cfg = p.Cfg
	ix.centroids = p.Centroids
	ix.trained = p.Trained
	ix.lists = p.Lists
	if ix.lists == nil {
		ix.lists = make(map[int][]ivfEntry)
	}
	ix.posByID = make(map[string]ivfPos)
	for c, entries := range ix.lists {
		for i, e := range entries {
			ix.posByID[e.ID] = ivfPos{Centroid: c, Index: i}
		}
	}
	return nil
}

func (ix *IVFIndex) Close() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.closed = true
	ix.lists = nil
	ix.posByID = nil
	return nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

var _ Index = (*IVFIndex)(nil)
