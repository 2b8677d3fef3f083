package ann

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/vretrieve/engine/internal/domain"
)

// FlatIndex is an exact brute-force index: every search scans all vectors.
// Correct by construction, used below vector_count 10_000 where O(n*d) is
// cheaper than the bookkeeping an approximate structure would add.
type FlatIndex struct {
	mu     sync.RWMutex
	cfg    Config
	ids    []string
	vecs   [][]float32
	index  map[string]int // id -> position in ids/vecs
	closed bool
}

// NewFlatIndex creates an empty flat index.
func NewFlatIndex(cfg Config) *FlatIndex {
	return &FlatIndex{
		cfg:   cfg,
		index: make(map[string]int),
	}
}

func (f *FlatIndex) Backend() domain.BackendType { return domain.BackendFlat }

func (f *FlatIndex) Trained() bool { return true }

func (f *FlatIndex) Train(ctx context.Context, sample [][]float32) error { return nil }

func (f *FlatIndex) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return fmt.Errorf("flat index is closed")
	}
	for i, id := range ids {
		v := vectors[i]
		if len(v) != f.cfg.Dimensions {
			return domain.ErrDimensionMismatch{Expected: f.cfg.Dimensions, Got: len(v)}
		}
		cp := make([]float32, len(v))
		copy(cp, v)
		if f.cfg.Metric == "cos" {
			normalize(cp)
		}
		if pos, ok := f.index[id]; ok {
			f.vecs[pos] = cp
			continue
		}
		f.index[id] = len(f.ids)
		f.ids = append(f.ids, id)
		f.vecs = append(f.vecs, cp)
	}
	return nil
}

func (f *FlatIndex) Remove(ctx context.Context, ids []string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false, fmt.Errorf("flat index is closed")
	}
	for _, id := range ids {
		pos, ok := f.index[id]
		if !ok {
			continue
		}
		last := len(f.ids) - 1
		f.ids[pos] = f.ids[last]
		f.vecs[pos] = f.vecs[last]
		f.index[f.ids[pos]] = pos
		f.ids = f.ids[:last]
		f.vecs = f.vecs[:last]
		delete(f.index, id)
	}
	return true, nil
}

func (f *FlatIndex) Search(ctx context.Context, query []float32, k int) ([]Result, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return nil, fmt.Errorf("flat index is closed")
	}
	if len(query) != f.cfg.Dimensions {
		return nil, domain.ErrDimensionMismatch{Expected: f.cfg.Dimensions, Got: len(query)}
	}
	q := make([]float32, len(query))
	copy(q, query)
	if f.cfg.Metric == "cos" {
		normalize(q)
	}
	results := make([]Result, 0, len(f.ids))
	for i, v := range f.vecs {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		d := distance(q, v, f.cfg.Metric)
		results = append(results, Result{ID: f.ids[i], Distance: d, Score: scoreFromDistance(d, f.cfg.Metric)})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Distance < results[j].Distance })
	if k < len(results) {
		results = results[:k]
	}
	return results, nil
}

func (f *FlatIndex) Contains(id string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.index[id]
	return ok
}

func (f *FlatIndex) AllIDs() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, len(f.ids))
	copy(out, f.ids)
	return out
}

func (f *FlatIndex) Count() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.ids)
}

type flatPersist struct {
	Cfg  Config
	IDs  []string
	Vecs [][]float32
}

func (f *FlatIndex) Save(path string) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	tmp := path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	w := bufio.NewWriter(file)
	enc := gob.NewEncoder(w)
	if err := enc.Encode(flatPersist{Cfg: f.cfg, IDs: f.ids, Vecs: f.vecs}); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("encode flat index: %w", err)
	}
	if err := w.Flush(); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("flush flat index: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close flat index: %w", err)
	}
	return os.Rename(tmp, path)
}

func (f *FlatIndex) Load(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open flat index: %w", err)
	}
	defer file.Close()
	var p flatPersist
	if err := gob.NewDecoder(bufio.NewReader(file)).Decode(&p); err != nil {
		return fmt.Errorf("decode flat index: %w", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cfg = p.Cfg
	f.ids = p.IDs
	f.vecs = p.Vecs
	f.index = make(map[string]int, len(f.ids))
	for i, id := range f.ids {
		f.index[id] = i
	}
	return nil
}

func (f *FlatIndex) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.ids = nil
	f.vecs = nil
	f.index = nil
	return nil
}

func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}

func distance(a, b []float32, metric string) float32 {
	switch metric {
	case "l2":
		var sum float64
		for i := range a {
			d := float64(a[i]) - float64(b[i])
			sum += d * d
		}
		return float32(math.Sqrt(sum))
	default: // cosine distance on already-normalized vectors
		var dot float64
		for i := range a {
			dot += float64(a[i]) * float64(b[i])
		}
		return float32(1 - dot)
	}
}

func scoreFromDistance(d float32, metric string) float32 {
	switch metric {
	case "l2":
		return 1.0 / (1.0 + d)
	default:
		return 1.0 - d
	}
}

var _ Index = (*FlatIndex)(nil)
