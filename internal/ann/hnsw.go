package ann

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"

	"github.com/vretrieve/engine/internal/domain"
)

// HNSWIndex wraps coder/hnsw's pure-Go graph for the million-vector tier.
// Deletion is lazy: the underlying library corrupts its graph if the last
// node is physically removed, so IDs are only dropped from the id<->key
// mapping and the orphaned node is reclaimed on the next rebuild.
type HNSWIndex struct {
	mu      sync.RWMutex
	graph   *hnsw.Graph[uint64]
	cfg     Config
	idMap   map[string]uint64
	keyMap  map[uint64]string
	nextKey uint64
	closed  bool
}

type hnswPersist struct {
	IDMap   map[string]uint64
	NextKey uint64
	Cfg     Config
}

// NewHNSWIndex builds an empty HNSW index with the given tunables.
func NewHNSWIndex(cfg Config) *HNSWIndex {
	if cfg.M == 0 {
		cfg.M = 32
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 64
	}
	g := hnsw.NewGraph[uint64]()
	switch cfg.Metric {
	case "l2":
		g.Distance = hnsw.EuclideanDistance
	default:
		g.Distance = hnsw.CosineDistance
	}
	g.M = cfg.M
	g.EfSearch = cfg.EfSearch
	g.Ml = 0.25
	return &HNSWIndex{
		graph:  g,
		cfg:    cfg,
		idMap:  make(map[string]uint64),
		keyMap: make(map[uint64]string),
	}
}

func (h *HNSWIndex) Backend() domain.BackendType { return domain.BackendHNSW }

func (h *HNSWIndex) Trained() bool { return true }

func (h *HNSWIndex) Train(ctx context.Context, sample [][]float32) error { return nil }

func (h *HNSWIndex) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return fmt.Errorf("hnsw index is closed")
	}
	for _, v := range vectors {
		if len(v) != h.cfg.Dimensions {
			return domain.ErrDimensionMismatch{Expected: h.cfg.Dimensions, Got: len(v)}
		}
	}
	for i, id := range ids {
		if existing, ok := h.idMap[id]; ok {
			delete(h.keyMap, existing)
			delete(h.idMap, id)
		}
		key := h.nextKey
		h.nextKey++
		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		if h.cfg.Metric == "cos" {
			normalize(vec)
		}
		h.graph.Add(hnsw.MakeNode(key, vec))
		h.idMap[id] = key
		h.keyMap[key] = id
	}
	return nil
}

// Remove always reports ok=false: coder/hnsw has no safe physical delete
// when the deleted node is the last one in the graph, so callers fall back
// to tombstoning and rely on the next migration to drop orphans.
func (h *HNSWIndex) Remove(ctx context.Context, ids []string) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false, fmt.Errorf("hnsw index is closed")
	}
	for _, id := range ids {
		if key, ok := h.idMap[id]; ok {
			delete(h.keyMap, key)
			delete(h.idMap, id)
		}
	}
	return false, nil
}

func (h *HNSWIndex) Search(ctx context.Context, query []float32, k int) ([]Result, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return nil, fmt.Errorf("hnsw index is closed")
	}
	if len(query) != h.cfg.Dimensions {
		return nil, domain.ErrDimensionMismatch{Expected: h.cfg.Dimensions, Got: len(query)}
	}
	if h.graph.Len() == 0 {
		return nil, nil
	}
	q := make([]float32, len(query))
	copy(q, query)
	if h.cfg.Metric == "cos" {
		normalize(q)
	}
	nodes := h.graph.Search(q, k)
	results := make([]Result, 0, len(nodes))
	for _, n := range nodes {
		id, ok := h.keyMap[n.Key]
		if !ok {
			continue
		}
		d := h.graph.Distance(q, n.Value)
		results = append(results, Result{ID: id, Distance: d, Score: scoreFromDistance(d, h.cfg.Metric)})
	}
	return results, nil
}

func (h *HNSWIndex) Contains(id string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.idMap[id]
	return ok
}

func (h *HNSWIndex) AllIDs() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.idMap))
	for id := range h.idMap {
		ids = append(ids, id)
	}
	return ids
}

func (h *HNSWIndex) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.idMap)
}

// Orphans returns the number of graph nodes that no longer have a live ID
// mapping. Nothing in the engine acts on this count.
func (h *HNSWIndex) Orphans() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.graph.Len() - len(h.idMap)
}

func (h *HNSWIndex) Save(path string) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return fmt.Errorf("hnsw index is closed")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	tmp := path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	if err := h.graph.Export(file); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("export graph: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close index file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename index file: %w", err)
	}
	return h.saveMeta(path + ".meta")
}

func (h *HNSWIndex) saveMeta(path string) error {
	tmp := path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create meta file: %w", err)
	}
	meta := hnswPersist{IDMap: h.idMap, NextKey: h.nextKey, Cfg: h.cfg}
	if err := gob.NewEncoder(file).Encode(meta); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("encode meta: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close meta file: %w", err)
	}
	return os.Rename(tmp, path)
}

func (h *HNSWIndex) Load(path string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return fmt.Errorf("hnsw index is closed")
	}
	if err := h.loadMeta(path + ".meta"); err != nil {
		return fmt.Errorf("load meta: %w", err)
	}
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open index file: %w", err)
	}
	defer file.Close()
	if err := h.graph.Import(bufio.NewReader(file)); err != nil {
		return fmt.Errorf("import graph: %w", err)
	}
	return nil
}

func (h *HNSWIndex) loadMeta(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open meta file: %w", err)
	}
	defer func() {
		if cerr := file.Close(); cerr != nil {
			slog.Warn("close hnsw meta file", slog.String("error", cerr.Error()))
		}
	}()
	var meta hnswPersist
	if err := gob.NewDecoder(file).Decode(&meta); err != nil {
		return fmt.Errorf("decode meta: %w", err)
	}
	h.idMap = meta.IDMap
	h.nextKey = meta.NextKey
	h.cfg = meta.Cfg
	h.keyMap = make(map[uint64]string, len(h.idMap))
	for id, key := range h.idMap {
		h.keyMap[key] = id
	}
	return nil
}

func (h *HNSWIndex) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	h.graph = nil
	return nil
}

var _ Index = (*HNSWIndex)(nil)
