// Package bm25 keeps the keyword half of hybrid retrieval: a Bleve-backed
// inverted index over chunk content, kept in sync with the vector tiers
// and queried with BM25 scoring for RRF fusion.
package bm25

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"
	"github.com/blevesearch/bleve/v2/search"
)

const (
	// TokenizerName is the registry name of the engine's tokenizer.
	TokenizerName = "retrieval_tokenizer"

	// AnalyzerName is the registry name of the engine's analyzer.
	AnalyzerName = "retrieval_analyzer"
)

// Bleve resolves analyzers through a process-global registry, so the
// active Tokeniser is necessarily process-wide. SetTokeniser must be
// called before the first Manager is created to take effect.
var (
	tokMu           sync.RWMutex
	activeTokeniser Tokeniser = DefaultTokeniser{}
)

// SetTokeniser installs the Tokeniser every subsequently created index uses.
func SetTokeniser(t Tokeniser) {
	if t == nil {
		return
	}
	tokMu.Lock()
	activeTokeniser = t
	tokMu.Unlock()
}

func init() {
	_ = registry.RegisterTokenizer(TokenizerName, func(config map[string]interface{}, cache *registry.Cache) (analysis.Tokenizer, error) {
		return &bleveTokeniser{}, nil
	})
}

// bleveTokeniser adapts the injected Tokeniser to Bleve's token stream.
type bleveTokeniser struct{}

func (t *bleveTokeniser) Tokenize(input []byte) analysis.TokenStream {
	tokMu.RLock()
	tok := activeTokeniser
	tokMu.RUnlock()

	text := string(input)
	terms := tok.Tokenise(text)

	out := make(analysis.TokenStream, 0, len(terms))
	pos := 1
	offset := 0
	for _, term := range terms {
		start := strings.Index(strings.ToLower(text[offset:]), strings.ToLower(term))
		if start == -1 {
			start = offset
		} else {
			start += offset
		}
		end := start + len(term)
		out = append(out, &analysis.Token{
			Term:     []byte(term),
			Start:    start,
			End:      end,
			Position: pos,
			Type:     analysis.AlphaNumeric,
		})
		pos++
		if end <= len(text) {
			offset = end
		}
	}
	return out
}

// Config carries the BM25 scoring parameters. Bleve does not expose
// per-index overrides for them, so any value other than the standard
// k1=1.2, b=0.75 is rejected by NewManager rather than silently ignored;
// the engine-wide config validation enforces the same rule earlier.
type Config struct {
	K1 float64
	B  float64
}

// DefaultConfig returns the standard BM25 parameters.
func DefaultConfig() Config {
	return Config{K1: 1.2, B: 0.75}
}

// Result is one BM25 hit, shaped for RRF fusion.
type Result struct {
	DocID        string
	Score        float64
	MatchedTerms []string
}

// Manager wraps a Bleve index holding one document per chunk. If path is
// empty the index lives in memory (tests); otherwise Bleve persists writes
// itself and Manager only adds corruption recovery at open.
type Manager struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	config Config
	closed bool
}

type indexedDoc struct {
	Content string `json:"content"`
}

// NewManager creates or opens the BM25 index at path.
func NewManager(path string, cfg Config) (*Manager, error) {
	if cfg.K1 != 1.2 || cfg.B != 0.75 {
		return nil, fmt.Errorf("bm25 scoring is fixed at k1=1.2 b=0.75; got k1=%v b=%v", cfg.K1, cfg.B)
	}
	im, err := createIndexMapping()
	if err != nil {
		return nil, fmt.Errorf("create index mapping: %w", err)
	}

	var idx bleve.Index
	if path == "" {
		idx, err = bleve.NewMemOnly(im)
	} else {
		if mkErr := os.MkdirAll(filepath.Dir(path), 0755); mkErr != nil {
			return nil, fmt.Errorf("create bm25 dir: %w", mkErr)
		}
		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, im)
		} else if err != nil && isCorruptionError(err) {
			slog.Warn("bm25 index corrupted, clearing",
				slog.String("path", path),
				slog.String("error", err.Error()))
			if rmErr := os.RemoveAll(path); rmErr != nil {
				return nil, fmt.Errorf("bm25 index corrupted and cannot clear: %w (original: %v)", rmErr, err)
			}
			idx, err = bleve.New(path, im)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("create/open bm25 index: %w", err)
	}

	return &Manager{index: idx, path: path, config: cfg}, nil
}

func createIndexMapping() (*mapping.IndexMappingImpl, error) {
	im := bleve.NewIndexMapping()
	err := im.AddCustomAnalyzer(AnalyzerName, map[string]interface{}{
		"type":      custom.Name,
		"tokenizer": TokenizerName,
	})
	if err != nil {
		return nil, fmt.Errorf("add custom analyzer: %w", err)
	}
	im.DefaultAnalyzer = AnalyzerName
	return im, nil
}

func isCorruptionError(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "unexpected end of JSON") ||
		strings.Contains(s, "error parsing mapping JSON") ||
		strings.Contains(s, "failed to load segment") ||
		strings.Contains(s, "error opening bolt") ||
		err == bleve.ErrorIndexMetaCorrupt
}

// Index adds or replaces documents, one per chunk ID.
func (m *Manager) Index(ctx context.Context, ids []string, contents []string) error {
	if len(ids) == 0 {
		return nil
	}
	if len(ids) != len(contents) {
		return fmt.Errorf("ids and contents length mismatch: %d vs %d", len(ids), len(contents))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("bm25 index is closed")
	}
	batch := m.index.NewBatch()
	for i, id := range ids {
		if err := batch.Index(id, indexedDoc{Content: contents[i]}); err != nil {
			return fmt.Errorf("index document %s: %w", id, err)
		}
	}
	if err := m.index.Batch(batch); err != nil {
		return fmt.Errorf("execute bm25 batch: %w", err)
	}
	return nil
}

// Delete removes documents by ID. Unknown IDs are no-ops.
func (m *Manager) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("bm25 index is closed")
	}
	batch := m.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	if err := m.index.Batch(batch); err != nil {
		return fmt.Errorf("delete bm25 documents: %w", err)
	}
	return nil
}

// Search returns up to k documents matching query, best first.
func (m *Manager) Search(ctx context.Context, query string, k int) ([]Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, fmt.Errorf("bm25 index is closed")
	}
	if strings.TrimSpace(query) == "" || k <= 0 {
		return []Result{}, nil
	}

	mq := bleve.NewMatchQuery(query)
	mq.SetField("content")
	req := bleve.NewSearchRequest(mq)
	req.Size = k
	req.IncludeLocations = true

	res, err := m.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("bm25 search: %w", err)
	}

	out := make([]Result, 0, len(res.Hits))
	for _, hit := range res.Hits {
		out = append(out, Result{
			DocID:        hit.ID,
			Score:        hit.Score,
			MatchedTerms: matchedTerms(hit),
		})
	}
	return out, nil
}

func matchedTerms(hit *search.DocumentMatch) []string {
	terms := make(map[string]struct{})
	for field, locations := range hit.Locations {
		if field != "content" {
			continue
		}
		for term := range locations {
			terms[term] = struct{}{}
		}
	}
	out := make([]string, 0, len(terms))
	for term := range terms {
		out = append(out, term)
	}
	return out
}

// AllIDs returns every document ID in the index, used by the sync protocol
// and the reconciliation pass.
func (m *Manager) AllIDs() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, fmt.Errorf("bm25 index is closed")
	}
	count, _ := m.index.DocCount()
	req := bleve.NewSearchRequest(bleve.NewMatchAllQuery())
	req.Size = int(count)
	req.Fields = []string{}
	res, err := m.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("bm25 all ids: %w", err)
	}
	ids := make([]string, len(res.Hits))
	for i, hit := range res.Hits {
		ids[i] = hit.ID
	}
	return ids, nil
}

// DocCount is the number of indexed documents; the sync protocol compares
// it against the routing table's total to detect catch-up owed.
func (m *Manager) DocCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0
	}
	n, _ := m.index.DocCount()
	return int(n)
}

// Params reports the configured scoring parameters.
func (m *Manager) Params() Config { return m.config }

func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	if m.index != nil {
		return m.index.Close()
	}
	return nil
}
