// Package retrieval composes the query-side strategies on top of the
// generational store's search: plain vector, hybrid, HyDE, Query2Doc,
// decomposition, and parent-child expansion. Strategies never touch the
// tiers directly.
package retrieval

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/vretrieve/engine/internal/domain"
	"github.com/vretrieve/engine/internal/fusion"
	"github.com/vretrieve/engine/internal/generational"
)

// Strategy names a query-side composition.
type Strategy string

const (
	StrategyVector        Strategy = "vector"
	StrategyHybrid        Strategy = "hybrid"
	StrategyHyDE          Strategy = "hyde"
	StrategyQuery2Doc     Strategy = "query2doc"
	StrategyDecomposition Strategy = "decomposition"
	StrategyParentChild   Strategy = "parentchild"
)

// ParseStrategy maps a caller-supplied name to a Strategy, defaulting to
// hybrid for anything unrecognized or empty.
func ParseStrategy(s string) Strategy {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case StrategyVector, StrategyHybrid, StrategyHyDE, StrategyQuery2Doc, StrategyDecomposition, StrategyParentChild:
		return Strategy(strings.ToLower(strings.TrimSpace(s)))
	}
	return StrategyHybrid
}

// Searcher is the store surface strategies compose over.
type Searcher interface {
	Search(ctx context.Context, query string, k int, opts generational.SearchOptions) (*generational.Response, error)
}

// ChunkReader resolves file-scoped chunk context for parent-child
// expansion; the routing table implements it.
type ChunkReader interface {
	ByFile(ctx context.Context, fileID string) ([]domain.RoutingRecord, error)
	GetChunks(ctx context.Context, chunkIDs []string) ([]domain.Chunk, error)
}

// TextGenerator is the optional LLM collaborator HyDE and Query2Doc use.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Retriever dispatches a query through the chosen strategy.
type Retriever struct {
	store     Searcher
	chunks    ChunkReader
	generator TextGenerator // nil disables HyDE/Query2Doc generation
	multi     *fusion.MultiRRF

	maxSubQueries int
	parallelism   int
}

// Option customizes a Retriever.
type Option func(*Retriever)

// WithGenerator wires the optional text generator.
func WithGenerator(g TextGenerator) Option {
	return func(r *Retriever) { r.generator = g }
}

// WithMaxSubQueries caps decomposition fan-out.
func WithMaxSubQueries(n int) Option {
	return func(r *Retriever) {
		if n > 0 {
			r.maxSubQueries = n
		}
	}
}

// New creates a Retriever over the store and chunk reader.
func New(store Searcher, chunks ChunkReader, opts ...Option) *Retriever {
	r := &Retriever{
		store:         store,
		chunks:        chunks,
		multi:         fusion.NewMulti(),
		maxSubQueries: 4,
		parallelism:   4,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Retrieve runs query through strategy and returns up to k results.
func (r *Retriever) Retrieve(ctx context.Context, strategy Strategy, query string, k int, opts generational.SearchOptions) (*generational.Response, error) {
	query = strings.TrimSpace(query)
	if query == "" || k <= 0 {
		return &generational.Response{Results: []generational.Result{}}, nil
	}
	switch strategy {
	case StrategyVector:
		opts.DisableBM25 = true
		return r.store.Search(ctx, query, k, opts)
	case StrategyHyDE:
		return r.hyde(ctx, query, k, opts)
	case StrategyQuery2Doc:
		return r.query2doc(ctx, query, k, opts)
	case StrategyDecomposition:
		return r.decomposition(ctx, query, k, opts)
	case StrategyParentChild:
		return r.parentChild(ctx, query, k, opts)
	default:
		return r.store.Search(ctx, query, k, opts)
	}
}

// hyde generates a hypothetical answer passage and fuses its search
// results with the raw query's. Without a generator it degrades to hybrid.
func (r *Retriever) hyde(ctx context.Context, query string, k int, opts generational.SearchOptions) (*generational.Response, error) {
	if r.generator == nil {
		return r.store.Search(ctx, query, k, opts)
	}
	passage, err := r.generator.Generate(ctx,
		"Write a short factual passage that would answer the following question. Passage only, no preamble.\n\nQuestion: "+query)
	if err != nil || strings.TrimSpace(passage) == "" {
		if err != nil {
			slog.Warn("hyde generation failed, falling back to hybrid", slog.String("error", err.Error()))
		}
		return r.store.Search(ctx, query, k, opts)
	}
	return r.fuseQueries(ctx, []string{query, passage}, k, opts)
}

// query2doc expands the query with a generated pseudo-document and runs a
// single hybrid search over the concatenation.
func (r *Retriever) query2doc(ctx context.Context, query string, k int, opts generational.SearchOptions) (*generational.Response, error) {
	if r.generator == nil {
		return r.store.Search(ctx, query, k, opts)
	}
	pseudo, err := r.generator.Generate(ctx,
		"Write a brief passage relevant to this query, as it might appear in a document:\n\n"+query)
	if err != nil || strings.TrimSpace(pseudo) == "" {
		if err != nil {
			slog.Warn("query2doc generation failed, falling back to hybrid", slog.String("error", err.Error()))
		}
		return r.store.Search(ctx, query, k, opts)
	}
	return r.store.Search(ctx, query+" "+strings.TrimSpace(pseudo), k, opts)
}

// decomposition splits a compound query into sub-queries, searches them
// concurrently, and fuses with the consensus-boosted multi-query RRF.
func (r *Retriever) decomposition(ctx context.Context, query string, k int, opts generational.SearchOptions) (*generational.Response, error) {
	subs := Decompose(query)
	if len(subs) > r.maxSubQueries {
		subs = subs[:r.maxSubQueries]
	}
	if len(subs) < 2 {
		return r.store.Search(ctx, query, k, opts)
	}
	return r.fuseQueries(ctx, subs, k, opts)
}

// fuseQueries runs each query concurrently and fuses the ranked lists.
// Individual query failures degrade to the surviving lists; only total
// failure errors out.
func (r *Retriever) fuseQueries(ctx context.Context, queries []string, k int, opts generational.SearchOptions) (*generational.Response, error) {
	responses := make([]*generational.Response, len(queries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.parallelism)
	for i, q := range queries {
		i, q := i, q
		g.Go(func() error {
			// Sub-queries fetch a deeper pool so fusion has enough
			// overlap to rank consensus meaningfully.
			subK := k * 3
			if subK < 20 {
				subK = 20
			}
			resp, err := r.store.Search(gctx, q, subK, opts)
			if err != nil {
				slog.Warn("sub-query failed, continuing with remaining lists",
					slog.String("query", q),
					slog.String("error", err.Error()))
				return nil
			}
			responses[i] = resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var subResults []fusion.SubQueryResult
	byID := make(map[string]generational.Result)
	var advisories []generational.Advisory
	for _, resp := range responses {
		if resp == nil {
			continue
		}
		ranks := make(map[string]int, len(resp.Results))
		for rank, res := range resp.Results {
			ranks[res.ChunkID] = rank + 1
			if _, seen := byID[res.ChunkID]; !seen {
				byID[res.ChunkID] = res
			}
		}
		subResults = append(subResults, fusion.SubQueryResult{SubWeight: 1.0, Ranks: ranks})
		for _, adv := range resp.Advisories {
			advisories = appendAdvisory(advisories, adv)
		}
	}
	if len(subResults) == 0 {
		return nil, domain.NewError(domain.KindBackendUnavailable, "every sub-query failed")
	}

	fused := r.multi.Fuse(subResults)
	out := make([]generational.Result, 0, k)
	for _, f := range fused {
		res, ok := byID[f.ID]
		if !ok {
			continue
		}
		res.Score = f.Score
		out = append(out, res)
		if len(out) == k {
			break
		}
	}
	return &generational.Response{Results: out, Advisories: advisories}, nil
}

func appendAdvisory(advs []generational.Advisory, a generational.Advisory) []generational.Advisory {
	for _, x := range advs {
		if x == a {
			return advs
		}
	}
	return append(advs, a)
}

// parentChild searches normally, then widens each hit to include its
// neighboring chunks from the same file so the caller gets parent-level
// context around the matching span.
func (r *Retriever) parentChild(ctx context.Context, query string, k int, opts generational.SearchOptions) (*generational.Response, error) {
	resp, err := r.store.Search(ctx, query, k, opts)
	if err != nil {
		return nil, err
	}
	for i := range resp.Results {
		expanded, err := r.expandToParent(ctx, &resp.Results[i])
		if err != nil {
			slog.Warn("parent expansion failed, keeping child chunk",
				slog.String("chunk", resp.Results[i].ChunkID),
				slog.String("error", err.Error()))
			continue
		}
		resp.Results[i].Content = expanded
	}
	return resp, nil
}

// expandToParent stitches the hit chunk together with its immediate
// neighbors in file order. Ordering prefers an explicit chunk_index
// metadata value and falls back to creation time.
func (r *Retriever) expandToParent(ctx context.Context, hit *generational.Result) (string, error) {
	records, err := r.chunks.ByFile(ctx, hit.FileID)
	if err != nil {
		return "", err
	}
	ids := make([]string, 0, len(records))
	for _, rec := range records {
		if !rec.SoftDel {
			ids = append(ids, rec.ChunkID)
		}
	}
	siblings, err := r.chunks.GetChunks(ctx, ids)
	if err != nil {
		return "", err
	}
	if len(siblings) <= 1 {
		return hit.Content, nil
	}

	sort.Slice(siblings, func(i, j int) bool {
		ii, iok := chunkIndex(siblings[i])
		jj, jok := chunkIndex(siblings[j])
		if iok && jok && ii != jj {
			return ii < jj
		}
		if !siblings[i].CreatedAt.Equal(siblings[j].CreatedAt) {
			return siblings[i].CreatedAt.Before(siblings[j].CreatedAt)
		}
		return siblings[i].ID < siblings[j].ID
	})

	pos := -1
	for i, c := range siblings {
		if c.ID == hit.ChunkID {
			pos = i
			break
		}
	}
	if pos == -1 {
		return hit.Content, nil
	}
	lo, hi := pos-1, pos+1
	if lo < 0 {
		lo = 0
	}
	if hi >= len(siblings) {
		hi = len(siblings) - 1
	}
	parts := make([]string, 0, hi-lo+1)
	for i := lo; i <= hi; i++ {
		parts = append(parts, siblings[i].Content)
	}
	return strings.Join(parts, "\n"), nil
}

func chunkIndex(c domain.Chunk) (float64, bool) {
	v, ok := c.Metadata["chunk_index"]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// Decompose splits a compound query on its coordinating structure:
// conjunctions, commas, semicolons, and question boundaries. Fragments
// shorter than two words are folded into their neighbor rather than
// searched alone.
func Decompose(query string) []string {
	normalized := strings.NewReplacer(
		"; ", "\x00",
		", and ", "\x00",
		" and ", "\x00",
		", ", "\x00",
		"? ", "?\x00",
	).Replace(query)

	raw := strings.Split(normalized, "\x00")
	var subs []string
	for _, part := range raw {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if len(strings.Fields(part)) < 2 && len(subs) > 0 {
			subs[len(subs)-1] = subs[len(subs)-1] + " " + part
			continue
		}
		subs = append(subs, part)
	}
	if len(subs) == 0 {
		return []string{strings.TrimSpace(query)}
	}
	return subs
}
