package generational

import (
	"context"
	"log/slog"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vretrieve/engine/internal/ann"
	"github.com/vretrieve/engine/internal/bm25"
	"github.com/vretrieve/engine/internal/domain"
	"github.com/vretrieve/engine/internal/fusion"
	"github.com/vretrieve/engine/internal/selector"
)

// Advisory flags a degraded or noteworthy condition on a search response.
type Advisory string

const (
	AdvisoryColdUnavailable Advisory = "cold_unavailable"
	AdvisoryBM25Unavailable Advisory = "bm25_unavailable"
	AdvisoryRerankSkipped   Advisory = "rerank_skipped"
	AdvisoryUpgradeIndex    Advisory = "index_upgrade_recommended"
)

// SearchOptions tunes one search call.
type SearchOptions struct {
	// Filters are exact-match constraints on chunk metadata; chunks
	// lacking a filtered key are excluded.
	Filters map[string]any
	// UseRerank overrides the configured reranking toggle when non-nil.
	UseRerank *bool
	// DisableBM25 forces a vector-only search regardless of config,
	// used by the pure-vector retrieval strategy.
	DisableBM25 bool
	// WBM25 overrides the configured BM25 fusion weight when non-nil.
	WBM25 *float64
}

// Result is one enriched search hit.
type Result struct {
	ChunkID  string
	FileID   string
	Content  string
	Metadata map[string]any
	// Score is the fused (or reranked) relevance score, higher is better.
	Score float64
	// Distance is the smallest L2 distance any vector list reported,
	// +Inf for BM25-only hits.
	Distance float32
	Tier     domain.Tier
}

// Response is a search's full outcome, including degradation advisories.
type Response struct {
	Results    []Result
	Advisories []Advisory
}

func hasAdvisory(advs []Advisory, a Advisory) bool {
	for _, x := range advs {
		if x == a {
			return true
		}
	}
	return false
}

// Search embeds the query once, fans out to Hot, Cold, and BM25
// concurrently, fuses with RRF, optionally reranks, and returns the top k.
func (s *Store) Search(ctx context.Context, queryText string, k int, opts SearchOptions) (*Response, error) {
	if k <= 0 {
		return &Response{Results: []Result{}}, nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	start := s.clock.Now()

	queryVec, err := s.embedder.Embed(ctx, queryText)
	if err != nil {
		return nil, domain.Wrap(domain.KindEmbedError, "embed query", err)
	}
	s.recordQuery(queryVec)

	rerankOn := s.cfg.Rerank.Enabled && s.reranker != nil
	if opts.UseRerank != nil {
		rerankOn = *opts.UseRerank && s.reranker != nil
	}
	oversample := s.cfg.Search.OversamplePlain
	if rerankOn {
		oversample = s.cfg.Search.OversampleRerank
	}
	hotK := int(math.Ceil(float64(k) * s.cfg.Search.HotOversample * oversample))
	coldK := int(math.Ceil(float64(k) * s.cfg.Search.ColdOversample * oversample))
	bm25K := int(math.Ceil(float64(k) * oversample))

	var (
		hotResults  []ann.Result
		coldResults []ann.Result
		bm25Results []bm25.Result
		hotErr      error
		coldErr     error
		bm25Err     error
		advisories  []Advisory
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		t0 := time.Now()
		hotResults, hotErr = s.hot.Search(gctx, queryVec, hotK)
		s.metrics.RecordSearch("search_hot", time.Since(t0), k, start)
		return nil
	})
	if s.cold != nil {
		g.Go(func() error {
			t0 := time.Now()
			coldResults, coldErr = s.cold.Search(gctx, queryVec, coldK)
			s.metrics.RecordSearch("search_cold", time.Since(t0), k, start)
			return nil
		})
	}
	useBM25 := s.bm25 != nil && !opts.DisableBM25
	if useBM25 {
		g.Go(func() error {
			t0 := time.Now()
			bm25Results, bm25Err = s.bm25.Search(gctx, queryText, bm25K)
			s.metrics.RecordSearch("search_bm25", time.Since(t0), k, start)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Degrade rather than fail: only a dead Hot tier kills the call.
	if hotErr != nil {
		if coldErr != nil || s.cold == nil {
			return nil, domain.Wrap(domain.KindBackendUnavailable, "vector search failed", hotErr)
		}
		slog.Warn("hot search failed, serving cold-only results", slog.String("error", hotErr.Error()))
		hotResults = nil
	}
	if coldErr != nil {
		slog.Warn("cold search failed, serving hot-only results", slog.String("error", coldErr.Error()))
		advisories = append(advisories, AdvisoryColdUnavailable)
		coldResults = nil
	}
	if useBM25 && bm25Err != nil {
		slog.Warn("bm25 search failed, vector-only fusion", slog.String("error", bm25Err.Error()))
		advisories = append(advisories, AdvisoryBM25Unavailable)
		bm25Results = nil
	}

	lists := s.buildRankedLists(hotResults, coldResults, bm25Results, opts)
	fused := s.fusion.Fuse(lists)

	results, err := s.enrich(ctx, fused, opts.Filters)
	if err != nil {
		return nil, err
	}

	if rerankOn && len(results) > 0 {
		results, advisories = s.rerankResults(ctx, queryText, results, k, advisories)
	}

	if len(results) > k {
		results = results[:k]
	}

	took := s.clock.Now().Sub(start)
	s.metrics.RecordSearch("search", took, k, start)
	if adv := s.upgradeAdvisory(took); adv != "" {
		advisories = append(advisories, adv)
	}

	return &Response{Results: results, Advisories: advisories}, nil
}

func (s *Store) buildRankedLists(hot, cold []ann.Result, keyword []bm25.Result, opts SearchOptions) []fusion.RankedList {
	wBM25 := s.cfg.Search.WBM25
	if opts.WBM25 != nil {
		wBM25 = *opts.WBM25
	}
	bm25Active := len(keyword) > 0 && wBM25 > 0

	// When BM25 joins the fusion it takes W_bm25 and the vector lists
	// split the remaining share equally; vector-only searches keep the
	// configured per-tier weights.
	wHot, wCold := s.cfg.Search.WHot, s.cfg.Search.WCold
	if bm25Active {
		vectorShare := 1 - wBM25
		if vectorShare < 0 {
			vectorShare = 0
		}
		vectorLists := 0
		if len(hot) > 0 {
			vectorLists++
		}
		if len(cold) > 0 {
			vectorLists++
		}
		if vectorLists > 0 {
			each := vectorShare / float64(vectorLists)
			wHot, wCold = each, each
		}
	}

	var lists []fusion.RankedList
	if len(hot) > 0 {
		lists = append(lists, rankedFromANN("hot", wHot, hot))
	}
	if len(cold) > 0 {
		lists = append(lists, rankedFromANN("cold", wCold, cold))
	}
	if bm25Active {
		ranks := make(map[string]int, len(keyword))
		for i, r := range keyword {
			ranks[r.DocID] = i + 1
		}
		lists = append(lists, fusion.RankedList{Name: "bm25", Weight: wBM25, Ranks: ranks})
	}
	return lists
}

func rankedFromANN(name string, weight float64, results []ann.Result) fusion.RankedList {
	ranks := make(map[string]int, len(results))
	dists := make(map[string]float32, len(results))
	for i, r := range results {
		ranks[r.ID] = i + 1
		dists[r.ID] = r.Distance
	}
	return fusion.RankedList{Name: name, Weight: weight, Ranks: ranks, Distances: dists}
}

// enrich resolves fused IDs to full chunks, applies metadata filters, and
// drops IDs the routing table no longer knows (deleted mid-flight).
func (s *Store) enrich(ctx context.Context, fused []fusion.Fused, filters map[string]any) ([]Result, error) {
	if len(fused) == 0 {
		return []Result{}, nil
	}
	ids := make([]string, len(fused))
	byID := make(map[string]fusion.Fused, len(fused))
	for i, f := range fused {
		ids[i] = f.ID
		byID[f.ID] = f
	}
	chunks, err := s.routing.GetChunks(ctx, ids)
	if err != nil {
		return nil, domain.Wrap(domain.KindPersistError, "enrich results", err)
	}
	chunkByID := make(map[string]domain.Chunk, len(chunks))
	for _, c := range chunks {
		chunkByID[c.ID] = c
	}

	out := make([]Result, 0, len(fused))
	for _, f := range fused {
		c, ok := chunkByID[f.ID]
		if !ok {
			continue
		}
		if !matchesFilters(c.Metadata, filters) {
			continue
		}
		t := domain.TierHot
		if _, inHot := f.ListRanks["hot"]; !inHot {
			if _, inCold := f.ListRanks["cold"]; inCold {
				t = domain.TierCold
			}
		}
		out = append(out, Result{
			ChunkID:  c.ID,
			FileID:   c.FileID,
			Content:  c.Content,
			Metadata: c.Metadata,
			Score:    f.Score,
			Distance: f.Distance,
			Tier:     t,
		})
	}
	return out, nil
}

// matchesFilters applies exact-match metadata filtering; a chunk missing a
// filtered key is excluded.
func matchesFilters(md map[string]any, filters map[string]any) bool {
	if len(filters) == 0 {
		return true
	}
	for key, want := range filters {
		got, ok := md[key]
		if !ok {
			return false
		}
		if !primitiveEqual(got, want) {
			return false
		}
	}
	return true
}

// primitiveEqual compares metadata primitives across the numeric types
// JSON round-tripping produces.
func primitiveEqual(a, b any) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
		return false
	}
	return a == b
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// rerankResults rescales the head of the fused list with the cross-encoder.
// On failure the fused ordering is kept and an advisory is attached.
func (s *Store) rerankResults(ctx context.Context, query string, results []Result, k int, advisories []Advisory) ([]Result, []Advisory) {
	pool := s.cfg.Rerank.PoolSize
	if pool > len(results) {
		pool = len(results)
	}
	candidates := make([]string, pool)
	for i := 0; i < pool; i++ {
		candidates[i] = results[i].Content
	}
	ranked, ok := s.reranker.Rerank(ctx, query, candidates, k)
	if !ok {
		return results, append(advisories, AdvisoryRerankSkipped)
	}
	reordered := make([]Result, 0, len(results))
	for _, r := range ranked {
		res := results[r.Index]
		res.Score = r.Score
		reordered = append(reordered, res)
	}
	// Candidates beyond the rerank pool keep their fused order behind
	// the reranked head.
	seen := make(map[string]struct{}, len(reordered))
	for _, r := range reordered {
		seen[r.ChunkID] = struct{}{}
	}
	for _, r := range results {
		if _, dup := seen[r.ChunkID]; !dup {
			reordered = append(reordered, r)
		}
	}
	return reordered, advisories
}

// upgradeAdvisory reports when rolling latency exceeds the target and the
// selector would now pick a different backend. Advisory only; nothing
// migrates automatically.
func (s *Store) upgradeAdvisory(lastTook time.Duration) Advisory {
	target := time.Duration(s.cfg.Select.TargetLatencyMS) * time.Millisecond
	if target <= 0 || !s.cfg.Select.AutoSelect {
		return ""
	}
	sum := s.metrics.Summarize("search")
	if sum.Count < 10 || sum.Avg <= target {
		return ""
	}
	count := s.hot.Count()
	upgrade, recommended := selector.UpgradeAdvisory(s.hot.Backend(), count, s.cfg.Dimension, s.memoryBudgetFor(count))
	if !upgrade {
		return ""
	}
	slog.Info("index upgrade recommended",
		slog.String("current", string(s.hot.Backend())),
		slog.String("recommended", string(recommended)),
		slog.Duration("rolling_avg", sum.Avg),
		slog.Duration("target", target))
	return AdvisoryUpgradeIndex
}

func (s *Store) recordQuery(vec []float32) {
	s.queryMu.Lock()
	defer s.queryMu.Unlock()
	cp := make([]float32, len(vec))
	copy(cp, vec)
	s.recentQuery = append(s.recentQuery, cp)
	if len(s.recentQuery) > recentQueryCap {
		s.recentQuery = s.recentQuery[len(s.recentQuery)-recentQueryCap:]
	}
}

// RecentQueries returns a copy of the recent query-vector log, which
// migrations use as their validation sample.
func (s *Store) RecentQueries() [][]float32 {
	s.queryMu.Lock()
	defer s.queryMu.Unlock()
	out := make([][]float32, len(s.recentQuery))
	copy(out, s.recentQuery)
	return out
}
