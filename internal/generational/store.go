// Package generational orchestrates the two-tier retrieval engine: it owns
// the Hot and Cold ANN tiers, the routing table, the BM25 manager, and the
// reranker, and exposes the add/search/delete/archive surface everything
// else builds on.
package generational

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/vretrieve/engine/internal/ann"
	"github.com/vretrieve/engine/internal/bm25"
	"github.com/vretrieve/engine/internal/config"
	"github.com/vretrieve/engine/internal/domain"
	"github.com/vretrieve/engine/internal/embed"
	"github.com/vretrieve/engine/internal/fusion"
	"github.com/vretrieve/engine/internal/migrator"
	"github.com/vretrieve/engine/internal/rerank"
	"github.com/vretrieve/engine/internal/routing"
	"github.com/vretrieve/engine/internal/selector"
	"github.com/vretrieve/engine/internal/storage"
	"github.com/vretrieve/engine/internal/telemetry"
	"github.com/vretrieve/engine/internal/tier"
)

const (
	stateKeyDimension = "embedding_dimension"
	stateKeyModel     = "embedding_model"

	// recentQueryCap bounds the query-vector log migrations validate against.
	recentQueryCap = 100
)

// DocumentInput is one chunk handed to AddDocuments before it has an ID.
type DocumentInput struct {
	Content  string
	Metadata map[string]any
}

// Store is the generational orchestrator.
type Store struct {
	cfg      *config.Config
	embedder embed.Embedder
	routing  *routing.Table
	hot      *tier.Hot
	cold     *tier.Cold // nil in single-tier mode
	bm25     *bm25.Manager
	reranker *rerank.Reranker
	fusion   *fusion.RRF
	metrics  *telemetry.Metrics
	clock    domain.Clock
	blob     *storage.Local
	lock     *storage.ProcessLock
	observer migrator.Observer

	idMu  sync.Mutex
	idSeq uint64

	queryMu     sync.Mutex
	recentQuery [][]float32

	// selectorAdvice records, per tier, the backend the selector would
	// pick today when it disagrees with the persisted structure at open.
	selectorAdvice map[domain.Tier]domain.BackendType

	closeOnce sync.Once
}

// Option customizes Open.
type Option func(*Store)

// WithClock injects a test clock.
func WithClock(c domain.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithReranker injects the cross-encoder reranker.
func WithReranker(r *rerank.Reranker) Option {
	return func(s *Store) { s.reranker = r }
}

// WithMigrationObserver wires the migrator's write journal into the store's
// write path.
func WithMigrationObserver(o migrator.Observer) Option {
	return func(s *Store) { s.observer = o }
}

// SetMigrationObserver wires the journal after construction, for the case
// where the migrator is built over an already-open store.
func (s *Store) SetMigrationObserver(o migrator.Observer) { s.observer = o }

// Open builds the store under cfg.RootDir: it opens the routing table,
// verifies the persisted embedding dimension, restores (or creates) the
// tier backends, catches BM25 up to the routing table, and reconciles any
// orphans a crash may have left behind.
func Open(cfg *config.Config, embedder embed.Embedder, opts ...Option) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if embedder == nil {
		return nil, domain.NewError(domain.KindConfigError, "embedder is required")
	}
	if embedder.Dimensions() != cfg.Dimension {
		return nil, domain.NewError(domain.KindConfigError,
			fmt.Sprintf("configured dimension %d does not match embedder dimension %d", cfg.Dimension, embedder.Dimensions()))
	}

	blob, err := storage.NewLocal(cfg.RootDir)
	if err != nil {
		return nil, domain.Wrap(domain.KindPersistError, "open storage root", err)
	}

	// The store is single-process; a second opener must fail fast rather
	// than corrupt shared state.
	lock := storage.NewProcessLock(cfg.RootDir, "engine")
	acquired, err := lock.TryLock()
	if err != nil {
		return nil, domain.Wrap(domain.KindPersistError, "acquire engine lock", err)
	}
	if !acquired {
		return nil, domain.NewError(domain.KindConfigError,
			fmt.Sprintf("another process holds %s; the store is single-process", cfg.RootDir))
	}

	table, err := routing.Open(filepath.Join(cfg.RootDir, "routing.db"))
	if err != nil {
		lock.Unlock()
		return nil, domain.Wrap(domain.KindPersistError, "open routing table", err)
	}

	s := &Store{
		cfg:            cfg,
		embedder:       embedder,
		routing:        table,
		fusion:         &fusion.RRF{K: float64(cfg.Search.RRFConstant)},
		metrics:        telemetry.New(telemetry.DefaultWindowSize),
		clock:          domain.SystemClock{},
		blob:           blob,
		lock:           lock,
		selectorAdvice: make(map[domain.Tier]domain.BackendType),
	}
	for _, opt := range opts {
		opt(s)
	}

	fail := func(err error) (*Store, error) {
		table.Close()
		lock.Unlock()
		return nil, err
	}

	ctx := context.Background()
	if err := s.checkDimensionState(ctx); err != nil {
		return fail(err)
	}

	// The selector is consulted against what the routing table says each
	// tier currently holds, not what the in-memory indexes report.
	_, hotCount, coldCount, _, err := table.Stats(ctx)
	if err != nil {
		return fail(domain.Wrap(domain.KindPersistError, "routing stats at open", err))
	}

	hotIdx, err := s.openTierIndex(domain.TierHot, cfg.Hot.IndexType, hotCount)
	if err != nil {
		return fail(err)
	}
	s.hot = tier.NewHot(hotIdx, cfg.Hot.MaxSize)

	if cfg.EnableGenerationalIndex {
		coldIdx, err := s.openTierIndex(domain.TierCold, cfg.Cold.IndexType, coldCount)
		if err != nil {
			return fail(err)
		}
		s.cold = tier.NewCold(coldIdx, tier.DefaultOversample)
	}

	if cfg.BM25.Enabled {
		mgr, err := bm25.NewManager(filepath.Join(cfg.RootDir, "bm25"), bm25.Config{K1: cfg.BM25.K1, B: cfg.BM25.B})
		if err != nil {
			return fail(domain.Wrap(domain.KindPersistError, "open bm25 index", err))
		}
		s.bm25 = mgr
	}

	if err := s.reconcile(ctx); err != nil {
		s.Close()
		return nil, err
	}
	if err := s.syncBM25(ctx); err != nil {
		slog.Warn("bm25 catch-up failed, continuing with stale keyword index", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) checkDimensionState(ctx context.Context) error {
	stored, err := s.routing.GetState(ctx, stateKeyDimension)
	if err != nil {
		return domain.Wrap(domain.KindPersistError, "read persisted dimension", err)
	}
	want := fmt.Sprintf("%d", s.cfg.Dimension)
	if stored != "" && stored != want {
		return domain.NewError(domain.KindConfigError,
			fmt.Sprintf("store was built with dimension %s, configured dimension is %s", stored, want))
	}
	if stored == "" {
		if err := s.routing.SetState(ctx, stateKeyDimension, want); err != nil {
			return domain.Wrap(domain.KindPersistError, "persist dimension", err)
		}
		_ = s.routing.SetState(ctx, stateKeyModel, s.embedder.ModelName())
	}
	return nil
}

// backendMeta is the persisted tag telling a reopen which backend variant
// each tier was built with.
type backendMeta struct {
	Type   domain.BackendType `json:"type"`
	Config ann.Config         `json:"config"`
}

func (s *Store) metaPath(t domain.Tier) string  { return filepath.Join(string(t), "backend.meta") }
func (s *Store) indexPath(t domain.Tier) string { return filepath.Join(s.cfg.RootDir, string(t), "index.bin") }

func (s *Store) openTierIndex(t domain.Tier, configuredType string, vectorCount int) (ann.Index, error) {
	annCfg := ann.DefaultConfig(s.cfg.Dimension)
	annCfg.Metric = "l2"
	backendType := domain.BackendType(configuredType)

	if s.blob.Exists(s.metaPath(t)) {
		data, err := s.blob.Read(s.metaPath(t))
		if err != nil {
			return nil, domain.Wrap(domain.KindPersistError, "read backend meta", err)
		}
		var meta backendMeta
		if err := json.Unmarshal(data, &meta); err != nil {
			return nil, domain.Wrap(domain.KindPersistError, "parse backend meta", err)
		}
		// The saved structure wins over the configured one; switching
		// backends is the migrator's job, not open's.
		if meta.Type != backendType {
			slog.Info("saved backend differs from configured type, keeping saved",
				slog.String("tier", string(t)),
				slog.String("saved", string(meta.Type)),
				slog.String("configured", string(backendType)))
		}

		if s.cfg.Select.AutoSelect {
			d := selector.Select(vectorCount, s.cfg.Dimension, s.memoryBudgetFor(vectorCount))
			if d.Backend != meta.Type {
				if s.cfg.Select.ForceRebuildOnOpen {
					// Start the tier on the selector's choice; the
					// reconciliation pass repopulates it from the
					// routing table's stored embeddings.
					slog.Info("rebuilding tier to selector's choice at open",
						slog.String("tier", string(t)),
						slog.String("saved", string(meta.Type)),
						slog.String("selected", string(d.Backend)))
					return s.newSelectedIndex(d)
				}
				s.selectorAdvice[t] = d.Backend
				slog.Info("selector now recommends a different backend, keeping saved structure",
					slog.String("tier", string(t)),
					slog.String("saved", string(meta.Type)),
					slog.String("recommended", string(d.Backend)),
					slog.Int("vector_count", vectorCount))
			}
		}

		idx, err := ann.New(meta.Type, meta.Config)
		if err != nil {
			return nil, domain.Wrap(domain.KindBackendUnavailable, "restore backend", err)
		}
		if err := idx.Load(s.indexPath(t)); err != nil {
			return nil, domain.Wrap(domain.KindPersistError, fmt.Sprintf("load %s index", t), err)
		}
		return idx, nil
	}

	idx, err := ann.New(backendType, annCfg)
	if err != nil {
		return nil, domain.Wrap(domain.KindConfigError, "create backend", err)
	}
	return idx, nil
}

// newSelectedIndex builds an empty backend from a selector decision,
// carrying the decision's IVF/PQ parameters into the ANN config.
func (s *Store) newSelectedIndex(d selector.Decision) (ann.Index, error) {
	annCfg := ann.DefaultConfig(s.cfg.Dimension)
	annCfg.Metric = "l2"
	if d.NList > 0 {
		annCfg.NList = d.NList
	}
	if d.NProbe > 0 {
		annCfg.NProbe = d.NProbe
	}
	if d.PQM > 0 {
		annCfg.PQSubvectors = d.PQM
	}
	if d.PQNBits > 0 {
		annCfg.PQBits = d.PQNBits
	}
	idx, err := ann.New(d.Backend, annCfg)
	if err != nil {
		return nil, domain.Wrap(domain.KindBackendUnavailable, "create selected backend", err)
	}
	return idx, nil
}

// memoryBudgetFor classifies the configured memory budget for a corpus of
// the given size: constrained once raw vectors would exceed half of it.
func (s *Store) memoryBudgetFor(vectorCount int) selector.MemoryBudget {
	raw := vectorCount * s.cfg.Dimension * 4
	if raw > s.cfg.Select.MemoryBudgetMB*1024*1024/2 {
		return selector.MemoryBudgetConstrained
	}
	return selector.MemoryBudgetAmple
}

// reconcile is the crash-recovery pass: the routing table is the source of
// truth, so index entries without a routing record are dropped and routing
// records whose vectors are missing from their tier are re-added from the
// stored embeddings.
func (s *Store) reconcile(ctx context.Context) error {
	known := make(map[string]domain.Tier)
	for _, t := range []domain.Tier{domain.TierHot, domain.TierCold} {
		records, err := s.routing.ByTier(ctx, t)
		if err != nil {
			return domain.Wrap(domain.KindPersistError, "reconcile: read routing", err)
		}
		for _, r := range records {
			if !r.SoftDel {
				known[r.ChunkID] = t
			}
		}
	}

	// Orphans in Hot: physically removed.
	var hotOrphans []string
	for _, id := range s.hot.AllIDs() {
		if known[id] != domain.TierHot {
			hotOrphans = append(hotOrphans, id)
		}
	}
	if len(hotOrphans) > 0 {
		slog.Warn("reconcile: removing orphaned hot entries", slog.Int("count", len(hotOrphans)))
		if err := s.hot.Delete(ctx, hotOrphans); err != nil {
			return domain.Wrap(domain.KindBackendUnavailable, "reconcile: remove hot orphans", err)
		}
	}

	// Orphans in Cold: soft-deleted until the next rebuild purges them.
	if s.cold != nil {
		var coldOrphans []string
		for _, id := range s.cold.AllIDs() {
			if known[id] != domain.TierCold {
				coldOrphans = append(coldOrphans, id)
			}
		}
		if len(coldOrphans) > 0 {
			slog.Warn("reconcile: soft-deleting orphaned cold entries", slog.Int("count", len(coldOrphans)))
			s.cold.SoftDelete(coldOrphans)
		}
	}

	// Missing vectors: routing says they exist but the tier lost them.
	// Restored as one batch per tier so an untrained IVF-family backend
	// (e.g. after a forced rebuild at open) can train on the batch first.
	missing := map[domain.Tier][]string{}
	for id, t := range known {
		switch t {
		case domain.TierHot:
			if !s.hot.Contains(id) {
				missing[domain.TierHot] = append(missing[domain.TierHot], id)
			}
		case domain.TierCold:
			if s.cold != nil && !s.cold.Contains(id) {
				missing[domain.TierCold] = append(missing[domain.TierCold], id)
			}
		}
	}
	for t, ids := range missing {
		if len(ids) == 0 {
			continue
		}
		slog.Warn("reconcile: restoring missing vectors from routing table",
			slog.String("tier", string(t)),
			slog.Int("count", len(ids)))
		embeddings, err := s.routing.GetEmbeddings(ctx, ids)
		if err != nil {
			return domain.Wrap(domain.KindPersistError, "reconcile: read embeddings", err)
		}
		batchIDs := make([]string, 0, len(ids))
		batchVecs := make([][]float32, 0, len(ids))
		for _, id := range ids {
			if vec, ok := embeddings[id]; ok {
				batchIDs = append(batchIDs, id)
				batchVecs = append(batchVecs, vec)
			}
		}
		if len(batchIDs) == 0 {
			continue
		}
		var addErr error
		if t == domain.TierHot {
			if addErr = trainIfNeeded(ctx, s.hot.Index(), batchVecs); addErr == nil {
				addErr = s.hot.Add(ctx, batchIDs, batchVecs)
			}
		} else {
			if addErr = trainIfNeeded(ctx, s.cold.Index(), batchVecs); addErr == nil {
				addErr = s.cold.Add(ctx, batchIDs, batchVecs)
			}
		}
		if addErr != nil {
			return domain.Wrap(domain.KindBackendUnavailable, "reconcile: restore vectors", addErr)
		}
	}
	return nil
}

// syncBM25 indexes any chunks the keyword index is missing relative to the
// routing table, the catch-up owed after a crash or a disabled interval.
func (s *Store) syncBM25(ctx context.Context) error {
	if s.bm25 == nil {
		return nil
	}
	total, _, _, _, err := s.routing.Stats(ctx)
	if err != nil {
		return err
	}
	if s.bm25.DocCount() >= total {
		return nil
	}
	indexed, err := s.bm25.AllIDs()
	if err != nil {
		return err
	}
	have := make(map[string]struct{}, len(indexed))
	for _, id := range indexed {
		have[id] = struct{}{}
	}
	all, err := s.routing.AllIDs(ctx)
	if err != nil {
		return err
	}
	var missing []string
	for _, id := range all {
		if _, ok := have[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	slog.Info("bm25 catch-up", slog.Int("missing", len(missing)))
	chunks, err := s.routing.GetChunks(ctx, missing)
	if err != nil {
		return err
	}
	ids := make([]string, len(chunks))
	contents := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
		contents[i] = c.Content
	}
	return s.bm25.Index(ctx, ids, contents)
}

// nextIDs mints n fresh doc IDs, contiguous and ordered within one call.
func (s *Store) nextIDs(n int) []string {
	s.idMu.Lock()
	defer s.idMu.Unlock()
	base := s.clock.Now().UnixNano()
	ids := make([]string, n)
	for i := range ids {
		s.idSeq++
		ids[i] = fmt.Sprintf("doc-%016x-%08x", base, s.idSeq)
	}
	return ids
}

// trainIfNeeded bootstraps an untrained IVF-family backend on its first
// batch, which becomes the training sample.
func trainIfNeeded(ctx context.Context, idx ann.Index, vecs [][]float32) error {
	if idx.Trained() {
		return nil
	}
	return idx.Train(ctx, vecs)
}

func (s *Store) observe(t domain.Tier, e migrator.Entry) {
	if s.observer != nil {
		s.observer.Observe(t, e)
	}
}

// AddDocuments embeds the inputs, inserts them into Hot, records routing,
// and updates BM25. The Hot insert is rolled back if the routing write
// fails, so a reported success always means both are durable.
func (s *Store) AddDocuments(ctx context.Context, fileID string, docs []DocumentInput) ([]string, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.ensureCapacity(ctx, len(docs)); err != nil {
		return nil, err
	}

	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Content
	}
	vectors, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, domain.Wrap(domain.KindEmbedError, "embed documents", err)
	}
	for _, v := range vectors {
		if len(v) != s.cfg.Dimension {
			return nil, domain.NewError(domain.KindDimensionMismatch,
				fmt.Sprintf("embedder returned dimension %d, store uses %d", len(v), s.cfg.Dimension))
		}
	}

	ids := s.nextIDs(len(docs))
	now := s.clock.Now()

	if err := trainIfNeeded(ctx, s.hot.Index(), vectors); err != nil {
		return nil, domain.Wrap(domain.KindBackendUnavailable, "train hot backend", err)
	}
	if err := s.hot.Add(ctx, ids, vectors); err != nil {
		return nil, domain.Wrap(domain.KindBackendUnavailable, "insert into hot", err)
	}
	s.observe(domain.TierHot, migrator.Entry{Op: migrator.OpAdd, IDs: ids, Vectors: vectors})

	records := make([]domain.RoutingRecord, len(docs))
	chunks := make([]domain.Chunk, len(docs))
	for i, d := range docs {
		records[i] = domain.RoutingRecord{ChunkID: ids[i], FileID: fileID, Tier: domain.TierHot, CreatedAt: now}
		chunks[i] = domain.Chunk{ID: ids[i], FileID: fileID, Content: d.Content, Metadata: d.Metadata, CreatedAt: now}
	}
	if err := s.routing.PutChunks(ctx, records, chunks, vectors); err != nil {
		// Undo the ANN insert so the failed call leaves no trace.
		if delErr := s.hot.Delete(ctx, ids); delErr != nil {
			slog.Error("rollback of hot insert failed, reconciliation will repair at next open",
				slog.String("error", delErr.Error()))
		} else {
			s.observe(domain.TierHot, migrator.Entry{Op: migrator.OpDelete, IDs: ids})
		}
		return nil, domain.Wrap(domain.KindPersistError, "write routing records", err)
	}

	if s.bm25 != nil {
		if err := s.bm25.Index(ctx, ids, texts); err != nil {
			slog.Warn("bm25 index update failed, catch-up will repair at next open", slog.String("error", err.Error()))
		}
	}
	return ids, nil
}

// ensureCapacity raises CapacityExceeded if Hot cannot absorb n more
// vectors, after attempting one synchronous archive pass.
func (s *Store) ensureCapacity(ctx context.Context, n int) error {
	if s.hot.Count()+n <= s.cfg.Hot.MaxSize {
		return nil
	}
	if s.cold != nil {
		slog.Info("hot tier at capacity, running synchronous archive pass")
		if _, err := s.ArchiveOld(ctx, true); err != nil {
			slog.Warn("capacity archive pass failed", slog.String("error", err.Error()))
		}
		if s.hot.Count()+n <= s.cfg.Hot.MaxSize {
			return nil
		}
	}
	return domain.NewError(domain.KindCapacityExceeded,
		fmt.Sprintf("hot tier holds %d vectors, cannot absorb %d more (max %d)", s.hot.Count(), n, s.cfg.Hot.MaxSize))
}

// DeleteByFile removes every chunk of fileID: physical removal from Hot,
// soft-delete in Cold, and routing/BM25 updates. Returns how many chunks
// were affected; an unknown fileID deletes nothing and is not an error.
func (s *Store) DeleteByFile(ctx context.Context, fileID string) (int, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	records, err := s.routing.ByFile(ctx, fileID)
	if err != nil {
		return 0, domain.Wrap(domain.KindPersistError, "read routing by file", err)
	}
	var hotIDs, coldIDs []string
	for _, r := range records {
		if r.SoftDel {
			continue
		}
		switch r.Tier {
		case domain.TierHot:
			hotIDs = append(hotIDs, r.ChunkID)
		case domain.TierCold:
			coldIDs = append(coldIDs, r.ChunkID)
		}
	}

	if len(hotIDs) > 0 {
		if err := s.hot.Delete(ctx, hotIDs); err != nil {
			return 0, domain.Wrap(domain.KindBackendUnavailable, "delete from hot", err)
		}
		s.observe(domain.TierHot, migrator.Entry{Op: migrator.OpDelete, IDs: hotIDs})
		if err := s.routing.Delete(ctx, hotIDs); err != nil {
			return 0, domain.Wrap(domain.KindPersistError, "delete routing records", err)
		}
	}
	if len(coldIDs) > 0 && s.cold != nil {
		s.cold.SoftDelete(coldIDs)
		s.observe(domain.TierCold, migrator.Entry{Op: migrator.OpDelete, IDs: coldIDs})
		if err := s.routing.MarkSoftDeleted(ctx, coldIDs); err != nil {
			return 0, domain.Wrap(domain.KindPersistError, "soft-delete routing records", err)
		}
	}

	removed := len(hotIDs) + len(coldIDs)
	if removed > 0 && s.bm25 != nil {
		if err := s.bm25.Delete(ctx, append(append([]string{}, hotIDs...), coldIDs...)); err != nil {
			slog.Warn("bm25 delete failed, catch-up will repair at next open", slog.String("error", err.Error()))
		}
	}
	return removed, nil
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := time.Duration(s.cfg.Search.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}

// Persist saves both tier backends and their meta tags under root_dir.
func (s *Store) Persist() error {
	if err := s.persistTier(domain.TierHot, s.hot.Index()); err != nil {
		return err
	}
	if s.cold != nil {
		if err := s.persistTier(domain.TierCold, s.cold.Index()); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) persistTier(t domain.Tier, idx ann.Index) error {
	if err := idx.Save(s.indexPath(t)); err != nil {
		return domain.Wrap(domain.KindPersistError, fmt.Sprintf("save %s index", t), err)
	}
	meta := backendMeta{Type: idx.Backend(), Config: s.tierConfig(t)}
	data, err := json.Marshal(meta)
	if err != nil {
		return domain.Wrap(domain.KindPersistError, "marshal backend meta", err)
	}
	if err := s.blob.Write(s.metaPath(t), data); err != nil {
		return domain.Wrap(domain.KindPersistError, "write backend meta", err)
	}
	return nil
}

// Routing exposes the table for collaborators that need read access
// (retrieval strategies, consistency checks); they must not write.
func (s *Store) Routing() *routing.Table { return s.routing }

// Metrics exposes the rolling latency aggregates.
func (s *Store) Metrics() *telemetry.Metrics { return s.metrics }

// Close releases every owned resource. Safe to call more than once.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if pErr := s.Persist(); pErr != nil {
			slog.Warn("persist on close failed", slog.String("error", pErr.Error()))
			err = pErr
		}
		if s.bm25 != nil {
			if cErr := s.bm25.Close(); cErr != nil && err == nil {
				err = cErr
			}
		}
		if s.reranker != nil {
			_ = s.reranker.Close()
		}
		if s.cold != nil {
			if cErr := s.cold.Close(); cErr != nil && err == nil {
				err = cErr
			}
		}
		if cErr := s.hot.Close(); cErr != nil && err == nil {
			err = cErr
		}
		if cErr := s.routing.Close(); cErr != nil && err == nil {
			err = cErr
		}
		if s.lock != nil {
			_ = s.lock.Unlock()
		}
	})
	return err
}
