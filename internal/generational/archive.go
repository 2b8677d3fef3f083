package generational

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vretrieve/engine/internal/ann"
	"github.com/vretrieve/engine/internal/domain"
	"github.com/vretrieve/engine/internal/migrator"
	"github.com/vretrieve/engine/internal/selector"
)

// ArchiveReport summarizes one archive run.
type ArchiveReport struct {
	Archived       int           `json:"archived"`
	HotSizeBefore  int           `json:"hot_size_before"`
	HotSizeAfter   int           `json:"hot_size_after"`
	ColdSizeBefore int           `json:"cold_size_before"`
	ColdSizeAfter  int           `json:"cold_size_after"`
	Took           time.Duration `json:"took"`
	Truncated      bool          `json:"truncated"` // run budget expired with work left
}

// ArchiveOld moves chunks older than the configured age from Hot to Cold
// in batches, oldest first. With force, the age cutoff is dropped and
// everything in Hot is eligible — the capacity-pressure path uses this.
// A partial run is safe; the next run picks up the remainder.
func (s *Store) ArchiveOld(ctx context.Context, force bool) (*ArchiveReport, error) {
	if s.cold == nil {
		return nil, domain.NewError(domain.KindConfigError, "archive requires the generational index")
	}
	start := s.clock.Now()
	cutoff := start.Add(-time.Duration(s.cfg.Archive.AgeDays) * 24 * time.Hour)
	if force {
		// Strictly-greater cutoff so chunks created this instant qualify.
		cutoff = start.Add(time.Nanosecond)
	}

	report := &ArchiveReport{
		HotSizeBefore:  s.hot.Count(),
		ColdSizeBefore: s.cold.Count(),
	}
	budget := time.Duration(s.cfg.Archive.RunBudgetMinutes) * time.Minute

	for {
		if budget > 0 && s.clock.Now().Sub(start) > budget {
			report.Truncated = true
			break
		}
		select {
		case <-ctx.Done():
			report.Truncated = true
			report.HotSizeAfter = s.hot.Count()
			report.ColdSizeAfter = s.cold.Count()
			report.Took = s.clock.Now().Sub(start)
			return report, ctx.Err()
		default:
		}

		batch, err := s.routing.OlderThan(ctx, domain.TierHot, cutoff, s.cfg.Archive.BatchSize)
		if err != nil {
			return nil, domain.Wrap(domain.KindPersistError, "read archive batch", err)
		}
		if len(batch) == 0 {
			break
		}
		if err := s.archiveBatch(ctx, batch); err != nil {
			// A failed batch is logged and ends the run; the docs stay
			// in Hot and are retried next time.
			slog.Warn("archive batch failed, stopping run", slog.String("error", err.Error()))
			break
		}
		report.Archived += len(batch)
	}

	report.HotSizeAfter = s.hot.Count()
	report.ColdSizeAfter = s.cold.Count()
	report.Took = s.clock.Now().Sub(start)
	slog.Info("archive run complete",
		slog.Int("archived", report.Archived),
		slog.Int("hot_after", report.HotSizeAfter),
		slog.Int("cold_after", report.ColdSizeAfter),
		slog.Duration("took", report.Took))
	return report, nil
}

// archiveBatch moves one batch: Cold add, routing tier flip (the single
// atomic transition), then Hot removal. A crash between the tier flip and
// the Hot removal leaves a Hot orphan that reconciliation drops at open.
func (s *Store) archiveBatch(ctx context.Context, batch []domain.RoutingRecord) error {
	ids := make([]string, len(batch))
	for i, r := range batch {
		ids[i] = r.ChunkID
	}
	embeddings, err := s.routing.GetEmbeddings(ctx, ids)
	if err != nil {
		return fmt.Errorf("read embeddings: %w", err)
	}
	addIDs := make([]string, 0, len(ids))
	addVecs := make([][]float32, 0, len(ids))
	for _, id := range ids {
		if vec, ok := embeddings[id]; ok {
			addIDs = append(addIDs, id)
			addVecs = append(addVecs, vec)
		}
	}
	if len(addIDs) == 0 {
		return fmt.Errorf("batch has no stored embeddings")
	}

	if err := trainIfNeeded(ctx, s.cold.Index(), addVecs); err != nil {
		return fmt.Errorf("train cold backend: %w", err)
	}
	if err := s.cold.Add(ctx, addIDs, addVecs); err != nil {
		return fmt.Errorf("cold add: %w", err)
	}
	s.observe(domain.TierCold, migrator.Entry{Op: migrator.OpAdd, IDs: addIDs, Vectors: addVecs})

	if err := s.routing.SetTier(ctx, addIDs, domain.TierCold); err != nil {
		return fmt.Errorf("routing tier update: %w", err)
	}

	if err := s.hot.Delete(ctx, addIDs); err != nil {
		// Routing already says cold; the stale Hot copies are orphans
		// reconciliation will drop. Searches won't double-count them
		// because enrichment resolves through routing.
		slog.Warn("hot removal after archive failed, reconciliation will repair",
			slog.String("error", err.Error()))
		return nil
	}
	s.observe(domain.TierHot, migrator.Entry{Op: migrator.OpDelete, IDs: addIDs})
	return nil
}

// RebuildReport summarizes a Cold rebuild.
type RebuildReport struct {
	Reason        string        `json:"reason"`
	SizeBefore    int           `json:"size_before"`
	SizeAfter     int           `json:"size_after"`
	PurgedDeleted int           `json:"purged_deleted"`
	Took          time.Duration `json:"took"`
}

// NeedsColdRebuild reports whether the automatic purge window has been
// crossed: deletion rate above the threshold and enough absolute
// soft-deletes to be worth a rebuild.
func (s *Store) NeedsColdRebuild() bool {
	if s.cold == nil {
		return false
	}
	return s.cold.DeletionRate() > s.cfg.Cold.RebuildDeletionRate &&
		s.cold.SoftDeletedCount() > s.cfg.Cold.RebuildMinSoftDeleted
}

// RebuildCold reconstructs the Cold backend from surviving entries,
// dropping every soft-deleted vector and its routing record.
func (s *Store) RebuildCold(ctx context.Context) (*RebuildReport, error) {
	if s.cold == nil {
		return nil, domain.NewError(domain.KindConfigError, "cold rebuild requires the generational index")
	}
	start := s.clock.Now()
	reason := "manual"
	if s.NeedsColdRebuild() {
		reason = "deletion_rate"
	}
	report := &RebuildReport{Reason: reason, SizeBefore: s.cold.Index().Count()}

	records, err := s.routing.ByTier(ctx, domain.TierCold)
	if err != nil {
		return nil, domain.Wrap(domain.KindPersistError, "read cold routing records", err)
	}
	var survivors, purged []string
	for _, r := range records {
		if r.SoftDel {
			purged = append(purged, r.ChunkID)
		} else {
			survivors = append(survivors, r.ChunkID)
		}
	}

	newIdx, err := ann.New(s.cold.Backend(), s.tierConfig(domain.TierCold))
	if err != nil {
		return nil, domain.Wrap(domain.KindBackendUnavailable, "create replacement cold backend", err)
	}
	if len(survivors) > 0 {
		embeddings, err := s.routing.GetEmbeddings(ctx, survivors)
		if err != nil {
			return nil, domain.Wrap(domain.KindPersistError, "read surviving embeddings", err)
		}
		ids := make([]string, 0, len(survivors))
		vecs := make([][]float32, 0, len(survivors))
		for _, id := range survivors {
			if v, ok := embeddings[id]; ok {
				ids = append(ids, id)
				vecs = append(vecs, v)
			}
		}
		if needsTraining(newIdx) {
			if err := newIdx.Train(ctx, vecs); err != nil {
				return nil, domain.Wrap(domain.KindBackendUnavailable, "train replacement cold backend", err)
			}
		}
		if err := newIdx.Add(ctx, ids, vecs); err != nil {
			return nil, domain.Wrap(domain.KindBackendUnavailable, "fill replacement cold backend", err)
		}
	}

	s.cold.ReplaceIndex(newIdx)
	if len(purged) > 0 {
		if err := s.routing.Delete(ctx, purged); err != nil {
			return nil, domain.Wrap(domain.KindPersistError, "purge soft-deleted routing records", err)
		}
	}
	if err := s.persistTier(domain.TierCold, newIdx); err != nil {
		return nil, err
	}

	report.SizeAfter = s.cold.Count()
	report.PurgedDeleted = len(purged)
	report.Took = s.clock.Now().Sub(start)
	slog.Info("cold rebuild complete",
		slog.String("reason", report.Reason),
		slog.Int("size_before", report.SizeBefore),
		slog.Int("size_after", report.SizeAfter),
		slog.Int("purged", report.PurgedDeleted))
	return report, nil
}

func needsTraining(idx ann.Index) bool {
	switch idx.Backend() {
	case domain.BackendIVF, domain.BackendIVFPQ:
		return true
	}
	return false
}

// TierStats is one tier's view inside Stats.
type TierStats struct {
	Count       int                `json:"count"`
	Backend     domain.BackendType `json:"backend"`
	SoftDeleted int                `json:"soft_deleted,omitempty"`
	// Recommended is set when the selector disagreed with the persisted
	// backend at open (advisory only; nothing migrates automatically).
	Recommended domain.BackendType `json:"recommended_backend,omitempty"`
}

// StoreStats is the store-wide snapshot.
type StoreStats struct {
	Hot              TierStats  `json:"hot"`
	Cold             *TierStats `json:"cold,omitempty"`
	RoutingTotal     int        `json:"routing_total"`
	RoutingHot       int        `json:"routing_hot"`
	RoutingCold      int        `json:"routing_cold"`
	Files            int        `json:"files"`
	BM25Docs         int        `json:"bm25_docs"`
	NeedsArchive     bool       `json:"needs_archive"`
	NeedsColdRebuild bool       `json:"needs_cold_rebuild"`
}

// Stats assembles the snapshot the maintenance surface reports.
func (s *Store) Stats(ctx context.Context) (*StoreStats, error) {
	total, hot, cold, files, err := s.routing.Stats(ctx)
	if err != nil {
		return nil, domain.Wrap(domain.KindPersistError, "routing stats", err)
	}
	st := &StoreStats{
		Hot:          TierStats{Count: s.hot.Count(), Backend: s.hot.Backend(), Recommended: s.selectorAdvice[domain.TierHot]},
		RoutingTotal: total,
		RoutingHot:   hot,
		RoutingCold:  cold,
		Files:        files,
	}
	if s.cold != nil {
		st.Cold = &TierStats{
			Count:       s.cold.Count(),
			Backend:     s.cold.Backend(),
			SoftDeleted: s.cold.SoftDeletedCount(),
			Recommended: s.selectorAdvice[domain.TierCold],
		}
		st.NeedsColdRebuild = s.NeedsColdRebuild()
		cutoff := s.clock.Now().Add(-time.Duration(s.cfg.Archive.AgeDays) * 24 * time.Hour)
		due, err := s.routing.OlderThan(ctx, domain.TierHot, cutoff, 1)
		if err == nil && len(due) > 0 {
			st.NeedsArchive = true
		}
	}
	if s.bm25 != nil {
		st.BM25Docs = s.bm25.DocCount()
	}
	return st, nil
}

// tierConfig reports the ANN tunables a tier's backend was created with,
// with the PQ subvector count derived from the dimension.
func (s *Store) tierConfig(t domain.Tier) ann.Config {
	cfg := ann.DefaultConfig(s.cfg.Dimension)
	cfg.Metric = "l2"
	cfg.PQSubvectors = selector.PQSubvectors(s.cfg.Dimension)
	return cfg
}

// TierIndex exposes a tier's live backend to the migrator.
func (s *Store) TierIndex(t domain.Tier) ann.Index {
	if t == domain.TierCold && s.cold != nil {
		return s.cold.Index()
	}
	return s.hot.Index()
}

// TierBackend reports a tier's current backend type.
func (s *Store) TierBackend(t domain.Tier) domain.BackendType {
	return s.TierIndex(t).Backend()
}

// ReplaceTierIndex is the migrator's atomic swap: the tier starts serving
// from idx and the swapped-in structure is persisted with its meta tag.
func (s *Store) ReplaceTierIndex(t domain.Tier, idx ann.Index) error {
	if t == domain.TierCold && s.cold != nil {
		s.cold.ReplaceIndex(idx)
	} else {
		s.hot.ReplaceIndex(idx)
	}
	return s.persistTier(t, idx)
}

// TierIDs lists the live doc IDs routing assigns to a tier.
func (s *Store) TierIDs(ctx context.Context, t domain.Tier) ([]string, error) {
	records, err := s.routing.ByTier(ctx, t)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(records))
	for _, r := range records {
		if !r.SoftDel {
			ids = append(ids, r.ChunkID)
		}
	}
	return ids, nil
}

// Embeddings reads stored vectors for the migrator's streaming rebuild.
func (s *Store) Embeddings(ctx context.Context, ids []string) (map[string][]float32, error) {
	return s.routing.GetEmbeddings(ctx, ids)
}

// Dimension reports the store's fixed vector dimension.
func (s *Store) Dimension() int { return s.cfg.Dimension }
