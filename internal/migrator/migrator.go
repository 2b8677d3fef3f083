// Package migrator switches a tier's ANN backend to a different structure
// without blocking queries: it builds the replacement on the side, streams
// the source vectors in, validates recall against the serving backend, and
// swaps atomically. Writes that land during the build are journaled and
// replayed into the replacement before it starts serving.
package migrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/vretrieve/engine/internal/ann"
	"github.com/vretrieve/engine/internal/domain"
)

const (
	// DefaultBatchSize is how many vectors stream into the new backend
	// per round.
	DefaultBatchSize = 10_000

	// DefaultValidationQueries caps the recall sample size.
	DefaultValidationQueries = 100

	// DefaultRecallThreshold is the minimum recall@k the replacement
	// must reach against the serving backend.
	DefaultRecallThreshold = 0.9

	// DefaultRecallK is the k used for recall validation.
	DefaultRecallK = 10

	// trainSamplePerList scales the IVF training sample: 64 vectors per
	// coarse cluster.
	trainSamplePerList = 64
)

// Source is what the migrator needs from the store.
type Source interface {
	TierIndex(t domain.Tier) ann.Index
	TierBackend(t domain.Tier) domain.BackendType
	ReplaceTierIndex(t domain.Tier, idx ann.Index) error
	TierIDs(ctx context.Context, t domain.Tier) ([]string, error)
	Embeddings(ctx context.Context, ids []string) (map[string][]float32, error)
	RecentQueries() [][]float32
	Dimension() int
}

// Migrator runs at most one migration per tier.
type Migrator struct {
	source Source
	clock  domain.Clock

	batchSize         int
	validationQueries int
	recallThreshold   float64
	recallK           int

	mu     sync.Mutex
	active map[domain.Tier]*jobState
	jobs   map[string]domain.MigrationJob
	wg     sync.WaitGroup
	seq    uint64
}

type jobState struct {
	job     domain.MigrationJob
	journal *journal
}

// Option customizes a Migrator.
type Option func(*Migrator)

// WithClock injects a test clock.
func WithClock(c domain.Clock) Option { return func(m *Migrator) { m.clock = c } }

// WithBatchSize overrides the streaming batch size.
func WithBatchSize(n int) Option {
	return func(m *Migrator) {
		if n > 0 {
			m.batchSize = n
		}
	}
}

// WithRecall overrides the validation sample size and threshold.
func WithRecall(queries int, threshold float64, k int) Option {
	return func(m *Migrator) {
		if queries > 0 {
			m.validationQueries = queries
		}
		if threshold > 0 {
			m.recallThreshold = threshold
		}
		if k > 0 {
			m.recallK = k
		}
	}
}

// New creates a Migrator over source.
func New(source Source, opts ...Option) *Migrator {
	m := &Migrator{
		source:            source,
		clock:             domain.SystemClock{},
		batchSize:         DefaultBatchSize,
		validationQueries: DefaultValidationQueries,
		recallThreshold:   DefaultRecallThreshold,
		recallK:           DefaultRecallK,
		active:            make(map[domain.Tier]*jobState),
		jobs:              make(map[string]domain.MigrationJob),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Observe journals a tier write when a migration is building; idle tiers
// are a no-op. Wired into the store's write path.
func (m *Migrator) Observe(tier domain.Tier, e Entry) {
	m.mu.Lock()
	state, ok := m.active[tier]
	m.mu.Unlock()
	if ok {
		state.journal.record(e)
	}
}

// Start launches a migration of tier to the given backend type and returns
// its job ID. A second Start for the same tier while one is running fails
// with MigrationConflict.
func (m *Migrator) Start(ctx context.Context, tier domain.Tier, to domain.BackendType, cfg ann.Config) (string, error) {
	from := m.source.TierBackend(tier)
	if from == to {
		return "", domain.NewError(domain.KindConfigError,
			fmt.Sprintf("%s tier already uses backend %s", tier, to))
	}

	m.mu.Lock()
	if _, busy := m.active[tier]; busy {
		m.mu.Unlock()
		return "", domain.NewError(domain.KindMigrationConflict,
			fmt.Sprintf("a migration is already running for the %s tier", tier))
	}
	m.seq++
	job := domain.MigrationJob{
		ID:        fmt.Sprintf("mig-%016x-%04x", m.clock.Now().UnixNano(), m.seq),
		Tier:      tier,
		FromType:  from,
		ToType:    to,
		Phase:     domain.PhasePlanning,
		StartedAt: m.clock.Now(),
	}
	state := &jobState{job: job, journal: newJournal()}
	m.active[tier] = state
	m.jobs[job.ID] = job
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.run(ctx, state, cfg)
	}()
	return job.ID, nil
}

// Status returns a snapshot of a job, live or finished.
func (m *Migrator) Status(jobID string) (domain.MigrationJob, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	return job, ok
}

// Wait blocks until every launched migration finishes; used in tests and
// on shutdown.
func (m *Migrator) Wait() { m.wg.Wait() }

func (m *Migrator) setPhase(state *jobState, phase domain.MigrationPhase, progress float64) {
	m.mu.Lock()
	state.job.Phase = phase
	state.job.Progress = progress
	m.jobs[state.job.ID] = state.job
	m.mu.Unlock()
}

func (m *Migrator) finish(state *jobState, err error) {
	m.mu.Lock()
	if err != nil {
		state.job.Phase = domain.PhaseFailed
		state.job.Err = err.Error()
	} else {
		state.job.Phase = domain.PhaseDone
		state.job.Progress = 1
	}
	state.job.FinishedAt = m.clock.Now()
	m.jobs[state.job.ID] = state.job
	delete(m.active, state.job.Tier)
	m.mu.Unlock()

	if err != nil {
		slog.Warn("migration failed, keeping old backend",
			slog.String("job", state.job.ID),
			slog.String("error", err.Error()))
	} else {
		slog.Info("migration complete",
			slog.String("job", state.job.ID),
			slog.String("from", string(state.job.FromType)),
			slog.String("to", string(state.job.ToType)))
	}
}

func (m *Migrator) run(ctx context.Context, state *jobState, cfg ann.Config) {
	tier := state.job.Tier

	// Planning: snapshot the source ID list.
	ids, err := m.source.TierIDs(ctx, tier)
	if err != nil {
		m.finish(state, fmt.Errorf("plan: %w", err))
		return
	}

	// Building: create the replacement and stream vectors in batches.
	m.setPhase(state, domain.PhaseBuilding, 0)
	newIdx, err := ann.New(state.job.ToType, cfg)
	if err != nil {
		m.finish(state, fmt.Errorf("create replacement backend: %w", err))
		return
	}
	if err := m.build(ctx, state, newIdx, ids, cfg); err != nil {
		newIdx.Close()
		m.finish(state, err)
		return
	}

	// Validating: the replacement must match the serving backend's
	// results on a recent-query sample, except when downgrading to the
	// exact Flat structure (which cannot lose recall).
	m.setPhase(state, domain.PhaseValidating, 0.8)
	if state.job.ToType != domain.BackendFlat {
		if err := m.validate(ctx, tier, newIdx); err != nil {
			newIdx.Close()
			m.finish(state, err)
			return
		}
	}

	// Swapping: drain the journal into the replacement, swap, then apply
	// any writes that raced the swap.
	m.setPhase(state, domain.PhaseSwapping, 0.9)
	if err := m.replayJournal(ctx, state, newIdx); err != nil {
		newIdx.Close()
		m.finish(state, err)
		return
	}
	oldIdx := m.source.TierIndex(tier)
	if err := m.source.ReplaceTierIndex(tier, newIdx); err != nil {
		newIdx.Close()
		m.finish(state, fmt.Errorf("swap: %w", err))
		return
	}
	if err := m.replayJournal(ctx, state, newIdx); err != nil {
		slog.Warn("post-swap journal replay failed, reconciliation will repair",
			slog.String("job", state.job.ID),
			slog.String("error", err.Error()))
	}

	// Cleaning: release the old structure.
	m.setPhase(state, domain.PhaseCleaning, 0.95)
	if err := oldIdx.Close(); err != nil {
		slog.Warn("closing old backend failed", slog.String("error", err.Error()))
	}

	m.finish(state, nil)
}

func (m *Migrator) build(ctx context.Context, state *jobState, newIdx ann.Index, ids []string, cfg ann.Config) error {
	trained := false
	total := len(ids)
	added := 0
	for start := 0; start < total; start += m.batchSize {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		end := start + m.batchSize
		if end > total {
			end = total
		}
		batch := ids[start:end]
		embeddings, err := m.source.Embeddings(ctx, batch)
		if err != nil {
			return fmt.Errorf("build: read embeddings: %w", err)
		}
		batchIDs := make([]string, 0, len(batch))
		batchVecs := make([][]float32, 0, len(batch))
		for _, id := range batch {
			if v, ok := embeddings[id]; ok {
				batchIDs = append(batchIDs, id)
				batchVecs = append(batchVecs, v)
			}
		}
		if !trained && needsTraining(state.job.ToType) {
			sample := batchVecs
			want := trainSamplePerList * cfg.NList
			if want > 0 && len(sample) > want {
				sample = sample[:want]
			}
			if err := newIdx.Train(ctx, sample); err != nil {
				return fmt.Errorf("build: train: %w", err)
			}
			trained = true
		}
		if err := newIdx.Add(ctx, batchIDs, batchVecs); err != nil {
			return fmt.Errorf("build: add batch: %w", err)
		}
		added += len(batchIDs)
		progress := 0.0
		if total > 0 {
			progress = 0.8 * float64(added) / float64(total)
		}
		m.setPhase(state, domain.PhaseBuilding, progress)
	}
	return nil
}

func needsTraining(t domain.BackendType) bool {
	return t == domain.BackendIVF || t == domain.BackendIVFPQ
}

func (m *Migrator) validate(ctx context.Context, tier domain.Tier, newIdx ann.Index) error {
	queries := m.source.RecentQueries()
	if len(queries) > m.validationQueries {
		queries = queries[len(queries)-m.validationQueries:]
	}
	if len(queries) == 0 {
		// No query log yet (fresh store); nothing to validate against.
		return nil
	}
	oldIdx := m.source.TierIndex(tier)

	var hits, want int
	for _, q := range queries {
		oldRes, err := oldIdx.Search(ctx, q, m.recallK)
		if err != nil {
			return fmt.Errorf("validate: old backend search: %w", err)
		}
		newRes, err := newIdx.Search(ctx, q, m.recallK)
		if err != nil {
			return fmt.Errorf("validate: new backend search: %w", err)
		}
		newSet := make(map[string]struct{}, len(newRes))
		for _, r := range newRes {
			newSet[r.ID] = struct{}{}
		}
		for _, r := range oldRes {
			want++
			if _, ok := newSet[r.ID]; ok {
				hits++
			}
		}
	}
	if want == 0 {
		return nil
	}
	recall := float64(hits) / float64(want)
	if recall < m.recallThreshold {
		return fmt.Errorf("validation failed: recall@%d %.3f below threshold %.3f", m.recallK, recall, m.recallThreshold)
	}
	slog.Info("migration validated",
		slog.String("tier", string(tier)),
		slog.Float64("recall", recall),
		slog.Int("queries", len(queries)))
	return nil
}

func (m *Migrator) replayJournal(ctx context.Context, state *jobState, newIdx ann.Index) error {
	for {
		entries, dropped := state.journal.drain()
		if dropped {
			return fmt.Errorf("write journal overflowed during build; migration aborted to avoid losing writes")
		}
		if len(entries) == 0 {
			return nil
		}
		for _, e := range entries {
			switch e.Op {
			case OpAdd:
				if err := newIdx.Add(ctx, e.IDs, e.Vectors); err != nil {
					return fmt.Errorf("replay add: %w", err)
				}
			case OpDelete:
				if _, err := newIdx.Remove(ctx, e.IDs); err != nil {
					return fmt.Errorf("replay delete: %w", err)
				}
			}
		}
	}
}
