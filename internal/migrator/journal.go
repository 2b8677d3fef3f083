package migrator

import (
	"sync"

	"github.com/vretrieve/engine/internal/domain"
)

// Op distinguishes journaled write kinds.
type Op int

const (
	OpAdd Op = iota
	OpDelete
)

// Entry is one write applied to the serving backend while a migration is
// building its replacement. Entries are replayed into the new backend
// right before the swap and again right after it, so no write is lost
// across the switch.
type Entry struct {
	Op      Op
	IDs     []string
	Vectors [][]float32
}

// journal is the bounded write log for one in-flight migration.
type journal struct {
	mu      sync.Mutex
	entries []Entry
	maxLen  int
	dropped bool
}

const defaultJournalCap = 100_000

func newJournal() *journal {
	return &journal{maxLen: defaultJournalCap}
}

func (j *journal) record(e Entry) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.entries) >= j.maxLen {
		// Past capacity the journal is no longer a faithful replay log;
		// the migration must fail rather than silently lose writes.
		j.dropped = true
		return
	}
	j.entries = append(j.entries, e)
}

// drain returns all entries and whether any were dropped, resetting the log.
func (j *journal) drain() ([]Entry, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	entries := j.entries
	dropped := j.dropped
	j.entries = nil
	j.dropped = false
	return entries, dropped
}

// Observer is what the store calls on every tier write so an active
// migration can journal it. A nil or idle observer is a no-op.
type Observer interface {
	Observe(tier domain.Tier, e Entry)
}
