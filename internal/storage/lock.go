package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ProcessLock provides cross-process exclusive locking via gofrs/flock.
// The store takes one on its root_dir at open so a second process cannot
// mutate the same state.
type ProcessLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// NewProcessLock creates a lock file at <dir>/<name>.lock.
func NewProcessLock(dir, name string) *ProcessLock {
	lockPath := filepath.Join(dir, name+".lock")
	return &ProcessLock{path: lockPath, flock: flock.New(lockPath)}
}

// TryLock attempts to acquire the lock without blocking.
func (l *ProcessLock) TryLock() (bool, error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return false, fmt.Errorf("create lock directory: %w", err)
	}
	acquired, err := l.flock.TryLock()
	if err != nil {
		return false, fmt.Errorf("acquire lock: %w", err)
	}
	l.locked = acquired
	return acquired, nil
}

// Unlock releases the lock. Safe to call on an unlocked lock.
func (l *ProcessLock) Unlock() error {
	if !l.locked {
		return nil
	}
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	l.locked = false
	return nil
}

func (l *ProcessLock) IsLocked() bool { return l.locked }
