package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// RotatingFile is an io.Writer that rolls its file over once it reaches
// maxBytes: the current file becomes <path>.1, existing rotations shift up
// one slot, and anything past maxKeep falls off the end. The file is
// opened lazily on the first write so constructing a logger never touches
// disk until something is logged.
type RotatingFile struct {
	mu       sync.Mutex
	path     string
	maxBytes int64
	maxKeep  int
	file     *os.File
	size     int64
}

// OpenRotatingFile prepares a rotating writer for path. maxSizeMB bounds
// each file; maxFiles is how many rotated files to keep beside the live one.
func OpenRotatingFile(path string, maxSizeMB, maxFiles int) (*RotatingFile, error) {
	if maxSizeMB <= 0 {
		maxSizeMB = 10
	}
	if maxFiles <= 0 {
		maxFiles = 5
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	return &RotatingFile{
		path:     path,
		maxBytes: int64(maxSizeMB) * 1024 * 1024,
		maxKeep:  maxFiles,
	}, nil
}

func (r *RotatingFile) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		if err := r.open(); err != nil {
			return 0, err
		}
	}
	if r.size+int64(len(p)) > r.maxBytes {
		if err := r.roll(); err != nil {
			// Rolling failed; keep appending to the oversized file
			// rather than dropping the record.
			fmt.Fprintf(os.Stderr, "log rotation failed: %v\n", err)
		}
	}
	n, err := r.file.Write(p)
	r.size += int64(n)
	return n, err
}

func (r *RotatingFile) open() error {
	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat log file: %w", err)
	}
	r.file = f
	r.size = info.Size()
	return nil
}

// roll shifts the rotation chain from the oldest slot down: <path>.maxKeep
// is dropped, every <path>.i moves to <path>.i+1, and the live file takes
// slot 1.
func (r *RotatingFile) roll() error {
	if err := r.file.Close(); err != nil {
		return fmt.Errorf("close before rotation: %w", err)
	}
	r.file = nil

	slot := func(i int) string { return fmt.Sprintf("%s.%d", r.path, i) }
	_ = os.Remove(slot(r.maxKeep))
	for i := r.maxKeep - 1; i >= 1; i-- {
		if _, err := os.Stat(slot(i)); err == nil {
			_ = os.Rename(slot(i), slot(i+1))
		}
	}
	if err := os.Rename(r.path, slot(1)); err != nil {
		return fmt.Errorf("rotate live log: %w", err)
	}
	return r.open()
}

// Sync flushes the live file to disk.
func (r *RotatingFile) Sync() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	return r.file.Sync()
}

// Close closes the live file; later writes reopen it.
func (r *RotatingFile) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}
