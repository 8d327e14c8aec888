package reconcile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// lockRetryDelay is how often a waiting run polls for the lock.
const lockRetryDelay = 250 * time.Millisecond

// RunLock serialises index writes across ragsync processes with a lock file.
type RunLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// NewRunLock returns a lock backed by the file at path. An empty path yields
// a no-op lock.
func NewRunLock(path string) *RunLock {
	l := &RunLock{path: path}
	if path != "" {
		l.flock = flock.New(path)
	}
	return l
}

// Lock blocks until the lock is held or ctx is done.
func (l *RunLock) Lock(ctx context.Context) error {
	if l.flock == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}
	ok, err := l.flock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("failed to acquire run lock %s: %w", l.path, err)
	}
	if !ok {
		return fmt.Errorf("run lock %s is held by another process", l.path)
	}
	l.locked = true
	return nil
}

// Unlock releases the lock. Calling it on an unlocked RunLock is a no-op.
func (l *RunLock) Unlock() error {
	if l.flock == nil || !l.locked {
		return nil
	}
	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release run lock: %w", err)
	}
	return nil
}

// Path returns the lock file path.
func (l *RunLock) Path() string { return l.path }
