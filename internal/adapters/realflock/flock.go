// Package realflock provides a FileLocker backed by gofrs/flock advisory locks.
package realflock

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/acolita/synology-mcp/internal/ports"
)

const retryDelay = 50 * time.Millisecond

// Locker implements ports.FileLocker. Locks are taken on "<path>.lock" so the
// guarded file itself can be replaced by rename.
type Locker struct{}

// New returns a new Locker.
func New() *Locker {
	return &Locker{}
}

// Lock acquires an exclusive lock for path, retrying until ctx is done.
func (l *Locker) Lock(ctx context.Context, path string) (func() error, error) {
	lockPath := path + ".lock"
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o700); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	lock := flock.New(lockPath)
	locked, err := lock.TryLockContext(ctx, retryDelay)
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", lockPath, err)
	}
	if !locked {
		return nil, fmt.Errorf("acquire lock %s: not acquired", lockPath)
	}
	return lock.Unlock, nil
}

// Ensure Locker implements ports.FileLocker.
var _ ports.FileLocker = (*Locker)(nil)
