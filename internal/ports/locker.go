package ports

import "context"

// FileLocker takes cross-process advisory locks on files.
type FileLocker interface {
	// Lock blocks until the lock on path is held or ctx is done. The
	// returned function releases it.
	Lock(ctx context.Context, path string) (unlock func() error, err error)
}
