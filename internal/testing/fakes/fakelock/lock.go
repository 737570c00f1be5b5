// Package fakelock provides an in-process FileLocker for testing.
package fakelock

import (
	"context"
	"sync"

	"github.com/acolita/synology-mcp/internal/ports"
)

// Locker serializes Lock calls per path within the process and counts them.
type Locker struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
	count map[string]int
	// Err, when set, is returned by every Lock call.
	Err error
}

// New returns a new fake locker.
func New() *Locker {
	return &Locker{
		locks: make(map[string]chan struct{}),
		count: make(map[string]int),
	}
}

// Lock acquires the lock for path or fails when ctx is done.
func (l *Locker) Lock(ctx context.Context, path string) (func() error, error) {
	if l.Err != nil {
		return nil, l.Err
	}

	l.mu.Lock()
	ch, ok := l.locks[path]
	if !ok {
		ch = make(chan struct{}, 1)
		l.locks[path] = ch
	}
	l.mu.Unlock()

	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	l.mu.Lock()
	l.count[path]++
	l.mu.Unlock()

	var once sync.Once
	return func() error {
		once.Do(func() { <-ch })
		return nil
	}, nil
}

// Acquisitions returns how many times the lock for path was taken.
func (l *Locker) Acquisitions(path string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count[path]
}

// Ensure Locker implements ports.FileLocker.
var _ ports.FileLocker = (*Locker)(nil)
