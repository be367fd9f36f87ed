package store

import (
	"context"
	"os"
	"path/filepath"
	"time"
)

const maxLockBackoff = 50 * time.Millisecond

// Locker is an advisory lock backed by a file, shared between every process
// that opens the same state directory. Each acquisition uses its own file
// handle, so goroutines in one process exclude each other too.
type Locker struct {
	path string
}

// NewLocker returns a Locker on path. The file is created on first use.
func NewLocker(path string) *Locker {
	return &Locker{path: path}
}

// Path returns the lock file path.
func (l *Locker) Path() string {
	return l.path
}

// Lock takes the lock exclusively, waiting until it is free or ctx is done.
func (l *Locker) Lock(ctx context.Context) (func(), error) {
	return l.acquire(ctx, false)
}

// RLock takes the lock in shared mode where the platform supports it.
func (l *Locker) RLock(ctx context.Context) (func(), error) {
	return l.acquire(ctx, true)
}

func (l *Locker) acquire(ctx context.Context, shared bool) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return nil, err
	}
	delay := time.Millisecond
	for {
		release, ok, err := tryLock(l.path, shared)
		if err != nil {
			return nil, err
		}
		if ok {
			return release, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		if delay < maxLockBackoff {
			delay *= 2
		}
	}
}
