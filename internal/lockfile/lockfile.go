// Package lockfile serializes work on a source path across goroutines and
// processes. At most one holder per path at a time.
package lockfile

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// ErrLockTimeout is returned when a path lock could not be taken before the
// context ended.
var ErrLockTimeout = errors.New("path lock timeout")

// DefaultRetryDelay is how often a contended file lock is retried.
const DefaultRetryDelay = 50 * time.Millisecond

// PathLocker hands out per-path locks. Inside the process a one-slot channel
// per path does the exclusion; a lock file under dir does it across processes.
type PathLocker struct {
	dir   string
	retry time.Duration

	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

// NewPathLocker returns a locker keeping its lock files in dir.
func NewPathLocker(dir string) (*PathLocker, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	return &PathLocker{dir: dir, retry: DefaultRetryDelay, slots: make(map[string]*slot)}, nil
}

// LockFile returns the lock file used for path.
func (l *PathLocker) LockFile(path string) string {
	sum := sha256.Sum256([]byte(filepath.Clean(path)))
	return filepath.Join(l.dir, hex.EncodeToString(sum[:])+".lock")
}

// Lock blocks until path is free or ctx ends. The returned function
// releases the lock and may be called more than once.
func (l *PathLocker) Lock(ctx context.Context, path string) (func(), error) {
	key := filepath.Clean(path)
	s := l.acquireSlot(key)

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		l.releaseSlot(key, s)
		return nil, fmt.Errorf("%w: %s: %w", ErrLockTimeout, path, ctx.Err())
	}

	fl := flock.New(l.LockFile(key))
	locked, err := fl.TryLockContext(ctx, l.retry)
	if err != nil || !locked {
		<-s.ch
		l.releaseSlot(key, s)
		if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s: held by another process", ErrLockTimeout, path)
		}
		return nil, fmt.Errorf("failed to lock %s: %w", path, err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			_ = fl.Unlock()
			<-s.ch
			l.releaseSlot(key, s)
		})
	}, nil
}

func (l *PathLocker) acquireSlot(key string) *slot {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	return s
}

func (l *PathLocker) releaseSlot(key string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}
