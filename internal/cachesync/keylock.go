package cachesync

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrLockTimeout indicates a per-key lock could not be acquired within
// the configured bound. The caller should retry the operation with
// backoff; the synchronizer never drops a write on contention.
var ErrLockTimeout = errors.New("cache key lock acquisition timed out")

// keyLocks is a lazily populated map of per-key exclusive locks. Locks
// are scoped to a single cache key so unrelated users' operations never
// contend; entries are removed once the last waiter releases.
type keyLocks struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sem  chan struct{}
	refs int
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: make(map[string]*keyLock)}
}

// acquire takes the exclusive lock for key, waiting up to timeout.
// It returns a release function on success, or ErrLockTimeout /
// the context error on failure.
func (k *keyLocks) acquire(ctx context.Context, key string, timeout time.Duration) (func(), error) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{sem: make(chan struct{}, 1)}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case l.sem <- struct{}{}:
		return func() { k.release(key, l) }, nil
	case <-ctx.Done():
		k.unref(key, l)
		return nil, ctx.Err()
	case <-timer.C:
		k.unref(key, l)
		return nil, ErrLockTimeout
	}
}

func (k *keyLocks) release(key string, l *keyLock) {
	<-l.sem
	k.unref(key, l)
}

func (k *keyLocks) unref(key string, l *keyLock) {
	k.mu.Lock()
	defer k.mu.Unlock()

	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
}
