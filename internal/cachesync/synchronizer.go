package cachesync

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cachebridge/cachebridge/internal/store"
)

const defaultLockTimeout = 10 * time.Second

// Synchronizer bridges the SDK's cache-access events to a BlobStore.
// It guarantees that the in-memory cache is current with the store at
// the start of an operation, and that mutations are persisted before
// the operation completes. For backends without native same-key
// atomicity, an exclusive per-key lock is held from BeforeAccess to
// AfterAccess so concurrent operations on one key cannot interleave
// conflicting writes.
//
// All store mutation flows through the synchronizer; no component
// writes to the store directly.
type Synchronizer struct {
	store       store.BlobStore
	resolver    KeyResolver
	locks       *keyLocks
	strictReads bool
	lockTimeout time.Duration
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithStrictReads makes store read failures fail the in-flight token
// operation instead of degrading to an empty cache.
func WithStrictReads() Option {
	return func(s *Synchronizer) { s.strictReads = true }
}

// WithLockTimeout bounds per-key lock acquisition.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Synchronizer) { s.lockTimeout = d }
}

// New creates a synchronizer over the given store and key resolver.
func New(bs store.BlobStore, resolver KeyResolver, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		store:       bs,
		resolver:    resolver,
		locks:       newKeyLocks(),
		lockTimeout: defaultLockTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// BeforeAccess loads the latest persisted state for the event's key and
// replaces the in-memory cache content with it. A missing entry leaves
// the cache untouched (empty on first use); a cancelled read leaves it
// untouched as well rather than partially applied.
//
// On success for a non-atomic backend, the per-key lock is held until
// AfterAccess; the consumer must call AfterAccess for every successful
// BeforeAccess. When BeforeAccess returns an error no lock is held.
func (s *Synchronizer) BeforeAccess(ctx context.Context, ev *Event) error {
	key := s.resolver.Resolve(ev)
	if key == AnonymousKey {
		// Anonymous state is never persisted, so there is nothing to load.
		return nil
	}

	if !s.store.Atomic() {
		release, err := s.locks.acquire(ctx, key, s.lockTimeout)
		if err != nil {
			return fmt.Errorf("locking cache key: %w", err)
		}
		ev.release = release
	}

	blob, found, err := s.store.Get(ctx, key)
	if err != nil {
		if ctx.Err() != nil {
			// Cancelled read: leave the cache untouched and give up the lock.
			ev.releaseLock()
			return ctx.Err()
		}
		if s.strictReads {
			ev.releaseLock()
			return fmt.Errorf("loading cached state: %w", err)
		}

		// Retryable: proceed with an empty cache, as if never written.
		log.Warn().Err(err).Msg("cache read failed; continuing with empty cache")
		return nil
	}

	if !found {
		return nil
	}

	if err := ev.Cache.Unmarshal(blob); err != nil {
		// A blob the SDK cannot deserialize will never become readable;
		// drop it so the next operation starts clean.
		log.Warn().Err(err).Msg("persisted cache state unreadable; discarding entry")
		if ierr := s.store.Invalidate(ctx, key); ierr != nil {
			log.Warn().Err(ierr).Msg("failed to discard unreadable cache entry")
		}
	}

	return nil
}

// AfterAccess persists the cache when the operation changed it, and
// releases the per-key lock in every path. Store write failures are
// logged, not returned: the token operation that caused the write has
// already completed, and persistence is best-effort rather than
// transactional.
func (s *Synchronizer) AfterAccess(ctx context.Context, ev *Event) error {
	defer ev.releaseLock()

	key := s.resolver.Resolve(ev)
	if key == AnonymousKey {
		return nil
	}

	if !ev.HasStateChanged {
		return nil
	}

	blob, err := ev.Cache.Marshal()
	if err != nil {
		return fmt.Errorf("serializing cache state: %w", err)
	}

	if err := s.store.Set(ctx, key, blob); err != nil {
		log.Warn().Err(err).Msg("cache write failed; token state not persisted")
	}

	return nil
}

// BeforeWrite exists for parity with SDKs that raise a distinct
// before-write notification. The per-key lock taken in BeforeAccess is
// already exclusive, so no additional work is needed here.
func (s *Synchronizer) BeforeWrite(ctx context.Context, ev *Event) error {
	return nil
}

// Clear removes the persisted state for the event's key, e.g. on user
// sign-out. Anonymous state has no persisted entry to remove.
func (s *Synchronizer) Clear(ctx context.Context, ev *Event) error {
	key := s.resolver.Resolve(ev)
	if key == AnonymousKey {
		return nil
	}

	if !s.store.Atomic() {
		release, err := s.locks.acquire(ctx, key, s.lockTimeout)
		if err != nil {
			return fmt.Errorf("locking cache key: %w", err)
		}
		defer release()
	}

	if err := s.store.Invalidate(ctx, key); err != nil {
		return fmt.Errorf("clearing cached state: %w", err)
	}

	return nil
}
