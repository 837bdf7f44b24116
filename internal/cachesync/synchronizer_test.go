package cachesync

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cachebridge/cachebridge/internal/store"
)

// fakeStore is an in-memory BlobStore with operation counters and
// switchable atomicity, standing in for the real backends.
type fakeStore struct {
	mu      sync.Mutex
	entries map[string][]byte
	atomic  bool

	reads   map[string]int
	writes  map[string]int
	removes map[string]int

	readErr  error
	writeErr error
}

func newFakeStore(atomic bool) *fakeStore {
	return &fakeStore{
		entries: make(map[string][]byte),
		atomic:  atomic,
		reads:   make(map[string]int),
		writes:  make(map[string]int),
		removes: make(map[string]int),
	}
}

func (f *fakeStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.reads[key]++
	if f.readErr != nil {
		return nil, false, f.readErr
	}

	blob, ok := f.entries[key]
	return blob, ok, nil
}

func (f *fakeStore) Set(ctx context.Context, key string, blob []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.writes[key]++
	if f.writeErr != nil {
		return f.writeErr
	}

	f.entries[key] = append([]byte(nil), blob...)
	return nil
}

func (f *fakeStore) Invalidate(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.removes[key]++
	delete(f.entries, key)
	return nil
}

func (f *fakeStore) Atomic() bool { return f.atomic }
func (f *fakeStore) Close() error { return nil }

func (f *fakeStore) writeCount(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes[key]
}

func (f *fakeStore) entry(key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	blob, ok := f.entries[key]
	return blob, ok
}

// counterState is a minimal Serializer: a counter the tests increment
// to detect lost updates.
type counterState struct {
	Count int `json:"count"`
}

func (c *counterState) Marshal() ([]byte, error) {
	return json.Marshal(c)
}

func (c *counterState) Unmarshal(blob []byte) error {
	replacement := counterState{}
	if err := json.Unmarshal(blob, &replacement); err != nil {
		return err
	}
	*c = replacement
	return nil
}

func newTestSynchronizer(t *testing.T, fs *fakeStore, opts ...Option) *Synchronizer {
	t.Helper()

	resolver, err := NewKeyResolver("client-1", KeyStrategyAccount)
	require.NoError(t, err)

	return New(fs, resolver, opts...)
}

func accountEvent(state Serializer, account string) *Event {
	return &Event{Cache: state, Identity: Identity{AccountID: account}}
}

func TestBeforeAccess_FirstUseLeavesStateEmpty(t *testing.T) {
	ctx := context.Background()
	fs := newFakeStore(false)
	s := newTestSynchronizer(t, fs)

	state := &counterState{}
	ev := accountEvent(state, "user-a")

	require.NoError(t, s.BeforeAccess(ctx, ev))
	assert.Equal(t, 0, state.Count)
	require.NoError(t, s.AfterAccess(ctx, ev))
}

func TestSynchronizer_RoundTrip(t *testing.T) {
	ctx := context.Background()
	fs := newFakeStore(false)
	s := newTestSynchronizer(t, fs)

	// First operation mutates state and persists it.
	first := &counterState{}
	ev := accountEvent(first, "user-a")
	require.NoError(t, s.BeforeAccess(ctx, ev))
	first.Count = 7
	ev.HasStateChanged = true
	require.NoError(t, s.AfterAccess(ctx, ev))

	// A fresh operation observes exactly the persisted state.
	second := &counterState{}
	ev = accountEvent(second, "user-a")
	require.NoError(t, s.BeforeAccess(ctx, ev))
	assert.Equal(t, 7, second.Count)
	require.NoError(t, s.AfterAccess(ctx, ev))
}

func TestBeforeAccess_ReplacesStateEntirely(t *testing.T) {
	ctx := context.Background()
	fs := newFakeStore(false)
	s := newTestSynchronizer(t, fs)

	seed := &counterState{}
	ev := accountEvent(seed, "user-a")
	require.NoError(t, s.BeforeAccess(ctx, ev))
	seed.Count = 3
	ev.HasStateChanged = true
	require.NoError(t, s.AfterAccess(ctx, ev))

	// Stale local state must not linger: the load is a full replace.
	stale := &counterState{Count: 99}
	ev = accountEvent(stale, "user-a")
	require.NoError(t, s.BeforeAccess(ctx, ev))
	assert.Equal(t, 3, stale.Count)
	require.NoError(t, s.AfterAccess(ctx, ev))
}

func TestAfterAccess_NoRedundantWrites(t *testing.T) {
	ctx := context.Background()
	fs := newFakeStore(false)
	s := newTestSynchronizer(t, fs)

	state := &counterState{}
	ev := accountEvent(state, "user-a")
	require.NoError(t, s.BeforeAccess(ctx, ev))
	// state unchanged: HasStateChanged stays false
	require.NoError(t, s.AfterAccess(ctx, ev))

	key := s.resolver.Resolve(ev)
	assert.Equal(t, 0, fs.writeCount(key), "unchanged state must not be written")
}

func TestSynchronizer_KeyIsolation(t *testing.T) {
	ctx := context.Background()
	fs := newFakeStore(false)
	s := newTestSynchronizer(t, fs)

	a := &counterState{}
	ev := accountEvent(a, "user-a")
	require.NoError(t, s.BeforeAccess(ctx, ev))
	a.Count = 1
	ev.HasStateChanged = true
	require.NoError(t, s.AfterAccess(ctx, ev))

	// user-b must not observe user-a's state.
	b := &counterState{}
	ev = accountEvent(b, "user-b")
	require.NoError(t, s.BeforeAccess(ctx, ev))
	assert.Equal(t, 0, b.Count)
	require.NoError(t, s.AfterAccess(ctx, ev))
}

func TestSynchronizer_ConcurrentSameKey_NoLostUpdates(t *testing.T) {
	ctx := context.Background()
	fs := newFakeStore(false) // lock-protected backend
	s := newTestSynchronizer(t, fs, WithLockTimeout(30*time.Second))

	const n = 50

	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()

			state := &counterState{}
			ev := accountEvent(state, "user-a")
			if err := s.BeforeAccess(ctx, ev); err != nil {
				t.Error(err)
				return
			}
			state.Count++
			ev.HasStateChanged = true
			if err := s.AfterAccess(ctx, ev); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	final := &counterState{}
	ev := accountEvent(final, "user-a")
	require.NoError(t, s.BeforeAccess(ctx, ev))
	assert.Equal(t, n, final.Count, "every increment must be observed")
	require.NoError(t, s.AfterAccess(ctx, ev))
}

func TestSynchronizer_AtomicBackendSkipsLocking(t *testing.T) {
	ctx := context.Background()
	fs := newFakeStore(true)
	s := newTestSynchronizer(t, fs)

	state := &counterState{}
	ev := accountEvent(state, "user-a")
	require.NoError(t, s.BeforeAccess(ctx, ev))
	assert.Nil(t, ev.release, "atomic backends need no per-key lock")
	require.NoError(t, s.AfterAccess(ctx, ev))
}

func TestBeforeAccess_ReadFailureDegradesToEmpty(t *testing.T) {
	ctx := context.Background()
	fs := newFakeStore(false)
	fs.readErr = store.ErrUnavailable
	s := newTestSynchronizer(t, fs)

	state := &counterState{Count: 99}
	ev := accountEvent(state, "user-a")

	// Default strictness: unreachable store reads as empty and the
	// operation proceeds.
	require.NoError(t, s.BeforeAccess(ctx, ev))
	require.NoError(t, s.AfterAccess(ctx, ev))
}

func TestBeforeAccess_StrictReadsPropagateFailure(t *testing.T) {
	ctx := context.Background()
	fs := newFakeStore(false)
	fs.readErr = store.ErrUnavailable
	s := newTestSynchronizer(t, fs, WithStrictReads())

	ev := accountEvent(&counterState{}, "user-a")

	err := s.BeforeAccess(ctx, ev)
	assert.ErrorIs(t, err, store.ErrUnavailable)
	assert.Nil(t, ev.release, "no lock may be held after a failed BeforeAccess")
}

func TestBeforeAccess_CancelledReadLeavesStateUntouched(t *testing.T) {
	fs := newFakeStore(false)
	fs.readErr = context.Canceled
	s := newTestSynchronizer(t, fs)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	state := &counterState{Count: 42}
	ev := accountEvent(state, "user-a")

	err := s.BeforeAccess(ctx, ev)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 42, state.Count)
	assert.Nil(t, ev.release)
}

func TestAfterAccess_WriteFailureDoesNotFailOperation(t *testing.T) {
	ctx := context.Background()
	fs := newFakeStore(false)
	fs.writeErr = store.ErrUnavailable
	s := newTestSynchronizer(t, fs)

	state := &counterState{}
	ev := accountEvent(state, "user-a")
	require.NoError(t, s.BeforeAccess(ctx, ev))
	state.Count = 1
	ev.HasStateChanged = true

	// The token operation already completed; persistence is best-effort.
	assert.NoError(t, s.AfterAccess(ctx, ev))
}

func TestBeforeAccess_CorruptEntryDiscarded(t *testing.T) {
	ctx := context.Background()
	fs := newFakeStore(false)
	s := newTestSynchronizer(t, fs)

	ev := accountEvent(&counterState{}, "user-a")
	key := s.resolver.Resolve(ev)
	require.NoError(t, fs.Set(ctx, key, []byte("not json")))

	state := &counterState{}
	ev = accountEvent(state, "user-a")
	require.NoError(t, s.BeforeAccess(ctx, ev))
	assert.Equal(t, 0, state.Count)
	require.NoError(t, s.AfterAccess(ctx, ev))

	_, found := fs.entry(key)
	assert.False(t, found, "unreadable entry must be discarded")
}

func TestSynchronizer_AnonymousNeverPersisted(t *testing.T) {
	ctx := context.Background()
	fs := newFakeStore(false)
	s := newTestSynchronizer(t, fs)

	state := &counterState{}
	ev := &Event{Cache: state} // no identity signals
	require.NoError(t, s.BeforeAccess(ctx, ev))
	state.Count = 1
	ev.HasStateChanged = true
	require.NoError(t, s.AfterAccess(ctx, ev))

	assert.Empty(t, fs.entries)
}

func TestClear_RemovesPersistedState(t *testing.T) {
	ctx := context.Background()
	fs := newFakeStore(false)
	s := newTestSynchronizer(t, fs)

	state := &counterState{}
	ev := accountEvent(state, "user-a")
	require.NoError(t, s.BeforeAccess(ctx, ev))
	state.Count = 1
	ev.HasStateChanged = true
	require.NoError(t, s.AfterAccess(ctx, ev))

	require.NoError(t, s.Clear(ctx, accountEvent(&counterState{}, "user-a")))

	after := &counterState{}
	ev = accountEvent(after, "user-a")
	require.NoError(t, s.BeforeAccess(ctx, ev))
	assert.Equal(t, 0, after.Count)
	require.NoError(t, s.AfterAccess(ctx, ev))
}

func TestSynchronizer_LockContentionTimesOut(t *testing.T) {
	ctx := context.Background()
	fs := newFakeStore(false)
	s := newTestSynchronizer(t, fs, WithLockTimeout(50*time.Millisecond))

	holder := accountEvent(&counterState{}, "user-a")
	require.NoError(t, s.BeforeAccess(ctx, holder))

	// A second operation on the same key blocks, then reports a
	// retryable timeout rather than silently skipping.
	contender := accountEvent(&counterState{}, "user-a")
	err := s.BeforeAccess(ctx, contender)
	assert.ErrorIs(t, err, ErrLockTimeout)

	require.NoError(t, s.AfterAccess(ctx, holder))

	// Once the holder releases, the same operation succeeds.
	require.NoError(t, s.BeforeAccess(ctx, contender))
	require.NoError(t, s.AfterAccess(ctx, contender))
}

func TestBeforeWrite_NoOp(t *testing.T) {
	fs := newFakeStore(false)
	s := newTestSynchronizer(t, fs)

	assert.NoError(t, s.BeforeWrite(context.Background(), accountEvent(&counterState{}, "user-a")))
}
