package store

import (
	"context"
	"time"

	"github.com/maypok86/otter/v2"
	"github.com/maypok86/otter/v2/stats"
)

// Memory is an in-process blob store using otter, with sliding
// expiration: an entry's lifetime is extended on access, and eviction is
// silent. The trusted process boundary means no encryption is applied.
type Memory struct {
	cache   *otter.Cache[string, []byte]
	ttl     time.Duration
	counter *stats.Counter
}

// NewMemory creates a new in-memory store with the specified TTL and max size.
func NewMemory(ttl time.Duration, maxSize int) (*Memory, error) {
	counter := stats.NewCounter()
	cache := otter.Must(&otter.Options[string, []byte]{
		MaximumSize:      maxSize,
		StatsRecorder:    counter,
		ExpiryCalculator: otter.ExpiryAccessing[string, []byte](ttl),
	})

	return &Memory{
		cache:   cache,
		ttl:     ttl,
		counter: counter,
	}, nil
}

// Get retrieves the blob stored under key. An expired entry reads the
// same as one that was never written.
func (m *Memory) Get(ctx context.Context, key string) ([]byte, bool, error) {
	entry, ok := m.cache.GetEntry(key)
	if !ok {
		return nil, false, nil
	}

	return entry.Value, true, nil
}

// Set stores a blob under key.
func (m *Memory) Set(ctx context.Context, key string, blob []byte) error {
	m.cache.Set(key, blob)
	return nil
}

// Invalidate removes the blob stored under key.
func (m *Memory) Invalidate(ctx context.Context, key string) error {
	m.cache.Invalidate(key)
	return nil
}

// Atomic is true: otter handles concurrent same-key access safely.
func (m *Memory) Atomic() bool {
	return true
}

// Close releases the cache resources.
func (m *Memory) Close() error {
	m.cache.InvalidateAll()
	return nil
}
