package store

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/valkey-io/valkey-go"
)

// Distributed is a Valkey-backed blob store with server-assisted
// client-side caching, for deployments where multiple API instances
// must observe the same token state. Entries carry a server-side TTL.
type Distributed struct {
	client   valkey.Client
	ttl      time.Duration
	strategy EncryptionStrategy
}

// NewDistributed creates a Valkey-backed store. The ttl parameter
// bounds how long entries remain in the cache. The strategy parameter
// controls encryption of stored blobs; nil defaults to NoEncryptionStrategy.
func NewDistributed(client valkey.Client, ttl time.Duration, strategy EncryptionStrategy) (*Distributed, error) {
	if strategy == nil {
		strategy = &NoEncryptionStrategy{}
	}
	return &Distributed{
		client:   client,
		ttl:      ttl,
		strategy: strategy,
	}, nil
}

// Get retrieves the blob stored under key using server-assisted
// client-side caching. A corrupted entry is invalidated on a best-effort
// basis and reported as an error.
func (d *Distributed) Get(ctx context.Context, key string) ([]byte, bool, error) {
	storageKey := d.strategy.StorageKey(key)

	cmd := d.client.B().Get().Key(storageKey).Cache()
	result := d.client.DoCache(ctx, cmd, d.ttl)

	if err := result.Error(); err != nil {
		// Key not found is not an error in our semantics
		if valkey.IsValkeyNil(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("%w: getting cached value: %v", ErrUnavailable, err)
	}

	value, err := result.AsBytes()
	if err != nil {
		return nil, false, fmt.Errorf("%w: reading cached value: %v", ErrUnavailable, err)
	}

	blob, err := d.strategy.DecryptValue(ctx, value, key)
	if err != nil {
		// Best-effort invalidation of the corrupted entry.
		_ = d.client.Do(ctx, d.client.B().Del().Key(storageKey).Build()).Error()

		return nil, false, fmt.Errorf("cache decryption failure for key %q: %w", key, err)
	}

	return blob, true, nil
}

// Set stores a blob under key with the configured TTL.
func (d *Distributed) Set(ctx context.Context, key string, blob []byte) error {
	value, err := d.strategy.EncryptValue(ctx, blob, key)
	if err != nil {
		return fmt.Errorf("encrypting cached value: %w", err)
	}

	cmd := d.client.B().Set().Key(d.strategy.StorageKey(key)).Value(string(value)).ExSeconds(int64(d.ttl.Seconds())).Build()
	if err := d.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("%w: setting cached value: %v", ErrUnavailable, err)
	}
	return nil
}

// Invalidate removes the blob stored under key.
func (d *Distributed) Invalidate(ctx context.Context, key string) error {
	cmd := d.client.B().Del().Key(d.strategy.StorageKey(key)).Build()
	if err := d.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("%w: invalidating cached value: %v", ErrUnavailable, err)
	}
	return nil
}

// Atomic is true: individual Valkey commands are atomic per key.
func (d *Distributed) Atomic() bool {
	return true
}

// Close releases resources associated with the client and encryption strategy.
func (d *Distributed) Close() error {
	if err := d.strategy.Close(); err != nil {
		log.Warn().Err(err).Msg("error closing encryption strategy")
	}
	d.client.Close()
	return nil
}
