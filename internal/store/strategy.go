package store

import (
	"bytes"
	"context"
	"fmt"

	"github.com/tink-crypto/tink-go/v2/tink"
)

// valuePrefix is the marker prepended to encrypted blobs to distinguish
// them from plaintext entries during rollout.
var valuePrefix = []byte("cb-enc:")

// storageKeyPrefix is prepended to cache keys when encryption is active,
// providing namespace separation between encrypted and plaintext entries.
const storageKeyPrefix = "enc:"

// EncryptionStrategy defines how cache blobs are encrypted, decrypted,
// and how storage keys are decorated. Two implementations exist:
// NoEncryptionStrategy (pass-through) and AEADEncryptionStrategy.
type EncryptionStrategy interface {
	// EncryptValue encrypts a cache blob for storage. The key parameter is
	// used as associated data to bind ciphertext to a specific cache entry.
	EncryptValue(ctx context.Context, blob []byte, key string) ([]byte, error)

	// DecryptValue decrypts a stored value back to the cache blob. The key
	// parameter must match the key used during encryption.
	DecryptValue(ctx context.Context, value []byte, key string) ([]byte, error)

	// StorageKey returns the cache key, potentially decorated with a prefix.
	StorageKey(key string) string

	// Close releases resources held by the strategy.
	Close() error
}

// NoEncryptionStrategy is a pass-through that stores blobs as-is.
type NoEncryptionStrategy struct{}

func (s *NoEncryptionStrategy) EncryptValue(_ context.Context, blob []byte, _ string) ([]byte, error) {
	return blob, nil
}

func (s *NoEncryptionStrategy) DecryptValue(_ context.Context, value []byte, _ string) ([]byte, error) {
	return value, nil
}

func (s *NoEncryptionStrategy) StorageKey(key string) string {
	return key
}

func (s *NoEncryptionStrategy) Close() error {
	return nil
}

// AEADEncryptionStrategy encrypts cache blobs with a Tink AEAD
// primitive. The protect/unprotect pair is symmetric and scoped to the
// application keyset, standing in for OS-level data protection on
// platforms without one. Blobs are encrypted with the cache key as AAD
// (associated data) to prevent ciphertext swapping between keys, then
// prefixed with "cb-enc:" for identification.
type AEADEncryptionStrategy struct {
	aead tink.AEAD
}

// NewAEADEncryptionStrategy creates an encryption strategy backed by a Tink AEAD.
func NewAEADEncryptionStrategy(aead tink.AEAD) *AEADEncryptionStrategy {
	return &AEADEncryptionStrategy{aead: aead}
}

func (s *AEADEncryptionStrategy) EncryptValue(_ context.Context, blob []byte, key string) ([]byte, error) {
	ciphertext, err := s.aead.Encrypt(blob, []byte(key))
	if err != nil {
		return nil, fmt.Errorf("encrypting value: %w", err)
	}

	value := make([]byte, 0, len(valuePrefix)+len(ciphertext))
	value = append(value, valuePrefix...)
	value = append(value, ciphertext...)
	return value, nil
}

func (s *AEADEncryptionStrategy) DecryptValue(_ context.Context, value []byte, key string) ([]byte, error) {
	if !bytes.HasPrefix(value, valuePrefix) {
		return nil, fmt.Errorf("missing %q prefix: value may be unencrypted or corrupted", valuePrefix)
	}

	plaintext, err := s.aead.Decrypt(bytes.TrimPrefix(value, valuePrefix), []byte(key))
	if err != nil {
		return nil, fmt.Errorf("decryption failed: %w", err)
	}

	return plaintext, nil
}

func (s *AEADEncryptionStrategy) StorageKey(key string) string {
	return storageKeyPrefix + key
}

func (s *AEADEncryptionStrategy) Close() error {
	if closer, ok := s.aead.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}
