package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// File is a local-file blob store: one file per resolved key, always
// encrypted at rest. A coarse mutex serializes read+decrypt and
// encrypt+write, mirroring the discipline a single shared cache file
// needs on a desktop host. Same-key atomicity across a caller's full
// read-mutate-write window is still the caller's responsibility.
type File struct {
	dir      string
	strategy EncryptionStrategy

	mu sync.Mutex
}

// NewFile creates a file store rooted at dir. The directory is created
// on first write, so pointing at a non-existent path is valid for first
// use. The strategy must not be nil: plaintext token blobs never touch
// disk.
func NewFile(dir string, strategy EncryptionStrategy) (*File, error) {
	if dir == "" {
		return nil, fmt.Errorf("file store directory is required")
	}
	if strategy == nil {
		return nil, fmt.Errorf("file store requires an encryption strategy")
	}

	return &File{dir: dir, strategy: strategy}, nil
}

func (f *File) path(key string) string {
	// Keys may contain separators or other characters unfit for a file
	// name; the digest is stable and collision-free for our purposes.
	sum := sha256.Sum256([]byte(f.strategy.StorageKey(key)))
	return filepath.Join(f.dir, hex.EncodeToString(sum[:])+".bin")
}

// Get reads and decrypts the blob for key. A missing file or directory
// reads as absent; any other I/O failure is reported as ErrUnavailable.
func (f *File) Get(ctx context.Context, key string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	value, err := os.ReadFile(f.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("%w: reading cache file: %v", ErrUnavailable, err)
	}

	blob, err := f.strategy.DecryptValue(ctx, value, key)
	if err != nil {
		return nil, false, fmt.Errorf("decrypting cache file for key %q: %w", key, err)
	}

	return blob, true, nil
}

// Set encrypts and writes the blob for key. The write goes to a
// temporary file first and is renamed into place so a crash mid-write
// never leaves a truncated cache file.
func (f *File) Set(ctx context.Context, key string, blob []byte) error {
	value, err := f.strategy.EncryptValue(ctx, blob, key)
	if err != nil {
		return fmt.Errorf("encrypting cache file for key %q: %w", key, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(f.dir, 0o700); err != nil {
		return fmt.Errorf("%w: creating cache directory: %v", ErrUnavailable, err)
	}

	path := f.path(key)
	tmp, err := os.CreateTemp(f.dir, ".cache-*")
	if err != nil {
		return fmt.Errorf("%w: creating cache file: %v", ErrUnavailable, err)
	}

	_, err = tmp.Write(value)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("%w: writing cache file: %v", ErrUnavailable, err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("%w: replacing cache file: %v", ErrUnavailable, err)
	}

	return nil
}

// Invalidate removes the cache file for key.
func (f *File) Invalidate(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	err := os.Remove(f.path(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: removing cache file: %v", ErrUnavailable, err)
	}
	return nil
}

// Atomic is false: file I/O provides no read-mutate-write consistency.
func (f *File) Atomic() bool {
	return false
}

// Close releases the encryption strategy.
func (f *File) Close() error {
	return f.strategy.Close()
}
