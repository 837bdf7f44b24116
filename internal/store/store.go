// Package store persists serialized token cache blobs. A blob is the
// opaque, versioned binary form of an external SDK's token cache; its
// contents are never interpreted here. Backends differ in key scope,
// confidentiality and concurrency discipline, but share one contract.
package store

import (
	"context"
	"errors"
)

// BlobStore is the persistence primitive behind a synchronized token
// cache. Implementations translate their backend's failures into
// ErrUnavailable so callers never see backend-specific error types.
type BlobStore interface {
	// Get retrieves the blob stored under key.
	// Returns the blob, whether it was found, and any error. Absence is
	// not an error: an expired entry and a never-written entry are
	// indistinguishable to the caller.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores a blob under key, replacing any previous value.
	Set(ctx context.Context, key string, blob []byte) error

	// Invalidate removes the blob stored under key. Removing an absent
	// key is not an error.
	Invalidate(ctx context.Context, key string) error

	// Atomic reports whether the backend provides same-key consistency on
	// its own. When false, the caller must hold an exclusive per-key lock
	// across its read-mutate-write window.
	Atomic() bool

	// Close releases any resources held by the store.
	Close() error
}

// ErrUnavailable indicates the backing store could not be reached or
// read. Readers may treat this as "no cached state"; writers should
// surface it.
var ErrUnavailable = errors.New("cache store unavailable")
