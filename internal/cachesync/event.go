// Package cachesync reconciles a token acquisition SDK's in-memory
// token cache with a persistent blob store. The SDK raises an event
// before and after each cache access; the synchronizer uses those
// events to load the freshest persisted state into the SDK's cache and
// to persist mutations back out, per resolved cache key.
package cachesync

// Serializer is the synchronizer's view of the SDK's in-memory token
// cache. Marshal produces the cache's opaque serialized form; Unmarshal
// replaces the cache's content entirely with a previously marshalled
// blob. The blob's structure belongs to the SDK and is never inspected.
type Serializer interface {
	Marshal() ([]byte, error)
	Unmarshal(blob []byte) error
}

// Identity carries the signals from which a cache key is derived.
// All fields are optional; absent signals degrade to the anonymous key.
type Identity struct {
	// AccountID is the authenticated principal's stable account identifier.
	AccountID string

	// SessionID scopes the cache to an HTTP session when the session key
	// strategy is in use.
	SessionID string

	// BearerToken is the literal inbound credential, used (hashed) when
	// the cache is scoped per presented token.
	BearerToken string
}

// Event describes one logical cache access by the token acquisition
// collaborator: the window from BeforeAccess to AfterAccess. One Event
// must not be shared between concurrent operations.
type Event struct {
	// Cache is the SDK's token cache being synchronized.
	Cache Serializer

	// Identity provides the key derivation signals for this operation.
	Identity Identity

	// SuggestedKey, when set, bypasses key resolution. SDKs that compute
	// their own partition key supply it here.
	SuggestedKey string

	// HasStateChanged is set by the consumer before AfterAccess when the
	// operation mutated the cache. When false, AfterAccess performs no
	// store I/O.
	HasStateChanged bool

	// release frees the per-key lock taken by BeforeAccess, when one was
	// needed for the backend.
	release func()
}

func (e *Event) releaseLock() {
	if e.release != nil {
		e.release()
		e.release = nil
	}
}
