package cachesync

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// KeyStrategy selects how cache keys are derived from an operation's
// identity signals.
type KeyStrategy string

const (
	// KeyStrategyApplication keys a single app-wide cache by client ID.
	KeyStrategyApplication KeyStrategy = "application"

	// KeyStrategyAccount keys per-user caches by the principal's stable
	// account identifier.
	KeyStrategyAccount KeyStrategy = "account"

	// KeyStrategySession keys per-user caches by HTTP session, so state
	// does not outlive the session that produced it.
	KeyStrategySession KeyStrategy = "session"

	// KeyStrategyBearer keys per-request caches by the presented inbound
	// credential.
	KeyStrategyBearer KeyStrategy = "bearer"
)

// AnonymousKey is the sentinel resolved when no identity signal is
// available. State under this key is never persisted cross-request.
const AnonymousKey = "anonymous"

// KeyResolver deterministically computes the cache key for an
// operation. The same identity input always yields the same key, and
// distinct identities never collide: per-user keys embed a digest of
// the stable identity signal, so sharing between concurrent requests of
// one user is by construction, not coincidence.
type KeyResolver struct {
	clientID string
	strategy KeyStrategy
}

// NewKeyResolver creates a resolver for the given strategy. The client
// ID anchors the application strategy and must be non-empty.
func NewKeyResolver(clientID string, strategy KeyStrategy) (KeyResolver, error) {
	switch strategy {
	case KeyStrategyApplication, KeyStrategyAccount, KeyStrategySession, KeyStrategyBearer:
	default:
		return KeyResolver{}, fmt.Errorf("unknown key strategy %q", strategy)
	}

	if clientID == "" {
		return KeyResolver{}, fmt.Errorf("client ID is required")
	}

	return KeyResolver{clientID: clientID, strategy: strategy}, nil
}

// Resolve computes the cache key for the event. A suggested key from
// the SDK wins outright; otherwise the configured strategy applies,
// preferring the presented bearer credential over the account
// identifier for per-user scopes. Absent signals resolve to
// AnonymousKey, never an error.
func (r KeyResolver) Resolve(ev *Event) string {
	if ev.SuggestedKey != "" {
		return ev.SuggestedKey
	}

	id := ev.Identity

	switch r.strategy {
	case KeyStrategyApplication:
		return "app:" + r.clientID

	case KeyStrategyBearer:
		if id.BearerToken != "" {
			return "bearer:" + digest(id.BearerToken)
		}
		if id.AccountID != "" {
			return "account:" + digest(id.AccountID)
		}

	case KeyStrategySession:
		if id.SessionID != "" {
			return "session:" + id.SessionID + ":" + r.userSignal(id)
		}

	case KeyStrategyAccount:
		if id.AccountID != "" {
			return "account:" + digest(id.AccountID)
		}
	}

	return AnonymousKey
}

// userSignal picks the best per-user discriminator within a session:
// the presented credential first, then the account identifier.
func (r KeyResolver) userSignal(id Identity) string {
	switch {
	case id.BearerToken != "":
		return digest(id.BearerToken)
	case id.AccountID != "":
		return digest(id.AccountID)
	default:
		return AnonymousKey
	}
}

func digest(signal string) string {
	sum := sha256.Sum256([]byte(signal))
	return hex.EncodeToString(sum[:])
}
