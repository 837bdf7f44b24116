// Package acquire obtains downstream access tokens on behalf of the
// inbound caller, consulting a synchronized token cache before asking
// the identity provider. The actual credential exchange (on-behalf-of,
// client credentials, etc.) is delegated to an injected Exchanger; this
// package owns only the cache consultation and the synchronization
// handshake around it.
package acquire

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cachebridge/cachebridge/internal/cachesync"
)

// expiryMargin is subtracted from a token's lifetime when deciding
// whether a cached token is still usable, so callers never receive a
// token about to expire mid-request.
const expiryMargin = 2 * time.Minute

// Token is a downstream access token.
type Token struct {
	Value   string    `json:"value"`
	Scopes  []string  `json:"scopes"`
	Expiry  time.Time `json:"expiry"`
	Account string    `json:"account"`
}

// Usable reports whether the token covers now plus the safety margin.
func (t Token) Usable(now time.Time) bool {
	return t.Value != "" && now.Add(expiryMargin).Before(t.Expiry)
}

// Exchanger performs the credential exchange with the identity
// provider: assertion is the inbound user credential, scopes the
// downstream resource scopes. Failures that the client can resolve
// interactively are reported as *challenge.AcquireError.
type Exchanger func(ctx context.Context, assertion string, scopes []string) (Token, error)

// Source is a token source backed by a synchronized cache: each call
// runs one before-access/after-access window against the synchronizer,
// serving from cache when possible and exchanging (then persisting)
// when not.
type Source struct {
	sync     *cachesync.Synchronizer
	exchange Exchanger
	now      func() time.Time
}

// NewSource creates a token source over the synchronizer and exchanger.
func NewSource(sync *cachesync.Synchronizer, exchange Exchanger) *Source {
	return &Source{
		sync:     sync,
		exchange: exchange,
		now:      time.Now,
	}
}

// Token returns a downstream token for the identity and scopes,
// from cache when a usable token is present, otherwise via exchange.
// A token obtained by exchange is persisted before Token returns.
func (s *Source) Token(ctx context.Context, id cachesync.Identity, scopes []string) (Token, error) {
	ws := newWorkingSet()
	ev := &cachesync.Event{Cache: ws, Identity: id}

	if err := s.sync.BeforeAccess(ctx, ev); err != nil {
		return Token{}, fmt.Errorf("synchronizing token cache: %w", err)
	}
	defer func() {
		if err := s.sync.AfterAccess(ctx, ev); err != nil {
			log.Warn().Err(err).Msg("token cache after-access failed")
		}
	}()

	if tok, ok := ws.lookup(scopes); ok && tok.Usable(s.now()) {
		return tok, nil
	}

	tok, err := s.exchange(ctx, id.BearerToken, scopes)
	if err != nil {
		return Token{}, err
	}

	ws.put(scopes, tok)
	ev.HasStateChanged = true

	return tok, nil
}

// SignOut removes all cached state for the identity.
func (s *Source) SignOut(ctx context.Context, id cachesync.Identity) error {
	ev := &cachesync.Event{Cache: newWorkingSet(), Identity: id}
	return s.sync.Clear(ctx, ev)
}
