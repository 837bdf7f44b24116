package store

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"

	"github.com/gorilla/sessions"
)

// sessionContextKey carries the in-flight request pair needed to load
// and commit the HTTP session.
type sessionContextKey struct{}

type sessionRequest struct {
	w http.ResponseWriter
	r *http.Request
}

// WithSession returns a context carrying the request pair the session
// store operates on. The web layer installs this per request; session
// store operations without it fail as unavailable.
func WithSession(ctx context.Context, w http.ResponseWriter, r *http.Request) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, sessionRequest{w: w, r: r})
}

func sessionFromContext(ctx context.Context) (sessionRequest, bool) {
	sr, ok := ctx.Value(sessionContextKey{}).(sessionRequest)
	return sr, ok
}

// Session is an HTTP-session-scoped blob store. Each resolved key is an
// entry within the caller's session, so cached state follows the
// session's lifetime and transport security. Session load/commit is not
// atomic across concurrent requests for the same session, so Atomic is
// false and callers must hold the per-key lock.
type Session struct {
	store sessions.Store
	name  string
}

// NewSession creates a session-scoped store. The name is the session
// (cookie) name under which entries are kept.
func NewSession(store sessions.Store, name string) (*Session, error) {
	if store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if name == "" {
		return nil, fmt.Errorf("session name is required")
	}

	return &Session{store: store, name: name}, nil
}

func (s *Session) load(ctx context.Context) (sessionRequest, *sessions.Session, error) {
	sr, ok := sessionFromContext(ctx)
	if !ok {
		return sessionRequest{}, nil, fmt.Errorf("%w: no request session in context", ErrUnavailable)
	}

	// Get decodes an existing session or starts a new one; a decode error
	// on a tampered cookie still yields a usable empty session.
	sess, err := s.store.Get(sr.r, s.name)
	if err != nil && sess == nil {
		return sessionRequest{}, nil, fmt.Errorf("%w: loading session: %v", ErrUnavailable, err)
	}

	return sr, sess, nil
}

// Get retrieves the blob stored under key in the caller's session.
func (s *Session) Get(ctx context.Context, key string) ([]byte, bool, error) {
	_, sess, err := s.load(ctx)
	if err != nil {
		return nil, false, err
	}

	encoded, ok := sess.Values[key].(string)
	if !ok {
		return nil, false, nil
	}

	blob, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, false, fmt.Errorf("decoding session cache entry for key %q: %w", key, err)
	}

	return blob, true, nil
}

// Set stores a blob under key and commits the session.
func (s *Session) Set(ctx context.Context, key string, blob []byte) error {
	sr, sess, err := s.load(ctx)
	if err != nil {
		return err
	}

	sess.Values[key] = base64.StdEncoding.EncodeToString(blob)
	if err := sess.Save(sr.r, sr.w); err != nil {
		return fmt.Errorf("%w: committing session: %v", ErrUnavailable, err)
	}

	return nil
}

// Invalidate removes the entry for key and commits the session.
func (s *Session) Invalidate(ctx context.Context, key string) error {
	sr, sess, err := s.load(ctx)
	if err != nil {
		return err
	}

	if _, ok := sess.Values[key]; !ok {
		return nil
	}

	delete(sess.Values, key)
	if err := sess.Save(sr.r, sr.w); err != nil {
		return fmt.Errorf("%w: committing session: %v", ErrUnavailable, err)
	}

	return nil
}

// Atomic is false: session load/commit can interleave across concurrent
// requests sharing a session.
func (s *Session) Atomic() bool {
	return false
}

// Close is a no-op; the session store belongs to the web layer.
func (s *Session) Close() error {
	return nil
}
