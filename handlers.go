package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/cachebridge/cachebridge/internal/acquire"
	"github.com/cachebridge/cachebridge/internal/cachesync"
	"github.com/cachebridge/cachebridge/internal/challenge"
	"github.com/cachebridge/cachebridge/internal/config"
	"github.com/cachebridge/cachebridge/internal/jwt"
	"github.com/cachebridge/cachebridge/internal/store"
)

// HTTPStatuser provides HTTP status information for errors
type HTTPStatuser interface {
	Status() (int, string)
}

// sessionIDCookie is the stable per-browser session identifier used for
// session-scoped cache keys. It is distinct from the session data
// cookie, whose value changes on every commit.
const sessionIDCookie = "cachebridge-sid"

// sessionContext installs the request pair needed by the session-backed
// store, and ensures the stable session identifier cookie exists.
func sessionContext() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, err := r.Cookie(sessionIDCookie); err != nil {
				http.SetCookie(w, &http.Cookie{
					Name:     sessionIDCookie,
					Value:    uuid.NewString(),
					Path:     "/",
					HttpOnly: true,
					Secure:   true,
				})
			}

			ctx := store.WithSession(r.Context(), w, r)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// identityFromRequest assembles the cache key derivation signals for
// the authenticated request.
func identityFromRequest(r *http.Request) cachesync.Identity {
	id := cachesync.Identity{
		AccountID:   jwt.Subject(r.Context()),
		BearerToken: jwt.BearerFromRequest(r),
	}

	if cookie, err := r.Cookie(sessionIDCookie); err == nil {
		id.SessionID = cookie.Value
	}

	return id
}

// todoItem is the sample resource this API protects.
type todoItem struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Owner string `json:"owner"`
}

// todoStore is the in-memory demo resource state, per owner.
type todoStore struct {
	mu    sync.Mutex
	items map[string][]todoItem
}

func newTodoStore() *todoStore {
	return &todoStore{items: make(map[string][]todoItem)}
}

func (t *todoStore) list(owner string) []todoItem {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]todoItem(nil), t.items[owner]...)
}

func (t *todoStore) add(owner, title string) todoItem {
	t.mu.Lock()
	defer t.mu.Unlock()

	item := todoItem{ID: uuid.NewString(), Title: title, Owner: owner}
	t.items[owner] = append(t.items[owner], item)
	return item
}

// acquireDownstream runs the downstream token acquisition for the
// request, translating interactively resolvable failures into a consent
// challenge. It reports whether the handler can proceed.
func acquireDownstream(w http.ResponseWriter, r *http.Request, src *acquire.Source, cfg config.ChallengeConfig) (acquire.Token, bool) {
	tok, err := src.Token(r.Context(), identityFromRequest(r), cfg.DownstreamScopes)
	if err == nil {
		return tok, true
	}

	// Resolvable failures become a 403 challenge; the rest surface as
	// server errors (notably the accepted-token-version mismatch, which
	// re-consent cannot fix).
	if cerr := challenge.Respond(w, cfg.ClientID, cfg.DownstreamScopes, err); cerr != nil {
		status, message := errorStatus(cerr)
		log.Info().Msgf("downstream token acquisition failed: %v", cerr)
		writeJSONError(w, status, message)
	}

	return acquire.Token{}, false
}

func handleGetTodos(src *acquire.Source, todos *todoStore, cfg config.ChallengeConfig) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		if _, ok := acquireDownstream(w, r, src, cfg); !ok {
			return
		}

		owner := jwt.Subject(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(todos.list(owner)); err != nil {
			log.Info().Msgf("failed to write response: %v", err)
		}
	})
}

func handlePostTodo(src *acquire.Source, todos *todoStore, cfg config.ChallengeConfig) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		var body struct {
			Title string `json:"title"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Title == "" {
			requestError(w, http.StatusBadRequest)
			return
		}

		if _, ok := acquireDownstream(w, r, src, cfg); !ok {
			return
		}

		item := todos.add(jwt.Subject(r.Context()), body.Title)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		if err := json.NewEncoder(w).Encode(item); err != nil {
			log.Info().Msgf("failed to write response: %v", err)
		}
	})
}

func handleSignOut(src *acquire.Source) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		if err := src.SignOut(r.Context(), identityFromRequest(r)); err != nil {
			log.Info().Msgf("sign-out cache clear failed: %v", err)
			requestError(w, http.StatusInternalServerError)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	})
}

func handleHealthCheck() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
}

func maxRequestSize(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.MaxBytesHandler(next, limit)
	}
}

// ErrorResponse represents a JSON error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// writeJSONError writes a JSON error response with the given status code and message.
func writeJSONError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := ErrorResponse{Error: message}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		// At this point the status code has been written, so we can only log
		log.Info().Msgf("failed to write JSON error response: %v", err)
	}
}

// errorStatus extracts HTTP status code and message from an error.
// Returns (StatusInternalServerError, StatusText) for errors that don't implement HTTPStatuser.
func errorStatus(err error) (int, string) {
	var statuser HTTPStatuser
	if errors.As(err, &statuser) {
		return statuser.Status()
	}
	return http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError)
}

func requestError(w http.ResponseWriter, statusCode int) {
	http.Error(w, http.StatusText(statusCode), statusCode)
}

// drainRequestBody drains the request body by reading and discarding the contents.
// This is useful to ensure the request body is fully consumed, which is important
// for connection reuse in HTTP/1 clients.
func drainRequestBody(r *http.Request) {
	if r.Body != nil {
		// 5kb max: after this we'll assume the client is broken or malicious
		// and close the connection
		io.CopyN(io.Discard, r.Body, 5*1024*1024)
	}
}
