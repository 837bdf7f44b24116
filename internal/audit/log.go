// Package audit emits one structured log event per handled request,
// recording who asked for what and what they received.
package audit

import (
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cachebridge/cachebridge/internal/jwt"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Middleware returns HTTP middleware that writes an audit entry when
// the wrapped handler completes. The subject is taken from the
// validated claims, so this belongs after the JWT middleware in the
// chain.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			ev := log.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", rec.status).
				Dur("duration", time.Since(start))

			if subject := jwt.Subject(r.Context()); subject != "" {
				ev = ev.Str("subject", subject)
			}

			ev.Msg("audit")
		})
	}
}
