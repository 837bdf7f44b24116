// Package observe configures OpenTelemetry for the service: traced
// route handling, exporter bootstrap, and outgoing HTTP instrumentation.
package observe

import (
	"net/http"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type Multiplexer interface {
	Handle(pattern string, handler http.Handler)
	http.Handler
}

// Mux wraps a multiplexer so every registered route is served through
// the OTel HTTP handler, with spans named by the route's resource path.
type Mux struct {
	wrapped Multiplexer
}

func NewMux(wrapped Multiplexer) *Mux {
	return &Mux{wrapped: wrapped}
}

func (mux *Mux) Handle(pattern string, handler http.Handler) {
	mux.wrapped.Handle(pattern, otelhttp.NewHandler(handler, TrimMethod(pattern)))
}

func (mux *Mux) HandleFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	mux.Handle(pattern, http.HandlerFunc(handler))
}

func (mux *Mux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	mux.wrapped.ServeHTTP(w, r)
}

var knownMethods = map[string]struct{}{
	http.MethodConnect: {},
	http.MethodDelete:  {},
	http.MethodGet:     {},
	http.MethodHead:    {},
	http.MethodOptions: {},
	http.MethodPatch:   {},
	http.MethodPost:    {},
	http.MethodPut:     {},
	http.MethodTrace:   {},
}

// TrimMethod strips a leading HTTP method from a ServeMux pattern like
// "POST /signout", leaving the resource path for use as a span name.
// Patterns without a recognized method prefix pass through unchanged.
func TrimMethod(pattern string) string {
	method, resource, hasMethod := strings.Cut(pattern, " ")
	if !hasMethod {
		return pattern
	}

	if _, known := knownMethods[method]; known {
		return resource
	}
	return pattern
}
