package observe

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTrimMethod(t *testing.T) {
	tests := []struct {
		name     string
		pattern  string
		expected string
	}{
		{
			name:     "GET method with path",
			pattern:  "GET /todos",
			expected: "/todos",
		},
		{
			name:     "POST method with path",
			pattern:  "POST /signout",
			expected: "/signout",
		},
		{
			name:     "DELETE method with wildcard",
			pattern:  "DELETE /todos/{id}",
			expected: "/todos/{id}",
		},
		{
			name:     "path without method",
			pattern:  "/healthcheck",
			expected: "/healthcheck",
		},
		{
			name:     "invalid method prefix left alone",
			pattern:  "INVALID /path",
			expected: "INVALID /path",
		},
		{
			name:     "lowercase method not stripped",
			pattern:  "get /todos",
			expected: "get /todos",
		},
		{
			name:     "empty string",
			pattern:  "",
			expected: "",
		},
		{
			name:     "method without trailing space",
			pattern:  "GET",
			expected: "GET",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, TrimMethod(tt.pattern))
		})
	}
}

func TestMux_RoutesThroughWrappedMultiplexer(t *testing.T) {
	mux := NewMux(http.NewServeMux())

	mux.Handle("GET /todos", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/todos", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/unknown", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
