package trace

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"savtogether/internal/log"
)

func TestMiddlewareStampsRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := log.New(log.Config{Format: log.FormatJSON, Output: &buf})

	var (
		seenID   string
		observed int
	)
	mw := NewMiddleware(logger, func(*http.Request) string { return "10.0.0.1" }, func(_ *http.Request, code int, _ time.Duration) {
		observed = code
	})
	h := mw.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenID = GetRequestID(r.Context())
		log.FromContext(r.Context()).Info("inside handler")
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/goals", nil))

	assert.True(t, strings.HasPrefix(seenID, "req_"))
	assert.Equal(t, seenID, rec.Header().Get(HeaderRequestID))
	assert.Equal(t, http.StatusTeapot, observed)
	assert.Contains(t, buf.String(), `"request_id":"`+seenID+`"`)
	assert.Contains(t, buf.String(), `"status_code":418`)
}

func TestMiddlewareKeepsIncomingRequestID(t *testing.T) {
	mw := NewMiddleware(nil, nil, nil)
	var seen string
	h := mw.Middleware(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderRequestID, "abc")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "abc", seen)
	assert.Equal(t, "abc", rec.Header().Get(HeaderRequestID))
	assert.Empty(t, GetRequestID(context.Background()))
}
