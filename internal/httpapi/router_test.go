package httpapi

import (
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
)

func TestNewServerRegistersEveryRoute(t *testing.T) {
	h := newTestHandler(t, "http://unused.invalid")
	srv := NewServer(h, "127.0.0.1:0", time.Second, time.Second, false)

	for _, r := range []struct {
		method, path string
	}{
		{http.MethodPost, "/v1/chat/completions"},
		{http.MethodPost, "/antigravity/v1/messages"},
		{http.MethodPost, "/gateway/chat-stream"},
		{http.MethodGet, "/api/credentials/backoff-status"},
	} {
		rctx := chi.NewRouteContext()
		matched := srv.Router().Match(rctx, r.method, r.path)
		assert.True(t, matched, "expected a route match for %s %s", r.method, r.path)
	}
}
