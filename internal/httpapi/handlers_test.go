package httpapi

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allaspectsdev/sigproxy/internal/credential"
	"github.com/allaspectsdev/sigproxy/internal/dispatch"
	"github.com/allaspectsdev/sigproxy/internal/message"
	"github.com/allaspectsdev/sigproxy/internal/signature"
	"github.com/allaspectsdev/sigproxy/internal/upstream"
)

type fixedTTL struct{ d time.Duration }

func (f fixedTTL) TTLFor(string) time.Duration { return f.d }

const reqBody = `{"model":"claude-test","messages":[{"role":"user","content":[{"type":"text","text":"hello"}]}]}`

const sseBody = `event: content_block_start
data: {"type":"content_block_start","index":0,"content_block":{"type":"text"}}

event: content_block_delta
data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"hi"}}

event: content_block_stop
data: {"type":"content_block_stop","index":0}

event: message_delta
data: {"type":"message_delta","delta":{"stop_reason":"end_turn"}}

event: message_stop
data: {"type":"message_stop"}

`

func newTestHandler(t *testing.T, upstreamURL string) *Handler {
	t.Helper()
	store := signature.NewStore(64, nil, fixedTTL{d: time.Hour})
	t.Cleanup(store.Close)
	normalizer := message.NewNormalizer(signature.NewRecovery(store))

	cred := &credential.Credential{ID: "c1", Kind: credential.KindAntigravity, AccessToken: "tok", BaseURL: upstreamURL, ModelCooldowns: map[string]credential.CooldownEntry{}}
	pool := credential.NewPool([]*credential.Credential{cred}, 5, nil)
	t.Cleanup(pool.Close)

	d := dispatch.New(normalizer, pool, upstream.NewClient(), store)
	return NewHandler(d, pool, zerolog.Nop(), time.Second, 0)
}

func TestHandleAntigravityMessagesStreamsSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, sseBody)
	}))
	defer srv.Close()

	h := newTestHandler(t, srv.URL)

	req := httptest.NewRequest(http.MethodPost, "/antigravity/v1/messages", strings.NewReader(reqBody))
	rec := httptest.NewRecorder()
	h.HandleAntigravityMessages(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "hi")
}

func TestHandleChatCompletionsSurfacesUpstream4xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"nope"}`)
	}))
	defer srv.Close()

	h := newTestHandler(t, srv.URL)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(reqBody))
	rec := httptest.NewRecorder()
	h.HandleChatCompletions(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "nope")
}

func TestHandleRejectsOversizedBody(t *testing.T) {
	h := newTestHandler(t, "http://unused.invalid")
	h.MaxBodySize = 8

	req := httptest.NewRequest(http.MethodPost, "/antigravity/v1/messages", strings.NewReader(reqBody))
	rec := httptest.NewRecorder()
	h.HandleAntigravityMessages(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestHandleBackoffStatusRequiresPassword(t *testing.T) {
	h := newTestHandler(t, "http://unused.invalid")
	h.AdminEnabled = true
	h.AdminPassword = "sekret"

	req := httptest.NewRequest(http.MethodGet, "/api/credentials/backoff-status", nil)
	rec := httptest.NewRecorder()
	h.HandleBackoffStatus(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHandleBackoffStatusReturnsSnapshot(t *testing.T) {
	h := newTestHandler(t, "http://unused.invalid")
	h.AdminEnabled = true
	h.AdminPassword = "sekret"

	req := httptest.NewRequest(http.MethodGet, "/api/credentials/backoff-status?password=sekret", nil)
	rec := httptest.NewRecorder()
	h.HandleBackoffStatus(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":"c1"`)
	assert.NotContains(t, rec.Body.String(), "tok") // bearer token never leaves the pool this way
}

func TestHandleBackoffStatusDisabledReturnsNotFound(t *testing.T) {
	h := newTestHandler(t, "http://unused.invalid")

	req := httptest.NewRequest(http.MethodGet, "/api/credentials/backoff-status?password=anything", nil)
	rec := httptest.NewRecorder()
	h.HandleBackoffStatus(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
