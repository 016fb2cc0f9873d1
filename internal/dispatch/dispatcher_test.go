package dispatch

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allaspectsdev/sigproxy/internal/credential"
	"github.com/allaspectsdev/sigproxy/internal/message"
	"github.com/allaspectsdev/sigproxy/internal/sigerr"
	"github.com/allaspectsdev/sigproxy/internal/signature"
	"github.com/allaspectsdev/sigproxy/internal/upstream"
)

type fixedTTL struct{ d time.Duration }

func (f fixedTTL) TTLFor(string) time.Duration { return f.d }

const reqBody = `{"model":"claude-test","messages":[{"role":"user","content":[{"type":"text","text":"hello"}]}]}`

func newTestDispatcher(t *testing.T, pool *credential.Pool) (*Dispatcher, *signature.Store) {
	t.Helper()
	store := signature.NewStore(64, nil, fixedTTL{d: time.Hour})
	t.Cleanup(store.Close)
	normalizer := message.NewNormalizer(signature.NewRecovery(store))
	return New(normalizer, pool, upstream.NewClient(), store), store
}

// sseBody is the exact upstream stream for a one-shot thinking+text turn
// (scenario S1's round-trip, replayed through the dispatcher end to end).
const sseBody = `event: content_block_start
data: {"type":"content_block_start","index":0,"content_block":{"type":"thinking"}}

event: content_block_delta
data: {"type":"content_block_delta","index":0,"delta":{"type":"thinking_delta","thinking":"scratch work"}}

event: content_block_delta
data: {"type":"content_block_delta","index":0,"delta":{"type":"signature_delta","signature":"SIG1"}}

event: content_block_stop
data: {"type":"content_block_stop","index":0}

event: content_block_start
data: {"type":"content_block_start","index":1,"content_block":{"type":"text"}}

event: content_block_delta
data: {"type":"content_block_delta","index":1,"delta":{"type":"text_delta","text":"hi there"}}

event: content_block_stop
data: {"type":"content_block_stop","index":1}

event: message_delta
data: {"type":"message_delta","delta":{"stop_reason":"end_turn"}}

event: message_stop
data: {"type":"message_stop"}

`

func TestHandleStreamsSuccessAndPersistsSignature(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, sseBody)
	}))
	defer srv.Close()

	cred := &credential.Credential{ID: "c1", Kind: credential.KindAntigravity, AccessToken: "tok", BaseURL: srv.URL, ModelCooldowns: map[string]credential.CooldownEntry{}}
	pool := credential.NewPool([]*credential.Credential{cred}, 5, nil)
	defer pool.Close()

	d, store := newTestDispatcher(t, pool)

	rec := httptest.NewRecorder()
	err := d.Handle(context.Background(), message.WireAnthropic, message.WireAnthropic, message.CredentialAntigravity,
		[]byte(reqBody), map[string]string{}, rec)
	require.NoError(t, err)

	assert.Contains(t, rec.Body.String(), `"signature_delta"`)
	assert.Contains(t, rec.Body.String(), "SIG1")
	assert.Contains(t, rec.Body.String(), "hi there")

	_, ok := store.GetBy(signature.KindText, signature.PrimaryKey("scratch work"), "generic")
	assert.True(t, ok, "signature observed mid-stream must be persisted to the store")
}

func TestHandleRetriesOnRateLimitThenSucceeds(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, sseBody)
	}))
	defer srv.Close()

	c1 := &credential.Credential{ID: "c1", Kind: credential.KindAntigravity, AccessToken: "tok1", BaseURL: srv.URL, ModelCooldowns: map[string]credential.CooldownEntry{}}
	c2 := &credential.Credential{ID: "c2", Kind: credential.KindAntigravity, AccessToken: "tok2", BaseURL: srv.URL, ModelCooldowns: map[string]credential.CooldownEntry{}}
	pool := credential.NewPool([]*credential.Credential{c1, c2}, 5, nil)
	defer pool.Close()

	d, _ := newTestDispatcher(t, pool)

	rec := httptest.NewRecorder()
	err := d.Handle(context.Background(), message.WireAnthropic, message.WireAnthropic, message.CredentialAntigravity,
		[]byte(reqBody), map[string]string{}, rec)
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.Contains(t, rec.Body.String(), "hi there")
}

func TestHandleReturnsNoCredentialAvailable(t *testing.T) {
	cred := &credential.Credential{ID: "c1", Kind: credential.KindAntigravity, ModelCooldowns: map[string]credential.CooldownEntry{
		"claude-test": {CooldownUntil: time.Now().Add(60 * time.Second)},
	}}
	pool := credential.NewPool([]*credential.Credential{cred}, 5, nil)
	defer pool.Close()

	d, _ := newTestDispatcher(t, pool)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	rec := httptest.NewRecorder()
	err := d.Handle(ctx, message.WireAnthropic, message.WireAnthropic, message.CredentialAntigravity,
		[]byte(reqBody), map[string]string{}, rec)
	require.Error(t, err)
	assert.Equal(t, sigerr.KindNoCredentialAvailable, sigerr.KindOf(err))
}

func TestHandleSurfacesNonRetryable4xxVerbatim(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"bad request"}`)
	}))
	defer srv.Close()

	cred := &credential.Credential{ID: "c1", Kind: credential.KindAntigravity, AccessToken: "tok", BaseURL: srv.URL, ModelCooldowns: map[string]credential.CooldownEntry{}}
	pool := credential.NewPool([]*credential.Credential{cred}, 5, nil)
	defer pool.Close()

	d, _ := newTestDispatcher(t, pool)

	rec := httptest.NewRecorder()
	err := d.Handle(context.Background(), message.WireAnthropic, message.WireAnthropic, message.CredentialAntigravity,
		[]byte(reqBody), map[string]string{}, rec)
	require.Error(t, err)
	assert.Equal(t, sigerr.KindUpstream4xx, sigerr.KindOf(err))
	assert.True(t, strings.Contains(err.Error(), "bad request"))

	var sigErr *sigerr.Error
	require.ErrorAs(t, err, &sigErr)
	assert.Equal(t, http.StatusBadRequest, sigErr.StatusCode)
}
