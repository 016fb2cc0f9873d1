// Package httpapi exposes the Request Dispatcher over the four HTTP
// surfaces spec.md section 6 names, wiring chi routing, zerolog request
// logging, and the admin snapshot endpoint the way the teacher's proxy
// package wires its own handler set.
package httpapi

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/allaspectsdev/sigproxy/internal/credential"
	"github.com/allaspectsdev/sigproxy/internal/dispatch"
	"github.com/allaspectsdev/sigproxy/internal/message"
)

// Handler serves every gateway HTTP route over a single Dispatcher.
type Handler struct {
	Dispatcher     *dispatch.Dispatcher
	Pool           *credential.Pool
	Logger         zerolog.Logger
	RequestTimeout time.Duration
	AdminEnabled   bool
	AdminPassword  string
	MaxBodySize    int64
}

// NewHandler builds a Handler from its collaborators.
func NewHandler(d *dispatch.Dispatcher, pool *credential.Pool, logger zerolog.Logger, requestTimeout time.Duration, maxBodySize int64) *Handler {
	return &Handler{
		Dispatcher:     d,
		Pool:           pool,
		Logger:         logger,
		RequestTimeout: requestTimeout,
		MaxBodySize:    maxBodySize,
	}
}

// route describes one of spec.md section 6's HTTP surfaces.
type route struct {
	inFormat, outFormat message.WireFormat
	credKind            message.CredentialKind
}

var (
	// routeChatCompletions serves the OpenAI-compatible surface against
	// the antigravity dialect, the broadest-feature-parity upstream.
	routeChatCompletions = route{inFormat: message.WireOpenAI, outFormat: message.WireOpenAI, credKind: message.CredentialAntigravity}
	// routeAntigravityMessages serves the Anthropic-native surface
	// directly against its namesake dialect.
	routeAntigravityMessages = route{inFormat: message.WireAnthropic, outFormat: message.WireAnthropic, credKind: message.CredentialAntigravity}
	// routeGatewayChatStream serves the vendor NDJSON surface against the
	// geminicli dialect (the one that needs the adjacent-tool-use
	// signature-placement check in the Message Normalizer).
	routeGatewayChatStream = route{inFormat: message.WireNDJSON, outFormat: message.WireNDJSON, credKind: message.CredentialGeminiCLI}
)

// HandleChatCompletions serves POST /v1/chat/completions.
func (h *Handler) HandleChatCompletions(w http.ResponseWriter, r *http.Request) {
	h.handle(routeChatCompletions, w, r)
}

// HandleAntigravityMessages serves POST /antigravity/v1/messages.
func (h *Handler) HandleAntigravityMessages(w http.ResponseWriter, r *http.Request) {
	h.handle(routeAntigravityMessages, w, r)
}

// HandleGatewayChatStream serves POST /gateway/chat-stream.
func (h *Handler) HandleGatewayChatStream(w http.ResponseWriter, r *http.Request) {
	h.handle(routeGatewayChatStream, w, r)
}

func (h *Handler) handle(rt route, w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()
	logger := h.Logger.With().Str("request_id", requestID).Str("path", r.URL.Path).Logger()

	body := r.Body
	if h.MaxBodySize > 0 {
		body = http.MaxBytesReader(w, r.Body, h.MaxBodySize)
	}
	raw, err := io.ReadAll(body)
	if err != nil {
		logger.Warn().Err(err).Msg("reading request body")
		writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large or unreadable")
		return
	}

	headers := flattenHeaders(r.Header)

	ctx := r.Context()
	if h.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.RequestTimeout)
		defer cancel()
	}

	start := time.Now()
	err = h.Dispatcher.Handle(ctx, rt.inFormat, rt.outFormat, rt.credKind, raw, headers, w)
	if err != nil {
		writeDispatchError(w, logger, err)
		return
	}
	logger.Info().Dur("latency", time.Since(start)).Msg("request completed")
}

// flattenHeaders collapses net/http's multi-value header map into the
// single-value map message.DetectClientKind and upstream.Client expect.
func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, vs := range h {
		if len(vs) > 0 {
			out[k] = vs[0]
		}
	}
	return out
}
