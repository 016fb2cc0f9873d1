// Package dispatch implements the Request Dispatcher (spec.md 4.F): the
// acquire/call/translate/release loop tying the Message Normalizer,
// Credential Pool, upstream client, and Protocol Translator together.
package dispatch

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/allaspectsdev/sigproxy/internal/credential"
	"github.com/allaspectsdev/sigproxy/internal/message"
	"github.com/allaspectsdev/sigproxy/internal/sigerr"
	"github.com/allaspectsdev/sigproxy/internal/signature"
	"github.com/allaspectsdev/sigproxy/internal/translate"
	"github.com/allaspectsdev/sigproxy/internal/upstream"
	"github.com/allaspectsdev/sigproxy/internal/wire"
)

// maxAttempts bounds the acquire/call retry loop (spec.md 4.F).
const maxAttempts = 3

// Dispatcher wires together the components the way spec.md 4.F's
// dataflow does: decode+normalize, acquire a credential, call upstream,
// translate the response, release.
type Dispatcher struct {
	Normalizer *message.Normalizer
	Pool       *credential.Pool
	Upstream   *upstream.Client
	Store      *signature.Store
}

// New builds a Dispatcher from its four collaborators.
func New(normalizer *message.Normalizer, pool *credential.Pool, up *upstream.Client, store *signature.Store) *Dispatcher {
	return &Dispatcher{Normalizer: normalizer, Pool: pool, Upstream: up, Store: store}
}

// Handle runs one request end to end: decode the inbound payload in
// inFormat, normalize it, dispatch to upstream with retry, and translate
// the resulting stream to outFormat on w.
func (d *Dispatcher) Handle(ctx context.Context, inFormat, outFormat message.WireFormat, credKind message.CredentialKind, rawBody []byte, headers map[string]string, w http.ResponseWriter) error {
	msgs, err := message.Decode(inFormat, rawBody)
	if err != nil {
		return sigerr.Wrap(sigerr.KindInternal, "decoding request body", err)
	}

	clientKind := message.DetectClientKind(headers)
	msgs, err = d.Normalizer.Normalize(msgs, clientKind, credKind)
	if err != nil {
		return err // already a *sigerr.Error of kind KindMalformedToolChain
	}

	model := gjson.GetBytes(rawBody, "model").String()
	userMessages := message.CollectUserTexts(msgs)
	upstreamBody, err := message.EncodeAnthropicRequest(msgs, model, true)
	if err != nil {
		return sigerr.Wrap(sigerr.KindInternal, "encoding upstream request", err)
	}

	emitter, writeHeader := d.buildEmitter(outFormat, w)

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		cred, err := d.Pool.Acquire(ctx, model)
		if err != nil {
			return err // *sigerr.Error of kind KindNoCredentialAvailable
		}

		resp, err := d.Upstream.Forward(ctx, cred, credential.PathFor(cred.Kind), upstreamBody, headers)
		if err != nil {
			d.Pool.Release(cred.ID, model, credential.OutcomeOtherError)
			lastErr = sigerr.Wrap(sigerr.KindRecoverableUpstream, "upstream call failed", err)
			continue
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			resp.Body.Close()
			d.Pool.Release(cred.ID, model, credential.OutcomeRateLimited)
			lastErr = sigerr.New(sigerr.KindRateLimited, "upstream rate limited")
			continue
		case resp.StatusCode >= 500:
			resp.Body.Close()
			d.Pool.Release(cred.ID, model, credential.OutcomeOtherError)
			lastErr = sigerr.New(sigerr.KindRecoverableUpstream, fmt.Sprintf("upstream returned %d", resp.StatusCode))
			continue
		case resp.StatusCode >= 400:
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			d.Pool.Release(cred.ID, model, credential.OutcomeOtherError)
			upstreamErr := sigerr.New(sigerr.KindUpstream4xx, fmt.Sprintf("upstream returned %d: %s", resp.StatusCode, string(body)))
			upstreamErr.StatusCode = resp.StatusCode
			return upstreamErr
		}

		writeHeader()
		err = d.stream(ctx, resp.Body, emitter, userMessages)
		resp.Body.Close()
		if err != nil {
			d.Pool.Release(cred.ID, model, credential.OutcomeOtherError)
			return sigerr.Wrap(sigerr.KindInternal, "translating upstream stream", err)
		}
		d.Pool.Release(cred.ID, model, credential.OutcomeSuccess)
		return nil
	}

	return lastErr
}

func (d *Dispatcher) buildEmitter(format message.WireFormat, w http.ResponseWriter) (translate.Emitter, func()) {
	switch format {
	case message.WireOpenAI:
		w.Header().Set("Content-Type", "text/event-stream")
		return translate.NewOpenAIEmitter(wire.NewSSEWriter(w)), func() { w.WriteHeader(http.StatusOK) }
	case message.WireNDJSON:
		w.Header().Set("Content-Type", "application/x-ndjson")
		return translate.NewNDJSONEmitter(wire.NewNDJSONWriter(w)), func() { w.WriteHeader(http.StatusOK) }
	default:
		w.Header().Set("Content-Type", "text/event-stream")
		return translate.NewAnthropicEmitter(wire.NewSSEWriter(w)), func() { w.WriteHeader(http.StatusOK) }
	}
}

// stream reads upstream's SSE event stream and feeds it through the
// translator, which persists every newly observed signature against the
// conversation's session key as it goes (signature.BuildKeys, keyed off
// userMessages) before handing the content back to the wire emitter.
func (d *Dispatcher) stream(ctx context.Context, body io.Reader, emitter translate.Emitter, userMessages []string) error {
	machine := translate.NewMachine(emitter, d.Store, userMessages)

	reader := wire.NewSSEReader(body)
	dec := &decoder{}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		evt, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		translated, ok := dec.decode(evt.Event, evt.Data)
		if !ok {
			continue
		}
		if err := machine.Feed(translated); err != nil {
			return err
		}
		if translated.Kind == translate.EventMessageStop {
			return nil
		}
	}
}
