package translate

import (
	"strings"
	"time"

	"github.com/allaspectsdev/sigproxy/internal/signature"
)

// Machine drives one Emitter through the block-level event alphabet for a
// single request. It is never shared across requests (spec.md section 5:
// "different requests never share translator state").
type Machine struct {
	state   State
	emitter Emitter

	thinkingBuf  strings.Builder
	toolInputBuf strings.Builder
	toolUseID    string

	store        *signature.Store
	userMessages []string

	// onSignature lets the dispatcher also register the request's
	// session_key against a newly observed signature (spec.md 4.F step 2c),
	// without the Machine needing to know what a session_key is.
	onSignature func(text string, sig []byte)
}

// NewMachine builds a Machine over emitter. store may be nil (used by
// tests that only exercise emission, not persistence); userMessages feeds
// signature.BuildKeys' session-key computation.
func NewMachine(emitter Emitter, store *signature.Store, userMessages []string) *Machine {
	return &Machine{emitter: emitter, store: store, userMessages: userMessages}
}

// OnSignature installs a hook invoked after every SignatureDelta, in
// addition to the normal store Put.
func (m *Machine) OnSignature(fn func(text string, sig []byte)) {
	m.onSignature = fn
}

// State reports the machine's current state, for tests and diagnostics.
func (m *Machine) State() State { return m.state }

// Feed advances the machine by one event, validating the transition and
// dispatching the matching Emitter callback. A transition error is
// terminal for the request (spec.md section 7).
func (m *Machine) Feed(ev Event) error {
	next, err := transition(m.state, ev)
	if err != nil {
		return err
	}

	switch ev.Kind {
	case EventBlockStart:
		m.thinkingBuf.Reset()
		m.toolInputBuf.Reset()
		if ev.StartKind == BlockKindToolUse {
			m.toolUseID = ev.ToolID
		}
		if err := m.emitter.OnBlockStart(ev.StartKind, ev.ToolName, ev.ToolID); err != nil {
			return err
		}
	case EventTextDelta:
		if err := m.emitter.OnTextDelta(ev.Text); err != nil {
			return err
		}
	case EventThinkingDelta:
		m.thinkingBuf.WriteString(ev.Text)
		if err := m.emitter.OnThinkingDelta(ev.Text); err != nil {
			return err
		}
	case EventSignatureDelta:
		text := m.thinkingBuf.String()
		m.persistSignature(text, ev.Signature)
		if err := m.emitter.OnSignatureDelta(ev.Signature); err != nil {
			return err
		}
	case EventToolInputDelta:
		m.toolInputBuf.WriteString(ev.PartialJS)
		if err := m.emitter.OnToolInputDelta(ev.PartialJS); err != nil {
			return err
		}
	case EventBlockStop:
		if err := m.emitter.OnBlockStop(); err != nil {
			return err
		}
	case EventMessageStop:
		if err := m.emitter.OnMessageStop(ev.StopReason); err != nil {
			return err
		}
	}

	m.state = next
	return nil
}

func (m *Machine) persistSignature(text string, sig []byte) {
	if m.store != nil {
		now := time.Now()
		rec := &signature.Record{
			ID:         signature.NewRecordID(),
			Signature:  sig,
			Text:       []byte(text),
			CreatedAt:  now,
			LastAccess: now,
		}
		keys := signature.BuildKeys(text, m.userMessages, m.toolUseID)
		m.store.Put(rec, keys)
	}
	if m.onSignature != nil {
		m.onSignature(text, sig)
	}
}
