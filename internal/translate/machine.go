// Package translate implements the Protocol Translator (spec.md 4.D): a
// single-producer state machine that consumes upstream content-block
// events and drives per-format emitters (Anthropic SSE, OpenAI SSE,
// vendor NDJSON) while feeding newly observed signatures back into the
// Signature Store.
package translate

import "fmt"

// BlockKind tags the kind of content block currently active.
type BlockKind int

const (
	BlockKindNone BlockKind = iota
	BlockKindThinking
	BlockKindText
	BlockKindToolUse
)

func (k BlockKind) String() string {
	switch k {
	case BlockKindNone:
		return "none"
	case BlockKindThinking:
		return "thinking"
	case BlockKindText:
		return "text"
	case BlockKindToolUse:
		return "tool_use"
	default:
		return "unknown"
	}
}

// State is a node in the block-level state machine (spec.md 4.D, section 9
// "tagged-variant representation ... with exhaustive matching").
type State int

const (
	StateIdle State = iota
	StateInThinking
	StateSignedThinking
	StateInText
	StateInToolUse
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInThinking:
		return "in_thinking"
	case StateSignedThinking:
		return "signed_thinking"
	case StateInText:
		return "in_text"
	case StateInToolUse:
		return "in_tool_use"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// EventKind tags an internal state-machine event.
type EventKind int

const (
	EventBlockStart EventKind = iota
	EventTextDelta
	EventThinkingDelta
	EventSignatureDelta
	EventToolInputDelta
	EventBlockStop
	EventMessageStop
)

// Event is one normalized upstream occurrence driving the machine.
type Event struct {
	Kind EventKind

	// BlockStart
	StartKind BlockKind
	ToolName  string
	ToolID    string

	// deltas
	Text      string // TextDelta / ThinkingDelta
	Signature []byte // SignatureDelta
	PartialJS string // ToolInputDelta

	// MessageStop
	StopReason string
}

// ErrInvalidTransition is returned by transition for any (state, event)
// pair with no defined handling. Every case in the alphabet must be
// explicit; there is no silent fall-through (spec.md section 9).
type ErrInvalidTransition struct {
	From  State
	Event EventKind
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("translate: invalid transition from %s on event kind %d", e.From, e.Event)
}

// transition computes the next state for (current, event). It does not
// perform emission; callers (Machine) pair this with per-event side
// effects.
func transition(current State, ev Event) (State, error) {
	switch current {
	case StateIdle:
		switch ev.Kind {
		case EventBlockStart:
			switch ev.StartKind {
			case BlockKindThinking:
				return StateInThinking, nil
			case BlockKindText:
				return StateInText, nil
			case BlockKindToolUse:
				return StateInToolUse, nil
			}
		case EventMessageStop:
			return StateDone, nil
		}
	case StateInThinking:
		switch ev.Kind {
		case EventThinkingDelta:
			return StateInThinking, nil
		case EventSignatureDelta:
			return StateSignedThinking, nil
		case EventBlockStop:
			return StateIdle, nil
		}
	case StateSignedThinking:
		switch ev.Kind {
		case EventBlockStop:
			return StateIdle, nil
		}
	case StateInText:
		switch ev.Kind {
		case EventTextDelta:
			return StateInText, nil
		case EventBlockStop:
			return StateIdle, nil
		}
	case StateInToolUse:
		switch ev.Kind {
		case EventToolInputDelta:
			return StateInToolUse, nil
		case EventBlockStop:
			return StateIdle, nil
		}
	case StateDone:
		// Terminal; nothing may follow.
	}
	return current, &ErrInvalidTransition{From: current, Event: ev.Kind}
}
