package translate

import (
	"github.com/tidwall/sjson"

	"github.com/allaspectsdev/sigproxy/internal/wire"
)

// OpenAIEmitter reproduces the flat chat.completion.chunk delta shape
// (spec.md 4.D table). Thinking has no native OpenAI representation, so
// it is wrapped in a `<think>...</think>` pseudo-tag inside delta.content
// (DESIGN.md Open Question 3). Tool-call arguments have no incremental
// OpenAI-visible counterpart here; they are accumulated and emitted once
// at block stop, matching the table's "accumulate ... at stop" rule.
type OpenAIEmitter struct {
	w *wire.SSEWriter

	kind          BlockKind
	toolCallIndex int
	toolID        string
	toolName      string
	toolArgsBuf   string
}

// NewOpenAIEmitter builds an emitter writing to w.
func NewOpenAIEmitter(w *wire.SSEWriter) *OpenAIEmitter {
	return &OpenAIEmitter{w: w, toolCallIndex: -1}
}

func newOpenAIChunk() string {
	body, _ := sjson.Set(`{}`, "object", "chat.completion.chunk")
	body, _ = sjson.Set(body, "choices.0.index", 0)
	return body
}

func (e *OpenAIEmitter) sendContent(s string) error {
	body, _ := sjson.Set(newOpenAIChunk(), "choices.0.delta.content", s)
	return e.w.WriteEvent(&wire.SSEEvent{Data: body})
}

func (e *OpenAIEmitter) OnBlockStart(kind BlockKind, toolName, toolID string) error {
	e.kind = kind
	switch kind {
	case BlockKindThinking:
		return e.sendContent(thinkOpenTagConst)
	case BlockKindToolUse:
		e.toolCallIndex++
		e.toolID = toolID
		e.toolName = toolName
		e.toolArgsBuf = ""
	}
	return nil
}

func (e *OpenAIEmitter) OnTextDelta(s string) error {
	return e.sendContent(s)
}

func (e *OpenAIEmitter) OnThinkingDelta(s string) error {
	return e.sendContent(s)
}

func (e *OpenAIEmitter) OnSignatureDelta(sig []byte) error {
	// No OpenAI-visible representation for signatures; nothing to emit.
	return nil
}

func (e *OpenAIEmitter) OnToolInputDelta(partialJSON string) error {
	e.toolArgsBuf += partialJSON
	return nil
}

func (e *OpenAIEmitter) OnBlockStop() error {
	switch e.kind {
	case BlockKindThinking:
		return e.sendContent(thinkCloseTagConst)
	case BlockKindToolUse:
		body := newOpenAIChunk()
		body, _ = sjson.Set(body, "choices.0.delta.tool_calls.0.index", e.toolCallIndex)
		body, _ = sjson.Set(body, "choices.0.delta.tool_calls.0.id", e.toolID)
		body, _ = sjson.Set(body, "choices.0.delta.tool_calls.0.function.name", e.toolName)
		body, _ = sjson.Set(body, "choices.0.delta.tool_calls.0.function.arguments", e.toolArgsBuf)
		return e.w.WriteEvent(&wire.SSEEvent{Data: body})
	}
	return nil
}

func (e *OpenAIEmitter) OnMessageStop(reason string) error {
	body, _ := sjson.Set(newOpenAIChunk(), "choices.0.finish_reason", reason)
	body, _ = sjson.Set(body, "choices.0.delta", map[string]any{})
	if err := e.w.WriteEvent(&wire.SSEEvent{Data: body}); err != nil {
		return err
	}
	return e.w.WriteEvent(&wire.SSEEvent{Data: "[DONE]"})
}

// thinkOpenTagConst / thinkCloseTagConst mirror internal/message's
// thinkOpenTag/thinkCloseTag so a decoded-then-re-emitted thinking block
// round-trips through the identical pseudo-tag.
const (
	thinkOpenTagConst  = "<think>"
	thinkCloseTagConst = "</think>"
)
