package translate

import (
	"github.com/tidwall/sjson"

	"github.com/allaspectsdev/sigproxy/internal/wire"
)

// NDJSON node type numbers (spec.md 4.D table / decode_ndjson.go).
const (
	ndjsonNodeText     = 0
	ndjsonNodeToolUse  = 5
	ndjsonNodeThinking = 6
	ndjsonNodeStop     = 3
)

// NDJSONEmitter has no streaming-tool-arguments representation (spec.md
// 4.D "known design limitation"): tool calls are always emitted after
// full accumulation, at block stop.
type NDJSONEmitter struct {
	w *wire.NDJSONWriter

	kind        BlockKind
	thinkingBuf string
	signature   []byte
	toolID      string
	toolName    string
	toolArgsBuf string
}

// NewNDJSONEmitter builds an emitter writing to w.
func NewNDJSONEmitter(w *wire.NDJSONWriter) *NDJSONEmitter {
	return &NDJSONEmitter{w: w}
}

func (e *NDJSONEmitter) OnBlockStart(kind BlockKind, toolName, toolID string) error {
	e.kind = kind
	e.thinkingBuf = ""
	e.signature = nil
	e.toolID = toolID
	e.toolName = toolName
	e.toolArgsBuf = ""
	return nil
}

func (e *NDJSONEmitter) OnTextDelta(s string) error {
	body, _ := sjson.Set(`{}`, "type", ndjsonNodeText)
	body, _ = sjson.Set(body, "data.text", s)
	body, _ = sjson.Set(body, "data.delta", true)
	return e.w.WriteLine([]byte(body))
}

func (e *NDJSONEmitter) OnThinkingDelta(s string) error {
	e.thinkingBuf += s
	return nil
}

func (e *NDJSONEmitter) OnSignatureDelta(sig []byte) error {
	e.signature = sig
	return nil
}

func (e *NDJSONEmitter) OnToolInputDelta(partialJSON string) error {
	e.toolArgsBuf += partialJSON
	return nil
}

func (e *NDJSONEmitter) OnBlockStop() error {
	switch e.kind {
	case BlockKindThinking:
		body, _ := sjson.Set(`{}`, "type", ndjsonNodeThinking)
		body, _ = sjson.Set(body, "data.thinking", e.thinkingBuf)
		if len(e.signature) > 0 {
			body, _ = sjson.Set(body, "data.signature", string(e.signature))
		}
		return e.w.WriteLine([]byte(body))
	case BlockKindToolUse:
		body, _ := sjson.Set(`{}`, "type", ndjsonNodeToolUse)
		body, _ = sjson.Set(body, "data.tool_use.id", e.toolID)
		body, _ = sjson.Set(body, "data.tool_use.name", e.toolName)
		body, _ = sjson.SetRaw(body, "data.tool_use.input", orEmptyObject(e.toolArgsBuf))
		return e.w.WriteLine([]byte(body))
	}
	return nil
}

func (e *NDJSONEmitter) OnMessageStop(reason string) error {
	body, _ := sjson.Set(`{}`, "type", ndjsonNodeStop)
	body, _ = sjson.Set(body, "stop_reason", reason)
	return e.w.WriteLine([]byte(body))
}

func orEmptyObject(raw string) string {
	if raw == "" {
		return "{}"
	}
	return raw
}
