package translate

import (
	"fmt"

	"github.com/tidwall/sjson"

	"github.com/allaspectsdev/sigproxy/internal/wire"
)

// AnthropicEmitter reproduces Anthropic's native content-block SSE shape
// (spec.md 4.D table): one content_block_start/delta*/stop per block, a
// signature_delta for signed thinking, input_json_delta for incremental
// tool arguments, and a closing message_stop.
type AnthropicEmitter struct {
	w     *wire.SSEWriter
	index int
	kind  BlockKind
}

// NewAnthropicEmitter builds an emitter writing to w.
func NewAnthropicEmitter(w *wire.SSEWriter) *AnthropicEmitter {
	return &AnthropicEmitter{w: w, index: -1}
}

func (e *AnthropicEmitter) send(event, payload string) error {
	return e.w.WriteEvent(&wire.SSEEvent{Event: event, Data: payload})
}

func (e *AnthropicEmitter) OnBlockStart(kind BlockKind, toolName, toolID string) error {
	e.index++
	e.kind = kind

	body := `{}`
	var err error
	body, err = sjson.Set(body, "type", "content_block_start")
	if err != nil {
		return fmt.Errorf("translate: anthropic block_start: %w", err)
	}
	body, _ = sjson.Set(body, "index", e.index)

	var blockType string
	switch kind {
	case BlockKindThinking:
		blockType = "thinking"
		body, _ = sjson.Set(body, "content_block.thinking", "")
	case BlockKindText:
		blockType = "text"
		body, _ = sjson.Set(body, "content_block.text", "")
	case BlockKindToolUse:
		blockType = "tool_use"
		body, _ = sjson.Set(body, "content_block.id", toolID)
		body, _ = sjson.Set(body, "content_block.name", toolName)
	}
	body, _ = sjson.Set(body, "content_block.type", blockType)
	return e.send("content_block_start", body)
}

func (e *AnthropicEmitter) OnTextDelta(s string) error {
	body, _ := sjson.Set(`{"type":"content_block_delta"}`, "index", e.index)
	body, _ = sjson.Set(body, "delta.type", "text_delta")
	body, _ = sjson.Set(body, "delta.text", s)
	return e.send("content_block_delta", body)
}

func (e *AnthropicEmitter) OnThinkingDelta(s string) error {
	body, _ := sjson.Set(`{"type":"content_block_delta"}`, "index", e.index)
	body, _ = sjson.Set(body, "delta.type", "thinking_delta")
	body, _ = sjson.Set(body, "delta.thinking", s)
	return e.send("content_block_delta", body)
}

func (e *AnthropicEmitter) OnSignatureDelta(sig []byte) error {
	body, _ := sjson.Set(`{"type":"content_block_delta"}`, "index", e.index)
	body, _ = sjson.Set(body, "delta.type", "signature_delta")
	// sig is carried as the exact bytes of the wire-format string upstream
	// sent; round-tripping it through a Go string preserves those bytes
	// verbatim (spec.md section 9: never convert through a lossy encoding).
	body, _ = sjson.Set(body, "delta.signature", string(sig))
	return e.send("content_block_delta", body)
}

func (e *AnthropicEmitter) OnToolInputDelta(partialJSON string) error {
	body, _ := sjson.Set(`{"type":"content_block_delta"}`, "index", e.index)
	body, _ = sjson.Set(body, "delta.type", "input_json_delta")
	body, _ = sjson.Set(body, "delta.partial_json", partialJSON)
	return e.send("content_block_delta", body)
}

func (e *AnthropicEmitter) OnBlockStop() error {
	body, _ := sjson.Set(`{"type":"content_block_stop"}`, "index", e.index)
	return e.send("content_block_stop", body)
}

func (e *AnthropicEmitter) OnMessageStop(reason string) error {
	body, _ := sjson.Set(`{"type":"message_delta"}`, "delta.stop_reason", reason)
	if err := e.send("message_delta", body); err != nil {
		return err
	}
	return e.send("message_stop", `{"type":"message_stop"}`)
}
