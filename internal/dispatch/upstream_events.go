package dispatch

import (
	"github.com/tidwall/gjson"

	"github.com/allaspectsdev/sigproxy/internal/translate"
)

// decoder tracks the little bit of state needed to bridge upstream's
// split message_delta(stop_reason)/message_stop(no payload) pair into a
// single translate.Event (spec.md 6 upstream contract: "the core treats
// the upstream dialect as its internal event vocabulary").
type decoder struct {
	pendingStopReason string
}

// decode maps one upstream SSE event to zero or one translate.Event.
func (d *decoder) decode(eventName, data string) (translate.Event, bool) {
	if !gjson.Valid(data) {
		return translate.Event{}, false
	}
	root := gjson.Parse(data)

	switch root.Get("type").String() {
	case "content_block_start":
		cb := root.Get("content_block")
		kind := blockKindFromWire(cb.Get("type").String())
		return translate.Event{
			Kind:      translate.EventBlockStart,
			StartKind: kind,
			ToolName:  cb.Get("name").String(),
			ToolID:    cb.Get("id").String(),
		}, true
	case "content_block_delta":
		delta := root.Get("delta")
		switch delta.Get("type").String() {
		case "text_delta":
			return translate.Event{Kind: translate.EventTextDelta, Text: delta.Get("text").String()}, true
		case "thinking_delta":
			return translate.Event{Kind: translate.EventThinkingDelta, Text: delta.Get("thinking").String()}, true
		case "signature_delta":
			return translate.Event{Kind: translate.EventSignatureDelta, Signature: []byte(delta.Get("signature").String())}, true
		case "input_json_delta":
			return translate.Event{Kind: translate.EventToolInputDelta, PartialJS: delta.Get("partial_json").String()}, true
		}
		return translate.Event{}, false
	case "content_block_stop":
		return translate.Event{Kind: translate.EventBlockStop}, true
	case "message_delta":
		d.pendingStopReason = root.Get("delta.stop_reason").String()
		return translate.Event{}, false
	case "message_stop":
		return translate.Event{Kind: translate.EventMessageStop, StopReason: d.pendingStopReason}, true
	default:
		return translate.Event{}, false
	}
}

func blockKindFromWire(s string) translate.BlockKind {
	switch s {
	case "thinking":
		return translate.BlockKindThinking
	case "tool_use":
		return translate.BlockKindToolUse
	default:
		return translate.BlockKindText
	}
}
