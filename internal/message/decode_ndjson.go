package message

import (
	"fmt"

	"github.com/tidwall/gjson"
)

// NDJSON node type numbers, mirrored from the outbound emission table in
// spec.md 4.D so inbound history round-trips through the same vocabulary.
const (
	ndjsonNodeText     = 0
	ndjsonNodeToolUse  = 5
	ndjsonNodeThinking = 6
)

// DecodeNDJSON parses a vendor NDJSON request body. Unlike the streaming
// NDJSON wire format (one JSON object per line, see internal/wire), the
// request body is a single JSON document with a "messages" array whose
// entries carry the same typed nodes the translator emits, so history
// round-trips through the identical vocabulary.
func DecodeNDJSON(body []byte) ([]Message, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("message: invalid JSON body")
	}
	root := gjson.ParseBytes(body)

	var out []Message
	msgs := root.Get("messages")
	if !msgs.IsArray() {
		return out, nil
	}

	msgs.ForEach(func(_, msg gjson.Result) bool {
		role := Role(msg.Get("role").String())
		var blocks []Block
		msg.Get("blocks").ForEach(func(_, node gjson.Result) bool {
			blocks = append(blocks, decodeNDJSONNode(node))
			return true
		})
		out = append(out, Message{Role: role, Blocks: blocks})
		return true
	})
	return out, nil
}

func decodeNDJSONNode(node gjson.Result) Block {
	data := node.Get("data")
	switch node.Get("type").Int() {
	case ndjsonNodeThinking:
		b := Block{Kind: BlockThinking, Text: data.Get("thinking").String()}
		if sig := data.Get("signature"); sig.Exists() {
			b.Signature = []byte(sig.String())
		}
		return b
	case ndjsonNodeToolUse:
		tu := data.Get("tool_use")
		return Block{
			Kind:      BlockToolUse,
			ToolUseID: tu.Get("id").String(),
			ToolName:  tu.Get("name").String(),
			InputJSON: tu.Get("input").Raw,
		}
	default: // ndjsonNodeText and anything unrecognized degrades to text
		return Block{Kind: BlockText, Text: data.Get("text").String()}
	}
}
