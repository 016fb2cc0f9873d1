package message

import (
	"fmt"

	"github.com/tidwall/gjson"
)

// DecodeAnthropic parses an Anthropic /v1/messages-shaped request body into
// canonical Messages. Content blocks are read with gjson rather than a
// full request struct since only a handful of fields are needed per block
// (mirrors the teacher's minimal per-event unmarshal structs in
// proxy/streaming.go, generalized to request bodies).
func DecodeAnthropic(body []byte) ([]Message, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("message: invalid JSON body")
	}
	root := gjson.ParseBytes(body)

	var out []Message
	if sys := root.Get("system"); sys.Exists() {
		out = append(out, systemMessageFromField(sys))
	}

	msgs := root.Get("messages")
	if !msgs.IsArray() {
		return out, nil
	}

	var decodeErr error
	msgs.ForEach(func(_, msg gjson.Result) bool {
		role := Role(msg.Get("role").String())
		content := msg.Get("content")

		var blocks []Block
		if content.Type == gjson.String {
			blocks = append(blocks, Block{Kind: BlockText, Text: content.String()})
		} else if content.IsArray() {
			content.ForEach(func(_, cb gjson.Result) bool {
				b, err := decodeAnthropicBlock(cb)
				if err != nil {
					decodeErr = err
					return false
				}
				blocks = append(blocks, b)
				return true
			})
		}
		out = append(out, Message{Role: role, Blocks: blocks})
		return decodeErr == nil
	})
	if decodeErr != nil {
		return nil, decodeErr
	}
	return out, nil
}

func systemMessageFromField(sys gjson.Result) Message {
	if sys.Type == gjson.String {
		return Message{Role: RoleSystem, Blocks: []Block{{Kind: BlockText, Text: sys.String()}}}
	}
	var blocks []Block
	sys.ForEach(func(_, cb gjson.Result) bool {
		blocks = append(blocks, Block{Kind: BlockText, Text: cb.Get("text").String()})
		return true
	})
	return Message{Role: RoleSystem, Blocks: blocks}
}

func decodeAnthropicBlock(cb gjson.Result) (Block, error) {
	switch cb.Get("type").String() {
	case "text":
		return Block{Kind: BlockText, Text: cb.Get("text").String()}, nil
	case "thinking":
		b := Block{Kind: BlockThinking, Text: cb.Get("thinking").String()}
		if sig := cb.Get("signature"); sig.Exists() {
			b.Signature = []byte(sig.String())
		}
		return b, nil
	case "redacted_thinking":
		return Block{Kind: BlockThinking, Redacted: true, Text: cb.Get("data").String()}, nil
	case "tool_use":
		return Block{
			Kind:      BlockToolUse,
			ToolUseID: cb.Get("id").String(),
			ToolName:  cb.Get("name").String(),
			InputJSON: cb.Get("input").Raw,
		}, nil
	case "tool_result":
		content := cb.Get("content")
		body := content.String()
		if content.IsArray() {
			body = content.Raw
		}
		return Block{Kind: BlockToolResult, ToolResultForID: cb.Get("tool_use_id").String(), ToolResultBody: body}, nil
	case "image":
		src := cb.Get("source")
		return Block{Kind: BlockImage, ImageMediaType: src.Get("media_type").String(), ImageData: src.Get("data").String()}, nil
	default:
		return Block{}, fmt.Errorf("message: unknown anthropic block type %q", cb.Get("type").String())
	}
}
