package message

import (
	"fmt"

	"github.com/tidwall/sjson"
)

// EncodeAnthropicRequest serializes canonical messages back into an
// Anthropic-shaped request body for the upstream call. Recovered or
// already-present signatures are written back byte-exact (spec.md 3.3:
// "must round-trip byte-exactly on the next request").
func EncodeAnthropicRequest(msgs []Message, model string, stream bool) ([]byte, error) {
	body := `{}`
	var err error
	body, err = sjson.Set(body, "model", model)
	if err != nil {
		return nil, fmt.Errorf("message: encoding model: %w", err)
	}
	body, _ = sjson.Set(body, "stream", stream)

	msgIdx := 0
	for _, m := range msgs {
		if m.Role == RoleSystem {
			body, _ = sjson.Set(body, "system", joinText(m.Blocks))
			continue
		}

		prefix := fmt.Sprintf("messages.%d", msgIdx)
		body, _ = sjson.Set(body, prefix+".role", string(m.Role))

		blockIdx := 0
		for _, b := range m.Blocks {
			bp := fmt.Sprintf("%s.content.%d", prefix, blockIdx)
			switch b.Kind {
			case BlockText:
				body, _ = sjson.Set(body, bp+".type", "text")
				body, _ = sjson.Set(body, bp+".text", b.Text)
			case BlockThinking:
				if b.Unsignable || len(b.Signature) == 0 {
					// No recoverable signature: downgrade to plain text
					// rather than send an upstream-rejectable unsigned
					// thinking block (spec.md 4.C).
					body, _ = sjson.Set(body, bp+".type", "text")
					body, _ = sjson.Set(body, bp+".text", b.Text)
					break
				}
				body, _ = sjson.Set(body, bp+".type", "thinking")
				body, _ = sjson.Set(body, bp+".thinking", b.Text)
				body, _ = sjson.Set(body, bp+".signature", string(b.Signature))
			case BlockToolUse:
				body, _ = sjson.Set(body, bp+".type", "tool_use")
				body, _ = sjson.Set(body, bp+".id", b.ToolUseID)
				body, _ = sjson.Set(body, bp+".name", b.ToolName)
				if b.InputJSON != "" {
					body, _ = sjson.SetRaw(body, bp+".input", b.InputJSON)
				} else {
					body, _ = sjson.SetRaw(body, bp+".input", "{}")
				}
			case BlockToolResult:
				body, _ = sjson.Set(body, bp+".type", "tool_result")
				body, _ = sjson.Set(body, bp+".tool_use_id", b.ToolResultForID)
				body, _ = sjson.Set(body, bp+".content", b.ToolResultBody)
			case BlockImage:
				body, _ = sjson.Set(body, bp+".type", "image")
				body, _ = sjson.Set(body, bp+".source.media_type", b.ImageMediaType)
				body, _ = sjson.Set(body, bp+".source.data", b.ImageData)
			}
			blockIdx++
		}
		msgIdx++
	}
	return []byte(body), nil
}

func joinText(blocks []Block) string {
	s := ""
	for _, b := range blocks {
		if b.Kind == BlockText {
			s += b.Text
		}
	}
	return s
}
