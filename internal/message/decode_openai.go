package message

import (
	"fmt"

	"github.com/tidwall/gjson"
)

// DecodeOpenAI parses an OpenAI /v1/chat/completions-shaped request body.
// OpenAI has no native thinking-block concept; a `<think>...</think>`
// wrapped prefix inside message content is unwrapped back into a Thinking
// block so the normalizer can run recovery on it uniformly (mirror image
// of the emission rule in internal/translate/openai.go).
func DecodeOpenAI(body []byte) ([]Message, error) {
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
		content := msg.Get("content")

		var blocks []Block
		if content.Type == gjson.String {
			blocks = append(blocks, blocksFromPlainText(content.String())...)
		} else if content.IsArray() {
			content.ForEach(func(_, part gjson.Result) bool {
				switch part.Get("type").String() {
				case "text":
					blocks = append(blocks, blocksFromPlainText(part.Get("text").String())...)
				case "image_url":
					blocks = append(blocks, Block{Kind: BlockImage, ImageData: part.Get("image_url.url").String()})
				}
				return true
			})
		}

		if tc := msg.Get("tool_calls"); tc.IsArray() {
			tc.ForEach(func(_, call gjson.Result) bool {
				blocks = append(blocks, Block{
					Kind:      BlockToolUse,
					ToolUseID: call.Get("id").String(),
					ToolName:  call.Get("function.name").String(),
					InputJSON: call.Get("function.arguments").String(),
				})
				return true
			})
		}
		if role == RoleTool {
			blocks = append(blocks, Block{
				Kind:            BlockToolResult,
				ToolResultForID: msg.Get("tool_call_id").String(),
				ToolResultBody:  content.String(),
			})
		}

		out = append(out, Message{Role: role, Blocks: blocks})
		return true
	})
	return out, nil
}

// thinkOpenTag / thinkCloseTag bound the pseudo-tag OpenAI clients see
// wrapping recovered thinking text (spec.md 4.D table, DESIGN.md Open
// Question 3).
const (
	thinkOpenTag  = "<think>"
	thinkCloseTag = "</think>"
)

// blocksFromPlainText splits a `<think>...</think>`-prefixed string (as
// emitted by this gateway to OpenAI clients) back into a Thinking block
// plus a trailing Text block. Text with no think tag becomes one Text
// block.
func blocksFromPlainText(s string) []Block {
	if len(s) < len(thinkOpenTag) || s[:len(thinkOpenTag)] != thinkOpenTag {
		return []Block{{Kind: BlockText, Text: s}}
	}
	rest := s[len(thinkOpenTag):]
	end := indexOf(rest, thinkCloseTag)
	if end < 0 {
		return []Block{{Kind: BlockText, Text: s}}
	}
	thinking := rest[:end]
	trailing := rest[end+len(thinkCloseTag):]

	blocks := []Block{{Kind: BlockThinking, Text: thinking}}
	if trailing != "" {
		blocks = append(blocks, Block{Kind: BlockText, Text: trailing})
	}
	return blocks
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
