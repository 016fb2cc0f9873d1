package testutil

import (
	"encoding/json"
	"fmt"

	"github.com/allaspectsdev/sigproxy/internal/message"
)

// SampleAnthropicRequest returns a valid Anthropic Messages API request body.
func SampleAnthropicRequest() []byte {
	req := map[string]interface{}{
		"model":      "claude-sonnet-4-20250514",
		"max_tokens": 1024,
		"messages": []map[string]interface{}{
			{"role": "user", "content": "Hello, how are you?"},
		},
		"stream": false,
	}
	data, _ := json.Marshal(req)
	return data
}

// SampleAnthropicStreamRequest returns an Anthropic request with streaming enabled.
func SampleAnthropicStreamRequest() []byte {
	req := map[string]interface{}{
		"model":      "claude-sonnet-4-20250514",
		"max_tokens": 1024,
		"messages": []map[string]interface{}{
			{"role": "user", "content": "Hello"},
		},
		"stream": true,
	}
	data, _ := json.Marshal(req)
	return data
}

// SampleOpenAIRequest returns a valid OpenAI Chat Completions API request body.
func SampleOpenAIRequest() []byte {
	req := map[string]interface{}{
		"model": "gpt-4o",
		"messages": []map[string]interface{}{
			{"role": "system", "content": "You are a helpful assistant."},
			{"role": "user", "content": "Hello, how are you?"},
		},
		"stream": false,
	}
	data, _ := json.Marshal(req)
	return data
}

// SampleAnthropicSSE returns a minimal but complete Anthropic event stream:
// one text content block, a message_delta carrying stop_reason, and
// message_stop — the shape internal/wire.SSEReader and internal/translate
// expect from a well-behaved upstream.
func SampleAnthropicSSE(text string) string {
	return fmt.Sprintf(
		"event: content_block_start\n"+
			"data: {\"type\":\"content_block_start\",\"index\":0,\"content_block\":{\"type\":\"text\"}}\n\n"+
			"event: content_block_delta\n"+
			"data: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"text_delta\",\"text\":%q}}\n\n"+
			"event: content_block_stop\n"+
			"data: {\"type\":\"content_block_stop\",\"index\":0}\n\n"+
			"event: message_delta\n"+
			"data: {\"type\":\"message_delta\",\"delta\":{\"stop_reason\":\"end_turn\"}}\n\n"+
			"event: message_stop\n"+
			"data: {\"type\":\"message_stop\"}\n\n",
		text,
	)
}

// SampleThinkingSSE returns an Anthropic event stream whose assistant turn
// opens with a thinking block carrying signature, the shape the Message
// Normalizer's recovery path is exercised against.
func SampleThinkingSSE(thinkingText, signature, answerText string) string {
	return fmt.Sprintf(
		"event: content_block_start\n"+
			"data: {\"type\":\"content_block_start\",\"index\":0,\"content_block\":{\"type\":\"thinking\"}}\n\n"+
			"event: content_block_delta\n"+
			"data: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"thinking_delta\",\"thinking\":%q}}\n\n"+
			"event: content_block_delta\n"+
			"data: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"signature_delta\",\"signature\":%q}}\n\n"+
			"event: content_block_stop\n"+
			"data: {\"type\":\"content_block_stop\",\"index\":0}\n\n"+
			"event: content_block_start\n"+
			"data: {\"type\":\"content_block_start\",\"index\":1,\"content_block\":{\"type\":\"text\"}}\n\n"+
			"event: content_block_delta\n"+
			"data: {\"type\":\"content_block_delta\",\"index\":1,\"delta\":{\"type\":\"text_delta\",\"text\":%q}}\n\n"+
			"event: content_block_stop\n"+
			"data: {\"type\":\"content_block_stop\",\"index\":1}\n\n"+
			"event: message_delta\n"+
			"data: {\"type\":\"message_delta\",\"delta\":{\"stop_reason\":\"end_turn\"}}\n\n"+
			"event: message_stop\n"+
			"data: {\"type\":\"message_stop\"}\n\n",
		thinkingText, signature, answerText,
	)
}

// TextMessage builds a canonical single-block text message.
func TextMessage(role message.Role, text string) message.Message {
	return message.Message{
		Role:   role,
		Blocks: []message.Block{{Kind: message.BlockText, Text: text}},
	}
}

// ThinkingMessage builds a canonical assistant message carrying one
// thinking block (optionally signed) followed by one text block.
func ThinkingMessage(thinkingText string, signature []byte, answerText string) message.Message {
	return message.Message{
		Role: message.RoleAssistant,
		Blocks: []message.Block{
			{Kind: message.BlockThinking, Text: thinkingText, Signature: signature},
			{Kind: message.BlockText, Text: answerText},
		},
	}
}

// ToolUseMessage builds a canonical assistant message carrying a single
// tool_use block.
func ToolUseMessage(toolUseID, toolName, inputJSON string) message.Message {
	return message.Message{
		Role: message.RoleAssistant,
		Blocks: []message.Block{
			{Kind: message.BlockToolUse, ToolUseID: toolUseID, ToolName: toolName, InputJSON: inputJSON},
		},
	}
}

// ToolResultMessage builds a canonical user message carrying a single
// tool_result block answering toolUseID.
func ToolResultMessage(toolUseID, body string) message.Message {
	return message.Message{
		Role: message.RoleUser,
		Blocks: []message.Block{
			{Kind: message.BlockToolResult, ToolResultForID: toolUseID, ToolResultBody: body},
		},
	}
}

// SampleConversation builds an n-turn user/assistant text conversation.
func SampleConversation(n int) []message.Message {
	msgs := make([]message.Message, 0, n*2)
	for i := 0; i < n; i++ {
		msgs = append(msgs, TextMessage(message.RoleUser, fmt.Sprintf("user message %d", i+1)))
		msgs = append(msgs, TextMessage(message.RoleAssistant, fmt.Sprintf("assistant response %d", i+1)))
	}
	return msgs
}
