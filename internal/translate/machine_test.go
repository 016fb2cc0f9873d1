package translate

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/allaspectsdev/sigproxy/internal/wire"
)

func feedToolCallSequence(t *testing.T, m *Machine) {
	t.Helper()
	events := []Event{
		{Kind: EventBlockStart, StartKind: BlockKindThinking},
		{Kind: EventThinkingDelta, Text: "Plan"},
		{Kind: EventSignatureDelta, Signature: []byte("S")},
		{Kind: EventBlockStop},
		{Kind: EventBlockStart, StartKind: BlockKindToolUse, ToolName: "ls", ToolID: "call-1"},
		{Kind: EventToolInputDelta, PartialJS: `{"p"`},
		{Kind: EventToolInputDelta, PartialJS: `:"/"}`},
		{Kind: EventBlockStop},
		{Kind: EventMessageStop, StopReason: "tool_use"},
	}
	for _, ev := range events {
		require.NoError(t, m.Feed(ev))
	}
}

func TestOpenAIEmitterToolCallSequence(t *testing.T) {
	rec := httptest.NewRecorder()
	emitter := NewOpenAIEmitter(wire.NewSSEWriter(rec))
	m := NewMachine(emitter, nil, nil)

	feedToolCallSequence(t, m)

	body := rec.Body.String()
	assert.Contains(t, body, `"<think>"`)
	assert.Contains(t, body, `</think>`)
	assert.Contains(t, body, `"arguments":"{\"p\":\"/\"}"`)
	assert.Contains(t, body, "[DONE]")
}

func TestNDJSONEmitterToolCallSequence(t *testing.T) {
	rec := httptest.NewRecorder()
	emitter := NewNDJSONEmitter(wire.NewNDJSONWriter(rec))
	m := NewMachine(emitter, nil, nil)

	feedToolCallSequence(t, m)

	lines := splitLines(rec.Body.String())
	require.Len(t, lines, 3)

	assert.EqualValues(t, ndjsonNodeThinking, gjson.Get(lines[0], "type").Int())
	assert.Equal(t, "Plan", gjson.Get(lines[0], "data.thinking").String())
	assert.Equal(t, "S", gjson.Get(lines[0], "data.signature").String())

	assert.EqualValues(t, ndjsonNodeToolUse, gjson.Get(lines[1], "type").Int())
	assert.Equal(t, "ls", gjson.Get(lines[1], "data.tool_use.name").String())
	assert.Equal(t, "/", gjson.Get(lines[1], "data.tool_use.input.p").String())

	assert.EqualValues(t, ndjsonNodeStop, gjson.Get(lines[2], "type").Int())
	assert.Equal(t, "tool_use", gjson.Get(lines[2], "stop_reason").String())
}

func TestAnthropicEmitterSignatureDelta(t *testing.T) {
	rec := httptest.NewRecorder()
	emitter := NewAnthropicEmitter(wire.NewSSEWriter(rec))
	m := NewMachine(emitter, nil, nil)

	require.NoError(t, m.Feed(Event{Kind: EventBlockStart, StartKind: BlockKindThinking}))
	require.NoError(t, m.Feed(Event{Kind: EventThinkingDelta, Text: "hmm"}))
	require.NoError(t, m.Feed(Event{Kind: EventSignatureDelta, Signature: []byte("SIG1")}))
	require.NoError(t, m.Feed(Event{Kind: EventBlockStop}))

	body := rec.Body.String()
	assert.Contains(t, body, `"signature_delta"`)
	assert.Contains(t, body, `"SIG1"`)
}

func TestInvalidTransitionRejected(t *testing.T) {
	rec := httptest.NewRecorder()
	emitter := NewAnthropicEmitter(wire.NewSSEWriter(rec))
	m := NewMachine(emitter, nil, nil)

	err := m.Feed(Event{Kind: EventTextDelta, Text: "x"})
	require.Error(t, err)
	var invalid *ErrInvalidTransition
	assert.ErrorAs(t, err, &invalid)
}

func splitLines(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}
