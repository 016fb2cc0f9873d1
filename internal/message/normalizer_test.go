package message

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allaspectsdev/sigproxy/internal/signature"
)

type fixedTTL struct{ d time.Duration }

func (f fixedTTL) TTLFor(string) time.Duration { return f.d }

func newTestNormalizer(t *testing.T) (*Normalizer, *signature.Store) {
	t.Helper()
	store := signature.NewStore(64, nil, fixedTTL{d: time.Hour})
	t.Cleanup(store.Close)
	return NewNormalizer(signature.NewRecovery(store)), store
}

func TestDetectClientKindFromHijackHeader(t *testing.T) {
	got := DetectClientKind(map[string]string{"X-Hijack": "cursor"})
	assert.Equal(t, ClientCursor, got)
}

func TestDetectClientKindFromUserAgent(t *testing.T) {
	got := DetectClientKind(map[string]string{"User-Agent": "Windsurf/1.2.3"})
	assert.Equal(t, ClientWindsurf, got)
}

func TestDetectClientKindDefaultsGeneric(t *testing.T) {
	got := DetectClientKind(map[string]string{"User-Agent": "curl/8.0"})
	assert.Equal(t, ClientGeneric, got)
}

func TestNormalizeRecoversUnsignedThinkingFromExactText(t *testing.T) {
	n, store := newTestNormalizer(t)

	rec := &signature.Record{ID: signature.NewRecordID(), Signature: []byte("sig-xyz"), Text: []byte("scratch work"), CreatedAt: time.Now()}
	store.Put(rec, signature.BuildKeys("scratch work", nil, ""))

	msgs := []Message{
		{Role: RoleUser, Blocks: []Block{{Kind: BlockText, Text: "hello"}}},
		{Role: RoleAssistant, Blocks: []Block{
			{Kind: BlockThinking, Text: "scratch work"},
			{Kind: BlockText, Text: "answer"},
		}},
	}

	out, err := n.Normalize(msgs, ClientGeneric, CredentialAntigravity)
	require.NoError(t, err)
	require.Len(t, out[1].Blocks, 2)
	assert.Equal(t, []byte("sig-xyz"), out[1].Blocks[0].Signature)
}

func TestNormalizeDropsUnrecoverableForStrippingClient(t *testing.T) {
	n, _ := newTestNormalizer(t)

	msgs := []Message{
		{Role: RoleAssistant, Blocks: []Block{
			{Kind: BlockThinking, Text: "never seen before"},
			{Kind: BlockText, Text: "answer"},
		}},
	}

	out, err := n.Normalize(msgs, ClientCursor, CredentialAntigravity)
	require.NoError(t, err)
	require.Len(t, out[0].Blocks, 1)
	assert.Equal(t, BlockText, out[0].Blocks[0].Kind)
}

func TestNormalizeMarksUnrecoverableUnsignableForNonStrippingClient(t *testing.T) {
	n, _ := newTestNormalizer(t)

	msgs := []Message{
		{Role: RoleAssistant, Blocks: []Block{
			{Kind: BlockToolUse, ToolUseID: "call-1"},
			{Kind: BlockThinking, Text: "never seen before"},
		}},
		{Role: RoleUser, Blocks: []Block{{Kind: BlockToolResult, ToolResultForID: "call-1"}}},
	}

	out, err := n.Normalize(msgs, ClientGeneric, CredentialAntigravity)
	require.NoError(t, err)
	require.Len(t, out[0].Blocks, 2)
	assert.True(t, out[0].Blocks[1].Unsignable)
}

// TestNormalizeTrimsTrailingUnrecoverableInFinalTurnRegardlessOfClient covers
// the narrower case: a trailing, unrecoverable thinking block in the most
// recent assistant turn with no tool continuation is dropped outright, not
// marked unsignable, even for a client that otherwise keeps unsignable
// blocks as plain text.
func TestNormalizeTrimsTrailingUnrecoverableInFinalTurnRegardlessOfClient(t *testing.T) {
	n, _ := newTestNormalizer(t)

	msgs := []Message{
		{Role: RoleAssistant, Blocks: []Block{
			{Kind: BlockThinking, Text: "never seen before"},
		}},
	}

	out, err := n.Normalize(msgs, ClientGeneric, CredentialAntigravity)
	require.NoError(t, err)
	assert.Empty(t, out[0].Blocks)
}

func TestTrimTrailingUnsignedThinking(t *testing.T) {
	blocks := []Block{
		{Kind: BlockText, Text: "a"},
		{Kind: BlockThinking, Text: "trailing", Unsignable: false},
	}
	trimmed := trimTrailingUnsignedThinking(blocks)
	assert.Len(t, trimmed, 1)
}

func TestValidateToolChainRejectsUnrepairableMismatch(t *testing.T) {
	msgs := []Message{
		{Role: RoleAssistant, Blocks: []Block{{Kind: BlockText, Text: "hi"}, {Kind: BlockToolResult, ToolResultForID: "missing"}}},
	}
	_, err := validateToolChain(msgs)
	require.Error(t, err)
}

func TestValidateToolChainRepairsSoleToolResult(t *testing.T) {
	msgs := []Message{
		{Role: RoleUser, Blocks: []Block{{Kind: BlockToolResult, ToolResultForID: "call-1"}}},
	}
	repaired, err := validateToolChain(msgs)
	require.NoError(t, err)
	require.Len(t, repaired, 2)
	assert.Equal(t, RoleAssistant, repaired[0].Role)
	require.Len(t, repaired[0].Blocks, 1)
	assert.Equal(t, BlockToolUse, repaired[0].Blocks[0].Kind)
	assert.Equal(t, "call-1", repaired[0].Blocks[0].ToolUseID)
	assert.Equal(t, RoleUser, repaired[1].Role)
	assert.Equal(t, BlockToolResult, repaired[1].Blocks[0].Kind)
}

func TestValidateToolChainAcceptsMatchedPair(t *testing.T) {
	msgs := []Message{
		{Role: RoleAssistant, Blocks: []Block{{Kind: BlockToolUse, ToolUseID: "call-1"}}},
		{Role: RoleUser, Blocks: []Block{{Kind: BlockToolResult, ToolResultForID: "call-1"}}},
	}
	repaired, err := validateToolChain(msgs)
	require.NoError(t, err)
	assert.Len(t, repaired, 2)
}
