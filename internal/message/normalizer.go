package message

import (
	"fmt"
	"strings"

	"github.com/allaspectsdev/sigproxy/internal/sigerr"
	"github.com/allaspectsdev/sigproxy/internal/signature"
)

// Normalizer implements spec.md 4.C: decode, detect client kind, recover
// missing thinking signatures, validate tool pairing.
type Normalizer struct {
	Recovery *signature.Recovery
}

// NewNormalizer builds a Normalizer backed by the given recovery engine.
func NewNormalizer(recovery *signature.Recovery) *Normalizer {
	return &Normalizer{Recovery: recovery}
}

// Decode dispatches to the per-wire decoder for format.
func Decode(format WireFormat, body []byte) ([]Message, error) {
	switch format {
	case WireAnthropic:
		return DecodeAnthropic(body)
	case WireOpenAI:
		return DecodeOpenAI(body)
	case WireNDJSON:
		return DecodeNDJSON(body)
	default:
		return nil, fmt.Errorf("message: unknown wire format %q", format)
	}
}

// DetectClientKind inspects headers for a hijack marker or a known
// user-agent substring (spec.md 4.C).
func DetectClientKind(headers map[string]string) ClientKind {
	if v, ok := headerLookup(headers, "X-Hijack"); ok {
		switch strings.ToLower(v) {
		case "cursor":
			return ClientCursor
		case "windsurf":
			return ClientWindsurf
		case "augment":
			return ClientAugment
		}
	}
	if ua, ok := headerLookup(headers, "User-Agent"); ok {
		lower := strings.ToLower(ua)
		switch {
		case strings.Contains(lower, "cursor"):
			return ClientCursor
		case strings.Contains(lower, "windsurf"):
			return ClientWindsurf
		case strings.Contains(lower, "augment"):
			return ClientAugment
		}
	}
	return ClientGeneric
}

func headerLookup(headers map[string]string, name string) (string, bool) {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

// CredentialKind distinguishes which upstream dialect placed the signature
// (supplemental feature: dialect-aware signature placement, SPEC_FULL.md).
type CredentialKind string

const (
	CredentialAntigravity CredentialKind = "antigravity"
	CredentialGeminiCLI   CredentialKind = "geminicli"
)

// Normalize applies recovery and tool-chain validation across a decoded
// request's message history, in place, returning the final message list
// or a *sigerr.Error of kind KindMalformedToolChain.
func (n *Normalizer) Normalize(msgs []Message, clientKind ClientKind, credKind CredentialKind) ([]Message, error) {
	userTexts := CollectUserTexts(msgs)

	lastAssistantIdx := -1
	for i := range msgs {
		if msgs[i].Role == RoleAssistant {
			lastAssistantIdx = i
		}
	}

	for mi := range msgs {
		if msgs[mi].Role != RoleAssistant {
			continue
		}
		blocks := msgs[mi].Blocks
		if mi == lastAssistantIdx {
			// Only the most recent assistant turn is eligible for the
			// trailing-thinking trim: a trailing thinking block there
			// precedes nothing and, so long as no tool continuation
			// depends on it, is dropped outright rather than run through
			// 4.B and then forwarded as unsignable plain text.
			if state := analyzeConversationState(msgs, mi); !state.needsRecovery() {
				blocks = trimTrailingUnsignedThinking(blocks)
			}
		}
		msgs[mi].Blocks = n.recoverThinkingBlocks(blocks, userTexts, clientKind, credKind)
	}

	repaired, err := validateToolChain(msgs)
	if err != nil {
		return nil, err
	}
	return repaired, nil
}

// CollectUserTexts returns the text content of every user message, oldest
// first, for callers (recovery, the dispatcher) that need request history
// without re-walking the message list themselves.
func CollectUserTexts(msgs []Message) []string {
	var texts []string
	for _, m := range msgs {
		if m.Role != RoleUser {
			continue
		}
		var b strings.Builder
		for _, blk := range m.Blocks {
			if blk.Kind == BlockText {
				b.WriteString(blk.Text)
			}
		}
		if b.Len() > 0 {
			texts = append(texts, b.String())
		}
	}
	return texts
}

// conversationState captures the supplemental conversation-shape signal
// (SPEC_FULL.md "Conversation-state-aware recovery necessity") used to
// decide whether a trailing unsigned thinking block actually needs
// recovery.
type conversationState struct {
	inToolLoop      bool
	interruptedTool bool
	turnHasThinking bool
}

// needsRecovery reports whether something in this conversation still
// depends on a trailing thinking block's signature surviving: a tool
// loop that continues past it, a tool call interrupted mid-way, or the
// turn already carrying another signed thinking block.
func (s conversationState) needsRecovery() bool {
	return s.inToolLoop || s.interruptedTool || s.turnHasThinking
}

// analyzeConversationState looks at the assistant message at index idx and
// whatever follows it to decide whether this turn is mid tool-use (and
// therefore needs a signed thinking block to continue), grounded on
// other_examples' antigravity-thinking.go ConversationState analysis.
func analyzeConversationState(msgs []Message, idx int) conversationState {
	var st conversationState
	hasToolUse := false
	for _, blk := range msgs[idx].Blocks {
		switch blk.Kind {
		case BlockThinking:
			if len(blk.Signature) > 0 {
				st.turnHasThinking = true
			}
		case BlockToolUse:
			hasToolUse = true
		}
	}

	toolResultCount := 0
	sawPlainUserAfter := false
	for i := idx + 1; i < len(msgs); i++ {
		if msgs[i].Role != RoleUser {
			continue
		}
		hasToolResult := false
		for _, blk := range msgs[i].Blocks {
			if blk.Kind == BlockToolResult {
				hasToolResult = true
				toolResultCount++
			}
		}
		if !hasToolResult {
			sawPlainUserAfter = true
		}
	}

	st.inToolLoop = hasToolUse && toolResultCount > 0
	st.interruptedTool = hasToolUse && toolResultCount == 0 && !sawPlainUserAfter
	return st
}

// recoverThinkingBlocks runs signature recovery for every unsigned
// thinking block remaining in blocks (the caller has already pre-trimmed
// trailing blocks a tool continuation doesn't need), checking the
// dialect-specific signature placement before falling back to the plain
// 4.B search.
func (n *Normalizer) recoverThinkingBlocks(blocks []Block, userTexts []string, clientKind ClientKind, credKind CredentialKind) []Block {
	var toolUseIDBefore string
	out := make([]Block, 0, len(blocks))
	for _, blk := range blocks {
		if blk.Kind == BlockToolUse {
			toolUseIDBefore = blk.ToolUseID
		}
		if blk.Kind != BlockThinking || len(blk.Signature) > 0 {
			out = append(out, blk)
			continue
		}
		if credKind == CredentialGeminiCLI {
			// Gemini places the signature on the adjacent ToolUse block
			// rather than the Thinking block itself; check there first.
			if sig, ok := signatureFromAdjacentToolUse(blocks, blk); ok {
				blk.Signature = sig
				out = append(out, blk)
				continue
			}
		}

		if n.Recovery != nil {
			rec, layer := n.Recovery.Resolve(signature.Query{
				Text:         blk.Text,
				UserMessages: userTexts,
				ToolUseID:    toolUseIDBefore,
				ClientKind:   string(clientKind),
			})
			if layer != signature.LayerExhausted && rec != nil {
				blk.Signature = rec.Signature
				out = append(out, blk)
				continue
			}
		}

		// SIGNATURE_UNRECOVERABLE: not an error (spec.md section 7).
		if clientKind.stripsSignatures() {
			continue // drop entirely
		}
		blk.Unsignable = true // keep as plain text for 4.D
		out = append(out, blk)
	}
	return out
}

// signatureFromAdjacentToolUse looks for a signature carried on a ToolUse
// block immediately following the given thinking block (Gemini dialect).
func signatureFromAdjacentToolUse(blocks []Block, thinking Block) ([]byte, bool) {
	foundThinking := false
	for _, blk := range blocks {
		if !foundThinking {
			if blk.Kind == BlockThinking && blk.Text == thinking.Text {
				foundThinking = true
			}
			continue
		}
		if blk.Kind == BlockToolUse && len(blk.Signature) > 0 {
			return blk.Signature, true
		}
		if blk.Kind != BlockToolUse {
			break
		}
	}
	return nil, false
}

// trimTrailingUnsignedThinking drops trailing unsigned thinking blocks
// from the end of an assistant turn (SPEC_FULL.md supplemental feature,
// grounded on other_examples' removeTrailingThinkingBlocks): once a
// non-thinking block or a signed thinking block is seen scanning
// backward, trimming stops.
func trimTrailingUnsignedThinking(blocks []Block) []Block {
	end := len(blocks)
	for end > 0 {
		b := blocks[end-1]
		if b.Kind == BlockThinking && len(b.Signature) == 0 && !b.Unsignable {
			end--
			continue
		}
		break
	}
	return blocks[:end]
}

// validateToolChain checks that every ToolResult has a matching earlier
// ToolUse in the same request, repairing or rejecting per spec.md 4.C. It
// returns the (possibly repaired) message slice; callers must use the
// returned slice, not their original one, since a repair inserts a message.
func validateToolChain(msgs []Message) ([]Message, error) {
	seen := map[string]bool{}
	for mi := range msgs {
		for _, blk := range msgs[mi].Blocks {
			if blk.Kind == BlockToolUse {
				seen[blk.ToolUseID] = true
			}
		}
	}

	for mi := range msgs {
		blocks := msgs[mi].Blocks
		for bi := range blocks {
			blk := blocks[bi]
			if blk.Kind != BlockToolResult {
				continue
			}
			if seen[blk.ToolResultForID] {
				continue
			}
			// Unmatched tool_result: repair only if it is the sole block in
			// this message, by synthesizing a minimal placeholder ToolUse
			// in its own preceding position; otherwise reject.
			if len(blocks) != 1 {
				return nil, sigerr.New(sigerr.KindMalformedToolChain,
					fmt.Sprintf("tool_result %q has no matching tool_use and is not repairable", blk.ToolResultForID))
			}
			placeholder := Message{Role: RoleAssistant, Blocks: []Block{{
				Kind: BlockToolUse, ToolUseID: blk.ToolResultForID, ToolName: "unknown", InputJSON: "{}",
			}}}
			msgs = append(msgs[:mi], append([]Message{placeholder}, msgs[mi:]...)...)
			seen[blk.ToolResultForID] = true
			return validateToolChain(msgs)
		}
	}
	return msgs, nil
}
