package translate

// Emitter is implemented once per downstream wire format. The Machine
// calls exactly one method per event it accepts; an Emitter never sees
// invalid transitions since those are rejected before dispatch.
type Emitter interface {
	OnBlockStart(kind BlockKind, toolName, toolID string) error
	OnTextDelta(s string) error
	OnThinkingDelta(s string) error
	OnSignatureDelta(sig []byte) error
	OnToolInputDelta(partialJSON string) error
	OnBlockStop() error
	OnMessageStop(reason string) error
}
