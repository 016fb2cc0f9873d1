package signature

import (
	"time"

	"github.com/rs/zerolog/log"
)

// recoveryWindow is the last-resort time-window fallback duration
// (spec.md 4.B layer 7).
const recoveryWindow = 300 * time.Second

// Query bundles everything a recovery attempt needs about the thinking
// block and the surrounding request (spec.md 4.B).
type Query struct {
	Text         string
	UserMessages []string // last user message texts of the current request, oldest first
	ToolUseID    string   // id of the adjacent ToolUse block, if any
	ClientKind   string
}

// Layer names each recovery layer, for logging which one succeeded.
type Layer string

const (
	LayerExactText   Layer = "exact_text"
	LayerPrefix      Layer = "prefix"
	LayerSuffix      Layer = "suffix"
	LayerLastNLines  Layer = "last_n_lines"
	LayerSession     Layer = "session"
	LayerToolFuzzy   Layer = "tool_fuzzy"
	LayerTimeWindow  Layer = "time_window"
	LayerExhausted   Layer = "exhausted"
)

// Recovery implements the Signature Recovery Engine (spec.md 4.B): an
// ordered fallback search over a Store. It never errors; a miss is
// reported as (nil, LayerExhausted).
type Recovery struct {
	store *Store
}

// NewRecovery builds a Recovery engine over store.
func NewRecovery(store *Store) *Recovery {
	return &Recovery{store: store}
}

// Resolve runs the seven recovery layers in order and returns the first
// hit. The time-window fallback (layer 7) is applied uniformly regardless
// of client kind (DESIGN.md Open Question 2).
func (r *Recovery) Resolve(q Query) (*Record, Layer) {
	if rec, ok := r.store.GetBy(KindText, PrimaryKey(q.Text), q.ClientKind); ok {
		r.log(q, LayerExactText)
		return rec, LayerExactText
	}
	if rec, ok := r.store.GetBy(KindPrefix, PrefixKey(q.Text), q.ClientKind); ok {
		r.log(q, LayerPrefix)
		return rec, LayerPrefix
	}
	if rec, ok := r.store.GetBy(KindSuffix, SuffixKey(q.Text), q.ClientKind); ok {
		r.log(q, LayerSuffix)
		return rec, LayerSuffix
	}
	if rec, ok := r.store.GetBy(KindLastN, LastNLinesKey(q.Text), q.ClientKind); ok {
		r.log(q, LayerLastNLines)
		return rec, LayerLastNLines
	}
	for _, key := range SessionKeys(q.UserMessages) {
		if rec, ok := r.store.GetBy(KindSession, key, q.ClientKind); ok {
			r.log(q, LayerSession)
			return rec, LayerSession
		}
	}
	if q.ToolUseID != "" {
		if rec, ok := r.store.GetBy(KindTool, q.ToolUseID, q.ClientKind); ok {
			r.log(q, LayerToolFuzzy)
			return rec, LayerToolFuzzy
		}
		base := BaseToolID(q.ToolUseID)
		if candidates := r.store.RecordsByBaseToolID(base); len(candidates) > 0 {
			// RecordsByBaseToolID already orders newest-first.
			r.log(q, LayerToolFuzzy)
			return candidates[0], LayerToolFuzzy
		}
	}
	if rec, ok := r.store.RecentWithin(recoveryWindow); ok {
		r.log(q, LayerTimeWindow)
		return rec, LayerTimeWindow
	}

	r.log(q, LayerExhausted)
	return nil, LayerExhausted
}

func (r *Recovery) log(q Query, layer Layer) {
	fp := PrimaryKey(q.Text)
	if len(fp) > 12 {
		fp = fp[:12]
	}
	log.Debug().
		Str("component", "signature_recovery").
		Str("layer", string(layer)).
		Str("fingerprint_prefix", fp).
		Str("client_kind", q.ClientKind).
		Msg("thinking signature recovery attempt")
}
