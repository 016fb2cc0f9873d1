// Package signature implements the Signature Store (spec.md 4.A) and the
// Signature Recovery Engine (spec.md 4.B): a two-tier cache mapping several
// fingerprints of a thinking block's text to the opaque signature upstream
// bound it to, plus the ordered fallback search used when a client's
// history has stripped a signature.
package signature

import "time"

// IndexKind names one of the six fingerprint dimensions a record may be
// reachable under (spec.md section 3.2).
type IndexKind string

const (
	KindText    IndexKind = "by_text"
	KindPrefix  IndexKind = "by_prefix"
	KindSuffix  IndexKind = "by_suffix"
	KindLastN   IndexKind = "by_last_n"
	KindSession IndexKind = "by_session"
	KindTool    IndexKind = "by_tool"
)

// Record is a signature row held in the hot tier and mirrored to the
// durable tier. Signature and Text are treated as opaque byte slices: per
// spec.md section 6 they must never be inspected, normalized, or modified.
type Record struct {
	ID         string
	Signature  []byte
	Text       []byte
	ClientKind string
	CreatedAt  time.Time
	LastAccess time.Time
}

// clone returns a defensive copy so callers mutating a returned Record
// cannot corrupt what another goroutine holds in the hot tier.
func (r *Record) clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.Signature = append([]byte(nil), r.Signature...)
	c.Text = append([]byte(nil), r.Text...)
	return &c
}
