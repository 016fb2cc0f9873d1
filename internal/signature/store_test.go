package signature

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestRecord(id, text, sig string, createdAt time.Time) *Record {
	return &Record{
		ID:         id,
		Signature:  []byte(sig),
		Text:       []byte(text),
		ClientKind: "generic",
		CreatedAt:  createdAt,
		LastAccess: createdAt,
	}
}

func TestPutThenGetByPrimaryKey(t *testing.T) {
	s := NewStore(320, nil, nil)
	defer s.Close()

	rec := newTestRecord("1", "let me think", "SIG1", time.Now())
	s.Put(rec, BuildKeys("let me think", nil, ""))

	got, ok := s.GetBy(KindText, PrimaryKey("let me think"), "generic")
	require.True(t, ok)
	require.Equal(t, []byte("SIG1"), got.Signature)
}

func TestGetByMissReturnsFalse(t *testing.T) {
	s := NewStore(320, nil, nil)
	defer s.Close()
	_, ok := s.GetBy(KindText, PrimaryKey("never seen"), "generic")
	require.False(t, ok)
}

type fixedTTL time.Duration

func (f fixedTTL) TTLFor(string) time.Duration { return time.Duration(f) }

func TestReadTimeTTLExpiry(t *testing.T) {
	s := NewStore(320, nil, fixedTTL(10*time.Millisecond))
	defer s.Close()

	rec := newTestRecord("1", "text", "SIG", time.Now().Add(-time.Hour))
	s.Put(rec, BuildKeys("text", nil, ""))

	_, ok := s.GetBy(KindText, PrimaryKey("text"), "generic")
	require.False(t, ok, "record older than TTL must read as a miss even before eviction")
}

func TestClonePreventsAliasing(t *testing.T) {
	s := NewStore(320, nil, nil)
	defer s.Close()

	rec := newTestRecord("1", "text", "SIG", time.Now())
	s.Put(rec, BuildKeys("text", nil, ""))

	got, _ := s.GetBy(KindText, PrimaryKey("text"), "generic")
	got.Signature[0] = 'X'

	got2, _ := s.GetBy(KindText, PrimaryKey("text"), "generic")
	require.Equal(t, byte('S'), got2.Signature[0])
}
