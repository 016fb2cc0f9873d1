package signature

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRecoveryExactTextWins(t *testing.T) {
	s := NewStore(320, nil, nil)
	defer s.Close()
	r := NewRecovery(s)

	rec := newTestRecord("1", "Hmm, let me check...", "SIG_CACHED", time.Now())
	s.Put(rec, BuildKeys("Hmm, let me check...", nil, ""))

	got, layer := r.Resolve(Query{Text: "Hmm, let me check...", ClientKind: "cursor"})
	require.Equal(t, LayerExactText, layer)
	require.Equal(t, []byte("SIG_CACHED"), got.Signature)
}

func TestRecoveryFallsThroughToSession(t *testing.T) {
	s := NewStore(320, nil, nil)
	defer s.Close()
	r := NewRecovery(s)

	userMsgs := []string{"hi", "do the thing", "continue"}
	rec := newTestRecord("1", "unused-text", "SIG_SESSION", time.Now())
	keys := map[IndexKind]string{KindSession: SessionKeys(userMsgs)[0]}
	s.Put(rec, keys)

	got, layer := r.Resolve(Query{Text: "totally different text", UserMessages: userMsgs, ClientKind: "generic"})
	require.Equal(t, LayerSession, layer)
	require.Equal(t, []byte("SIG_SESSION"), got.Signature)
}

func TestRecoveryExhaustedDropsBlock(t *testing.T) {
	s := NewStore(320, nil, nil)
	defer s.Close()
	r := NewRecovery(s)

	got, layer := r.Resolve(Query{Text: "never seen anywhere", ClientKind: "generic"})
	require.Nil(t, got)
	require.Equal(t, LayerExhausted, layer)
}
