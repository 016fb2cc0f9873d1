package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "sigproxy.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenRunsMigrations(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Ping())

	var version int
	require.NoError(t, s.Writer().QueryRow("SELECT MAX(version) FROM migrations").Scan(&version))
	require.Equal(t, 1, version)
}

func TestPutAndGetSignatureByIndex(t *testing.T) {
	s := openTestStore(t)

	row := SignatureRow{
		ID:         "sig-1",
		Signature:  []byte("SIG1"),
		Text:       []byte("let me think"),
		ClientKind: "generic",
		CreatedAt:  1000,
		LastAccess: 1000,
		IndexKeys: map[string]string{
			"by_text": "hash-of-let-me-think",
		},
	}
	require.NoError(t, s.PutSignature(row))

	got, err := s.GetSignatureByIndex("by_text", "hash-of-let-me-think")
	require.NoError(t, err)
	require.Equal(t, []byte("SIG1"), got.Signature)

	_, err = s.GetSignatureByIndex("by_text", "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestPutSignatureOverwritesLastAccess(t *testing.T) {
	s := openTestStore(t)
	row := SignatureRow{
		ID: "sig-1", Signature: []byte("SIG"), Text: []byte("t"),
		ClientKind: "generic", CreatedAt: 100, LastAccess: 100,
		IndexKeys: map[string]string{"by_text": "k"},
	}
	require.NoError(t, s.PutSignature(row))
	row.LastAccess = 200
	require.NoError(t, s.PutSignature(row))

	got, err := s.GetSignatureByIndex("by_text", "k")
	require.NoError(t, err)
	require.Equal(t, int64(200), got.LastAccess)
}

func TestSignaturesByBaseToolIDNewestFirst(t *testing.T) {
	s := openTestStore(t)
	older := SignatureRow{
		ID: "a", Signature: []byte("A"), Text: []byte("a"), ClientKind: "generic",
		CreatedAt: 100, LastAccess: 100,
		IndexKeys: map[string]string{"by_tool": "read_file_42"},
	}
	newer := SignatureRow{
		ID: "b", Signature: []byte("B"), Text: []byte("b"), ClientKind: "generic",
		CreatedAt: 200, LastAccess: 200,
		IndexKeys: map[string]string{"by_tool": "read_file_99"},
	}
	require.NoError(t, s.PutSignature(older))
	require.NoError(t, s.PutSignature(newer))

	rows, err := s.SignaturesByBaseToolID("read_file")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "b", rows[0].ID)
}

func TestCredentialRoundTrip(t *testing.T) {
	s := openTestStore(t)
	row := CredentialRow{
		ID: "cred-1", Kind: "antigravity", Disabled: false,
		ModelCooldowns: map[string]CooldownEntry{
			"gemini-pro": {CooldownUntil: 500, BackoffLevel: 2, LastUpdated: 100},
		},
	}
	require.NoError(t, s.PutCredential(row))

	got, err := s.GetCredential("cred-1")
	require.NoError(t, err)
	require.Equal(t, "antigravity", got.Kind)
	require.Equal(t, uint32(2), got.ModelCooldowns["gemini-pro"].BackoffLevel)

	all, err := s.LoadCredentials()
	require.NoError(t, err)
	require.Len(t, all, 1)
}
