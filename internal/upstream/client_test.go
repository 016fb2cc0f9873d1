package upstream

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allaspectsdev/sigproxy/internal/credential"
)

func TestForwardUsesCredentialBaseURLOverride(t *testing.T) {
	var gotAuth, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient()
	cred := &credential.Credential{ID: "c1", Kind: credential.KindAntigravity, AccessToken: "tok-1", BaseURL: srv.URL}

	resp, err := c.Forward(t.Context(), cred, "/v1/messages", []byte(`{}`), nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Bearer tok-1", gotAuth)
	assert.Equal(t, "/v1/messages", gotPath)
}
