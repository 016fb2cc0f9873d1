package credential

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"
)

// defaultBaseURLs is the base-URL fallback chain per credential kind
// (SPEC_FULL.md domain stack: credential base-URL fallback chain). The
// upstream client tries these in order until one accepts the request.
var defaultBaseURLs = map[Kind][]string{
	KindAntigravity: {
		"https://daedalus-prod.googleapis.com",
		"https://daedalus-autopush.sandbox.googleapis.com",
	},
	KindGeminiCLI: {
		"https://cloudcode-pa.googleapis.com",
	},
}

// BaseURLsFor returns the fallback chain for kind, or nil if unknown.
func BaseURLsFor(kind Kind) []string {
	return defaultBaseURLs[kind]
}

// upstreamPaths holds the request path appended to a base URL, which
// differs by dialect even though both are treated as Anthropic-native
// event streams once received (spec.md 6 "Upstream contract").
var upstreamPaths = map[Kind]string{
	KindAntigravity: "/v1/messages",
	KindGeminiCLI:   "/v1internal:streamGenerateContent",
}

// PathFor returns the upstream request path for kind.
func PathFor(kind Kind) string {
	if p, ok := upstreamPaths[kind]; ok {
		return p
	}
	return "/v1/messages"
}

// LoadFromDir reads one OAuth credential per *.json file in dir (the
// `file://`-scheme resolution the teacher's vault package uses for
// plain-file secrets, generalized here to a whole directory of
// credentials rather than a single key). Each file is expected to carry
// at least an "id" (defaults to the filename stem) and a "kind" field;
// cooldown state is not stored in these files — it lives only in the
// durable tier and is restored separately via Persister.
func LoadFromDir(dir string) ([]*Credential, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("credential: reading %s: %w", dir, err)
	}

	var creds []*Credential
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("credential: reading %s: %w", path, err)
		}
		if !gjson.ValidBytes(data) {
			return nil, fmt.Errorf("credential: %s is not valid JSON", path)
		}
		root := gjson.ParseBytes(data)

		id := root.Get("id").String()
		if id == "" {
			id = strings.TrimSuffix(entry.Name(), ".json")
		}
		kind := Kind(root.Get("kind").String())
		if kind == "" {
			kind = KindAntigravity
		}

		c := &Credential{
			ID:             id,
			Kind:           kind,
			Disabled:       root.Get("disabled").Bool(),
			AccessToken:    root.Get("access_token").String(),
			BaseURL:        root.Get("base_url").String(), // optional override of the kind default chain
			ModelCooldowns: map[string]CooldownEntry{},
		}
		creds = append(creds, c)
	}
	return creds, nil
}
