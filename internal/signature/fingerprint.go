package signature

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

// prefixSuffixChars is the window length used by the prefix/suffix
// fingerprints (spec.md 3.2: "first/last 256 chars").
const prefixSuffixChars = 256

// lastNLines is the number of trailing lines hashed for the last-N-lines
// fingerprint (spec.md 3.2: "last 5 lines").
const lastNLines = 5

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// PrimaryKey returns the SHA-256 fingerprint of the exact thinking text.
func PrimaryKey(text string) string {
	return sha256Hex(text)
}

// PrefixKey returns the SHA-256 fingerprint of the first 256 chars of text.
func PrefixKey(text string) string {
	r := []rune(text)
	if len(r) > prefixSuffixChars {
		r = r[:prefixSuffixChars]
	}
	return sha256Hex(string(r))
}

// SuffixKey returns the SHA-256 fingerprint of the last 256 chars of text.
func SuffixKey(text string) string {
	r := []rune(text)
	if len(r) > prefixSuffixChars {
		r = r[len(r)-prefixSuffixChars:]
	}
	return sha256Hex(string(r))
}

// LastNLinesKey returns the SHA-256 fingerprint of the last 5 lines of text.
func LastNLinesKey(text string) string {
	lines := strings.Split(text, "\n")
	if len(lines) > lastNLines {
		lines = lines[len(lines)-lastNLines:]
	}
	return sha256Hex(strings.Join(lines, "\n"))
}

// SessionKeys returns the multi-level session fingerprints (spec.md 3.2 and
// 4.B layer 5): SHA-256 of the concatenation of the last 3, last 2, and
// last 1 user message texts, most-specific (3) first.
func SessionKeys(userMessages []string) []string {
	n := len(userMessages)
	var keys []string
	for _, levels := range []int{3, 2, 1} {
		if n < levels {
			continue
		}
		tail := userMessages[n-levels:]
		keys = append(keys, sha256Hex(strings.Join(tail, "")))
	}
	return keys
}

// toolIDSuffix matches a trailing "_<digits>" or "-<digits>" suffix, e.g.
// "read_file_42" -> base "read_file".
var toolIDSuffix = regexp.MustCompile(`[_-]\d+$`)

// BaseToolID strips a trailing numeric suffix from a tool-use id, used for
// the "tool fuzzy" recovery layer (spec.md 4.B layer 6).
func BaseToolID(toolUseID string) string {
	return toolIDSuffix.ReplaceAllString(toolUseID, "")
}
