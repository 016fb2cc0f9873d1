// Package secret resolves small pieces of secret material (the admin
// endpoint's password, a credential's bearer token when stored out of
// line) from the OS keychain, falling back to environment variables and
// plain files. Adapted from the teacher's vault package for the
// gateway's narrower set of secrets.
package secret

import (
	"fmt"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
)

const serviceName = "sigproxy"

// knownSecrets is the list of names checked by List().
var knownSecrets = []string{"admin-password"}

// Store resolves secret references against the OS keychain.
type Store struct{}

// New creates a Store.
func New() *Store {
	return &Store{}
}

// Get retrieves the secret for name. It checks the OS keychain first,
// then falls back to the environment variable SIGPROXY_SECRET_{UPPER(name)}.
func (s *Store) Get(name string) (string, error) {
	if v, err := keyring.Get(serviceName, name); err == nil && v != "" {
		return v, nil
	}

	envKey := "SIGPROXY_SECRET_" + strings.ToUpper(name)
	if v := os.Getenv(envKey); v != "" {
		return v, nil
	}

	return "", fmt.Errorf("no secret found for %q: not in keychain and %s not set", name, envKey)
}

// Set stores a secret in the OS keychain.
func (s *Store) Set(name, value string) error {
	return keyring.Set(serviceName, name, value)
}

// Delete removes a secret from the OS keychain.
func (s *Store) Delete(name string) error {
	return keyring.Delete(serviceName, name)
}

// List returns the names of known secrets that currently have a value
// stored, checking both the keychain and the environment for each.
func (s *Store) List() []string {
	var names []string
	for _, name := range knownSecrets {
		if _, err := s.Get(name); err == nil {
			names = append(names, name)
		}
	}
	return names
}

// Resolve parses a reference and retrieves the corresponding secret.
// Supported formats: "keyring://sigproxy/<name>", "env:VARIABLE_NAME",
// "file:///path/to/secret", or a literal value (returned unchanged) when
// none of the prefixes match.
func (s *Store) Resolve(ref string) (string, error) {
	switch {
	case strings.HasPrefix(ref, "keyring://"):
		path := strings.TrimPrefix(ref, "keyring://")
		parts := strings.SplitN(path, "/", 2)
		if len(parts) != 2 || parts[0] != serviceName || parts[1] == "" {
			return "", fmt.Errorf("invalid secret reference %q (expected \"keyring://sigproxy/<name>\")", ref)
		}
		return s.Get(parts[1])

	case strings.HasPrefix(ref, "env:"):
		envVar := strings.TrimPrefix(ref, "env:")
		if v := os.Getenv(envVar); v != "" {
			return v, nil
		}
		return "", fmt.Errorf("environment variable %q is not set", envVar)

	case strings.HasPrefix(ref, "file://"):
		path := strings.TrimPrefix(ref, "file://")
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("reading secret file %q: %w", path, err)
		}
		v := strings.TrimSpace(string(data))
		if v == "" {
			return "", fmt.Errorf("secret file %q is empty", path)
		}
		return v, nil

	default:
		return ref, nil
	}
}
