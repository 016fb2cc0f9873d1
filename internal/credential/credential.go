// Package credential implements the Credential Pool (spec.md 4.E):
// per-credential, per-model rate-limit cooldown state with exponential
// backoff, and the acquire/release selection policy the Request
// Dispatcher drives.
package credential

import "time"

// Kind identifies which upstream dialect a credential authenticates
// against (spec.md 3.4).
type Kind string

const (
	KindAntigravity Kind = "antigravity"
	KindGeminiCLI   Kind = "geminicli"
)

// CooldownEntry tracks backoff state for one (credential, model) pair
// (spec.md 3.4). Invariant: CooldownUntil >= LastUpdated; BackoffLevel
// never decreases during a failure streak.
type CooldownEntry struct {
	CooldownUntil time.Time
	BackoffLevel  int
	LastUpdated   time.Time
}

func (c CooldownEntry) eligible(now time.Time) bool {
	return now.After(c.CooldownUntil) || now.Equal(c.CooldownUntil)
}

// Credential is one OAuth-backed upstream identity (spec.md 3.4).
type Credential struct {
	ID             string
	Kind           Kind
	Disabled       bool
	ModelCooldowns map[string]CooldownEntry
	AccessToken    string // OAuth bearer token; never logged or included in Snapshot
	BaseURL        string // optional explicit override; empty unless the credential file sets one
}

func (c *Credential) cooldownFor(model string) CooldownEntry {
	if c.ModelCooldowns == nil {
		return CooldownEntry{}
	}
	return c.ModelCooldowns[model]
}

func (c *Credential) setCooldown(model string, entry CooldownEntry) {
	if c.ModelCooldowns == nil {
		c.ModelCooldowns = make(map[string]CooldownEntry)
	}
	c.ModelCooldowns[model] = entry
}

func (c *Credential) eligibleFor(model string, now time.Time) bool {
	if c.Disabled {
		return false
	}
	return c.cooldownFor(model).eligible(now)
}

func (c *Credential) clone() *Credential {
	cp := *c
	cp.ModelCooldowns = make(map[string]CooldownEntry, len(c.ModelCooldowns))
	for k, v := range c.ModelCooldowns {
		cp.ModelCooldowns[k] = v
	}
	return &cp
}
