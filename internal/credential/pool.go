package credential

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/allaspectsdev/sigproxy/internal/sigerr"
	"github.com/allaspectsdev/sigproxy/internal/store"
)

// Outcome is the result of an upstream call made with an acquired
// credential (spec.md 4.E release()).
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeRateLimited
	OutcomeOtherError
)

// Persister is the narrow durable-tier dependency the pool needs, so
// cooldown state survives restart (spec.md invariant 7).
type Persister interface {
	PutCredential(row store.CredentialRow) error
}

// Status is a read-only snapshot of one credential for observability
// (spec.md 4.E snapshot()).
type Status struct {
	ID             string
	Kind           Kind
	Disabled       bool
	ModelCooldowns map[string]CooldownEntry
}

// Pool is the Credential Pool (spec.md 4.E): one mutex guards the whole
// map; a condition variable wakes acquire() waiters on release or
// cooldown expiry, driven by a single background timer goroutine that
// never polls (spec.md section 9).
type Pool struct {
	mu   sync.Mutex
	cond *sync.Cond

	creds           map[string]*Credential
	maxBackoffLevel int
	persist         Persister

	recompute chan struct{}
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// NewPool builds a Pool from an initial credential set and starts its
// background cooldown-wake goroutine.
func NewPool(creds []*Credential, maxBackoffLevel int, persist Persister) *Pool {
	p := &Pool{
		creds:           make(map[string]*Credential, len(creds)),
		maxBackoffLevel: maxBackoffLevel,
		persist:         persist,
		recompute:       make(chan struct{}, 1),
		stopCh:          make(chan struct{}),
		doneCh:          make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)
	for _, c := range creds {
		p.creds[c.ID] = c
	}
	go p.wakeLoop()
	return p
}

// Close stops the background wake goroutine.
func (p *Pool) Close() {
	close(p.stopCh)
	<-p.doneCh
}

// SetMaxBackoffLevel updates the backoff cap applied to future
// on_rate_limited transitions, letting a config hot-reload take effect
// without restarting the pool or any already-acquired credential.
func (p *Pool) SetMaxBackoffLevel(n int) {
	p.mu.Lock()
	p.maxBackoffLevel = n
	p.mu.Unlock()
}

func (p *Pool) nudge() {
	select {
	case p.recompute <- struct{}{}:
	default:
	}
}

// wakeLoop sleeps until the earliest upcoming cooldown_until among
// enabled credentials and broadcasts the condvar when it elapses, or
// whenever a state change asks it to recompute the deadline sooner.
func (p *Pool) wakeLoop() {
	defer close(p.doneCh)
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		deadline, ok := p.earliestCooldown()
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		if ok {
			d := time.Until(deadline)
			if d < 0 {
				d = 0
			}
			timer.Reset(d)
		} else {
			timer.Reset(time.Hour)
		}

		select {
		case <-p.stopCh:
			return
		case <-timer.C:
			p.cond.Broadcast()
		case <-p.recompute:
			// loop around and recompute the deadline
		}
	}
}

func (p *Pool) earliestCooldown() (time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	var earliest time.Time
	found := false
	for _, c := range p.creds {
		if c.Disabled {
			continue
		}
		for _, cd := range c.ModelCooldowns {
			if !cd.CooldownUntil.After(now) {
				continue
			}
			if !found || cd.CooldownUntil.Before(earliest) {
				earliest = cd.CooldownUntil
				found = true
			}
		}
	}
	return earliest, found
}

// Acquire implements the selection policy (spec.md 4.E):
//  1. filter to disabled==false AND cooldown_until(model) <= now
//  2. prefer oldest last_updated for this model
//  3. tie-break by lexicographic id
//  4. if none eligible, block until the earliest cooldown_until elapses
//     or ctx's deadline fires, whichever first.
func (p *Pool) Acquire(ctx context.Context, model string) (*Credential, error) {
	waitDone := make(chan struct{})
	defer close(waitDone)
	go func() {
		select {
		case <-ctx.Done():
			p.cond.Broadcast()
		case <-waitDone:
		}
	}()

	p.mu.Lock()
	defer p.mu.Unlock()

	for {
		if c := p.selectLocked(model); c != nil {
			return c.clone(), nil
		}
		if err := ctx.Err(); err != nil {
			return nil, sigerr.Wrap(sigerr.KindNoCredentialAvailable, "no credential available before deadline", err)
		}
		p.cond.Wait()
	}
}

func (p *Pool) selectLocked(model string) *Credential {
	now := time.Now()
	var best *Credential
	var bestUpdated time.Time
	for _, c := range sortedByID(p.creds) {
		if !c.eligibleFor(model, now) {
			continue
		}
		updated := c.cooldownFor(model).LastUpdated
		if best == nil || updated.Before(bestUpdated) {
			best = c
			bestUpdated = updated
		}
	}
	return best
}

func sortedByID(m map[string]*Credential) []*Credential {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]*Credential, len(ids))
	for i, id := range ids {
		out[i] = m[id]
	}
	return out
}

// Release records the outcome of a call made with an acquired credential
// and wakes any waiters (spec.md 4.E release()). model must match the one
// passed to Acquire.
func (p *Pool) Release(id, model string, outcome Outcome) {
	switch outcome {
	case OutcomeRateLimited:
		p.onRateLimited(id, model)
	case OutcomeSuccess:
		p.onSuccess(id, model)
	case OutcomeOtherError:
		// No backoff bump: a non-rate-limit failure (or cancellation) does
		// not penalize the credential (spec.md section 5 cancellation note).
	}
	p.nudge()
	p.cond.Broadcast()
}

func (p *Pool) onRateLimited(id, model string) {
	p.mu.Lock()
	c, ok := p.creds[id]
	if !ok {
		p.mu.Unlock()
		return
	}
	entry := c.cooldownFor(model)
	entry.BackoffLevel = clampBackoffLevel(entry.BackoffLevel+1, p.maxBackoffLevel)
	now := time.Now()
	entry.LastUpdated = now
	entry.CooldownUntil = now.Add(backoffWait(entry.BackoffLevel))
	c.setCooldown(model, entry)
	row := toRow(c)
	p.mu.Unlock()

	p.persistRow(row)
}

func (p *Pool) onSuccess(id, model string) {
	p.mu.Lock()
	c, ok := p.creds[id]
	if !ok {
		p.mu.Unlock()
		return
	}
	c.setCooldown(model, CooldownEntry{LastUpdated: time.Now()})
	row := toRow(c)
	p.mu.Unlock()

	p.persistRow(row)
}

func (p *Pool) persistRow(row store.CredentialRow) {
	if p.persist == nil {
		return
	}
	if err := p.persist.PutCredential(row); err != nil {
		log.Warn().Err(err).Str("component", "credential_pool").Str("credential_id", row.ID).Msg("durable write failed, dropping")
	}
}

// Snapshot returns a point-in-time view of every credential (spec.md 4.E
// snapshot()). Status carries no AccessToken field, so the bearer token
// never leaves the pool through this path.
func (p *Pool) Snapshot() []Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Status, 0, len(p.creds))
	for _, c := range sortedByID(p.creds) {
		cooldowns := make(map[string]CooldownEntry, len(c.ModelCooldowns))
		for k, v := range c.ModelCooldowns {
			cooldowns[k] = v
		}
		out = append(out, Status{ID: c.ID, Kind: c.Kind, Disabled: c.Disabled, ModelCooldowns: cooldowns})
	}
	return out
}

func toRow(c *Credential) store.CredentialRow {
	cooldowns := make(map[string]store.CooldownEntry, len(c.ModelCooldowns))
	for model, cd := range c.ModelCooldowns {
		cooldowns[model] = store.CooldownEntry{
			CooldownUntil: cd.CooldownUntil.Unix(),
			BackoffLevel:  uint32(cd.BackoffLevel),
			LastUpdated:   cd.LastUpdated.Unix(),
		}
	}
	return store.CredentialRow{ID: c.ID, Kind: string(c.Kind), Disabled: c.Disabled, ModelCooldowns: cooldowns}
}
