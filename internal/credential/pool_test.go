package credential

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allaspectsdev/sigproxy/internal/store"
)

type fakePersister struct {
	rows map[string]store.CredentialRow
}

func newFakePersister() *fakePersister { return &fakePersister{rows: map[string]store.CredentialRow{}} }

func (f *fakePersister) PutCredential(row store.CredentialRow) error {
	f.rows[row.ID] = row
	return nil
}

func TestBackoffProgressionS4(t *testing.T) {
	c1 := &Credential{ID: "c1", Kind: KindAntigravity, ModelCooldowns: map[string]CooldownEntry{}}
	pool := NewPool([]*Credential{c1}, 5, nil)
	defer pool.Close()

	for i := 0; i < 3; i++ {
		pool.onRateLimited("c1", "M")
	}

	pool.mu.Lock()
	entry := pool.creds["c1"].cooldownFor("M")
	pool.mu.Unlock()

	assert.Equal(t, 3, entry.BackoffLevel)
	assert.WithinDuration(t, time.Now().Add(10*time.Minute), entry.CooldownUntil, 2*time.Second)

	pool.onSuccess("c1", "M")
	pool.mu.Lock()
	entry = pool.creds["c1"].cooldownFor("M")
	pool.mu.Unlock()
	assert.Equal(t, 0, entry.BackoffLevel)
}

func TestAcquireSelectsOldestLastUpdated(t *testing.T) {
	now := time.Now()
	c1 := &Credential{ID: "c1", ModelCooldowns: map[string]CooldownEntry{"M": {LastUpdated: now.Add(-time.Hour)}}}
	c2 := &Credential{ID: "c2", ModelCooldowns: map[string]CooldownEntry{"M": {LastUpdated: now}}}
	pool := NewPool([]*Credential{c1, c2}, 5, nil)
	defer pool.Close()

	got, err := pool.Acquire(context.Background(), "M")
	require.NoError(t, err)
	assert.Equal(t, "c1", got.ID)
}

func TestAcquireTieBreaksByLexicographicID(t *testing.T) {
	now := time.Now()
	cB := &Credential{ID: "b", ModelCooldowns: map[string]CooldownEntry{"M": {LastUpdated: now}}}
	cA := &Credential{ID: "a", ModelCooldowns: map[string]CooldownEntry{"M": {LastUpdated: now}}}
	pool := NewPool([]*Credential{cB, cA}, 5, nil)
	defer pool.Close()

	got, err := pool.Acquire(context.Background(), "M")
	require.NoError(t, err)
	assert.Equal(t, "a", got.ID)
}

func TestAcquireReturnsNoCredentialAvailableOnDeadline(t *testing.T) {
	c1 := &Credential{ID: "c1", ModelCooldowns: map[string]CooldownEntry{
		"M": {CooldownUntil: time.Now().Add(60 * time.Second)},
	}}
	pool := NewPool([]*Credential{c1}, 5, nil)
	defer pool.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := pool.Acquire(ctx, "M")
	require.Error(t, err)
}

func TestAcquireUnblocksOnRelease(t *testing.T) {
	c1 := &Credential{ID: "c1", ModelCooldowns: map[string]CooldownEntry{
		"M": {CooldownUntil: time.Now().Add(time.Hour)},
	}}
	pool := NewPool([]*Credential{c1}, 5, nil)
	defer pool.Close()

	done := make(chan error, 1)
	go func() {
		_, err := pool.Acquire(context.Background(), "M")
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	pool.Release("c1", "M", OutcomeSuccess)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("acquire did not unblock after release")
	}
}

func TestPersistsOnEveryTransition(t *testing.T) {
	c1 := &Credential{ID: "c1", Kind: KindGeminiCLI, ModelCooldowns: map[string]CooldownEntry{}}
	persist := newFakePersister()
	pool := NewPool([]*Credential{c1}, 5, persist)
	defer pool.Close()

	pool.onRateLimited("c1", "M")
	row, ok := persist.rows["c1"]
	require.True(t, ok)
	assert.Equal(t, uint32(1), row.ModelCooldowns["M"].BackoffLevel)
}

func TestRestartDurabilityInvariant7(t *testing.T) {
	persist := newFakePersister()
	c1 := &Credential{ID: "c1", ModelCooldowns: map[string]CooldownEntry{}}
	pool := NewPool([]*Credential{c1}, 5, persist)
	pool.onRateLimited("c1", "M")
	pool.Close()

	row := persist.rows["c1"]
	restored := &Credential{ID: row.ID, ModelCooldowns: map[string]CooldownEntry{}}
	for model, cd := range row.ModelCooldowns {
		restored.ModelCooldowns[model] = CooldownEntry{
			CooldownUntil: time.Unix(cd.CooldownUntil, 0),
			BackoffLevel:  int(cd.BackoffLevel),
			LastUpdated:   time.Unix(cd.LastUpdated, 0),
		}
	}

	pool2 := NewPool([]*Credential{restored}, 5, nil)
	defer pool2.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := pool2.Acquire(ctx, "M")
	require.Error(t, err, "restored cooldown must still be enforced after restart")
}
