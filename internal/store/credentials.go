package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// CredentialRow is the durable-tier representation of a credential's
// cooldown state (spec.md section 6 persistence schema).
type CredentialRow struct {
	ID             string
	Kind           string
	Disabled       bool
	ModelCooldowns map[string]CooldownEntry
}

// CooldownEntry mirrors spec.md section 3.4 for JSON persistence.
type CooldownEntry struct {
	CooldownUntil int64  `json:"cooldown_until"`
	BackoffLevel  uint32 `json:"backoff_level"`
	LastUpdated   int64  `json:"last_updated"`
}

// PutCredential persists a credential's current disabled flag and cooldown
// map. The credential pool calls it synchronously on every state
// transition and logs and drops a failed write.
func (s *Store) PutCredential(row CredentialRow) error {
	blob, err := json.Marshal(row.ModelCooldowns)
	if err != nil {
		return fmt.Errorf("store: marshal cooldowns: %w", err)
	}
	disabled := 0
	if row.Disabled {
		disabled = 1
	}
	_, err = s.writer.Exec(`
		INSERT INTO credentials (id, kind, disabled, model_cooldowns)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind=excluded.kind, disabled=excluded.disabled, model_cooldowns=excluded.model_cooldowns
	`, row.ID, row.Kind, disabled, string(blob))
	if err != nil {
		return fmt.Errorf("store: upsert credential: %w", err)
	}
	return nil
}

// LoadCredentials returns every persisted credential row, used to restore
// cooldown state across a restart (invariant 7).
func (s *Store) LoadCredentials() ([]CredentialRow, error) {
	rows, err := s.reader.Query(`SELECT id, kind, disabled, model_cooldowns FROM credentials`)
	if err != nil {
		return nil, fmt.Errorf("store: load credentials: %w", err)
	}
	defer rows.Close()

	var out []CredentialRow
	for rows.Next() {
		var r CredentialRow
		var disabled int
		var blob string
		if err := rows.Scan(&r.ID, &r.Kind, &disabled, &blob); err != nil {
			return nil, fmt.Errorf("store: scan credential: %w", err)
		}
		r.Disabled = disabled != 0
		r.ModelCooldowns = map[string]CooldownEntry{}
		if blob != "" {
			if err := json.Unmarshal([]byte(blob), &r.ModelCooldowns); err != nil {
				return nil, fmt.Errorf("store: unmarshal cooldowns for %s: %w", r.ID, err)
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetCredential loads a single persisted credential row.
func (s *Store) GetCredential(id string) (*CredentialRow, error) {
	var r CredentialRow
	var disabled int
	var blob string
	err := s.reader.QueryRow(`SELECT id, kind, disabled, model_cooldowns FROM credentials WHERE id = ?`, id).
		Scan(&r.ID, &r.Kind, &disabled, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get credential: %w", err)
	}
	r.Disabled = disabled != 0
	r.ModelCooldowns = map[string]CooldownEntry{}
	if blob != "" {
		if err := json.Unmarshal([]byte(blob), &r.ModelCooldowns); err != nil {
			return nil, fmt.Errorf("store: unmarshal cooldowns for %s: %w", r.ID, err)
		}
	}
	return &r, nil
}
