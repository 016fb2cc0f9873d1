package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SignatureRow is the durable-tier representation of a signature record
// (spec.md section 3.2). IndexKeys maps index table name -> key value for
// every fingerprint kind this record should be reachable under.
type SignatureRow struct {
	ID         string
	Signature  []byte
	Text       []byte
	ClientKind string
	CreatedAt  int64
	LastAccess int64
	IndexKeys  map[string]string
}

// ErrNotFound is returned by durable-tier lookups that find nothing.
var ErrNotFound = errors.New("store: not found")

// PutSignature inserts or updates a signature row and (re)points every
// index key in row.IndexKeys at it. It runs in a single transaction so a
// reader never observes a partially-indexed record (invariant 6).
func (s *Store) PutSignature(row SignatureRow) error {
	tx, err := s.writer.Begin()
	if err != nil {
		return fmt.Errorf("store: begin put signature: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.Exec(`
		INSERT INTO signatures (id, signature, text, client_kind, created_at, last_access)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			signature=excluded.signature,
			text=excluded.text,
			client_kind=excluded.client_kind,
			last_access=excluded.last_access
	`, row.ID, row.Signature, row.Text, row.ClientKind, row.CreatedAt, row.LastAccess)
	if err != nil {
		return fmt.Errorf("store: upsert signature: %w", err)
	}

	for table, key := range row.IndexKeys {
		if !isIndexTable(table) {
			return fmt.Errorf("store: unknown index table %q", table)
		}
		q := fmt.Sprintf(`INSERT INTO %s (key, sig_id) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET sig_id=excluded.sig_id`, table)
		if _, err := tx.Exec(q, key, row.ID); err != nil {
			return fmt.Errorf("store: index %s: %w", table, err)
		}
	}

	return tx.Commit()
}

func isIndexTable(name string) bool {
	for _, n := range indexTableNames {
		if n == name {
			return true
		}
	}
	return false
}

// GetSignatureByIndex looks up a signature row through one of the six
// index tables. Returns ErrNotFound on miss.
func (s *Store) GetSignatureByIndex(table, key string) (*SignatureRow, error) {
	if !isIndexTable(table) {
		return nil, fmt.Errorf("store: unknown index table %q", table)
	}
	q := fmt.Sprintf(`
		SELECT s.id, s.signature, s.text, s.client_kind, s.created_at, s.last_access
		FROM %s idx JOIN signatures s ON s.id = idx.sig_id
		WHERE idx.key = ?`, table)
	row := s.reader.QueryRow(q, key)
	return scanSignatureRow(row)
}

// RecentSignature returns the most recently created signature row within
// the last windowSeconds, or ErrNotFound. Used only as the last-resort
// recovery layer (spec.md 4.B layer 7).
func (s *Store) RecentSignature(windowSeconds int64) (*SignatureRow, error) {
	cutoff := time.Now().Unix() - windowSeconds
	row := s.reader.QueryRow(`
		SELECT id, signature, text, client_kind, created_at, last_access
		FROM signatures WHERE created_at >= ?
		ORDER BY created_at DESC LIMIT 1`, cutoff)
	return scanSignatureRow(row)
}

// SignaturesByBaseToolID returns every signature row whose by_tool index
// key begins with prefix, newest-created first (for the base_tool_id
// fuzzy-match tie-break in spec.md 4.B layer 6).
func (s *Store) SignaturesByBaseToolID(prefix string) ([]SignatureRow, error) {
	rows, err := s.reader.Query(`
		SELECT s.id, s.signature, s.text, s.client_kind, s.created_at, s.last_access
		FROM by_tool idx JOIN signatures s ON s.id = idx.sig_id
		WHERE idx.key LIKE ? || '%'
		ORDER BY s.created_at DESC`, prefix)
	if err != nil {
		return nil, fmt.Errorf("store: scan base_tool_id: %w", err)
	}
	defer rows.Close()

	var out []SignatureRow
	for rows.Next() {
		var r SignatureRow
		if err := rows.Scan(&r.ID, &r.Signature, &r.Text, &r.ClientKind, &r.CreatedAt, &r.LastAccess); err != nil {
			return nil, fmt.Errorf("store: scan base_tool_id row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanSignatureRow(row *sql.Row) (*SignatureRow, error) {
	var r SignatureRow
	err := row.Scan(&r.ID, &r.Signature, &r.Text, &r.ClientKind, &r.CreatedAt, &r.LastAccess)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan signature row: %w", err)
	}
	return &r, nil
}
