package store

// SQL schema constants for the durable tier (spec.md section 6).

const schemaSignatures = `
CREATE TABLE IF NOT EXISTS signatures (
    id TEXT PRIMARY KEY,
    signature BLOB NOT NULL,
    text BLOB NOT NULL,
    client_kind TEXT NOT NULL DEFAULT 'generic',
    created_at INTEGER NOT NULL,
    last_access INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_signatures_created ON signatures(created_at);
`

// indexTableNames are the six index tables fronting the signatures table,
// one per fingerprint kind in spec.md section 3.2.
var indexTableNames = []string{"by_text", "by_prefix", "by_suffix", "by_last_n", "by_session", "by_tool"}

func schemaIndexTable(name string) string {
	return `
CREATE TABLE IF NOT EXISTS ` + name + ` (
    key TEXT PRIMARY KEY,
    sig_id TEXT NOT NULL REFERENCES signatures(id) ON DELETE CASCADE
);
`
}

const schemaCredentials = `
CREATE TABLE IF NOT EXISTS credentials (
    id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    disabled INTEGER NOT NULL DEFAULT 0,
    model_cooldowns TEXT NOT NULL DEFAULT '{}'
);
`

const schemaMigrations = `
CREATE TABLE IF NOT EXISTS migrations (
    version INTEGER PRIMARY KEY,
    applied_at TEXT NOT NULL
);
`

// allSchemas is the ordered list of schema DDL statements that form
// the initial (version-1) database layout.
var allSchemas = buildAllSchemas()

func buildAllSchemas() []string {
	stmts := []string{schemaSignatures}
	for _, name := range indexTableNames {
		stmts = append(stmts, schemaIndexTable(name))
	}
	stmts = append(stmts, schemaCredentials, schemaMigrations)
	return stmts
}
