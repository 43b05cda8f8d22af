package persistence

import (
	"context"
	"database/sql"
)

const schemaVersion = "1.0"

// initSchema creates all required tables if they don't exist.
// Timestamps are stored as Unix nanoseconds so expiry comparisons are plain
// integer comparisons. The meta table carries a schema version and
// last-updated marker per logical table, for migration and debugging.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS meta (
		table_name TEXT PRIMARY KEY,
		schema_version TEXT NOT NULL,
		last_updated DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS locks (
		resource TEXT NOT NULL,
		holder TEXT NOT NULL,
		mode TEXT NOT NULL,
		purpose TEXT,
		acquired_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL,
		PRIMARY KEY (resource, holder)
	);

	CREATE INDEX IF NOT EXISTS idx_locks_holder ON locks(holder);
	CREATE INDEX IF NOT EXISTS idx_locks_expires ON locks(expires_at);

	CREATE TABLE IF NOT EXISTS agents (
		id TEXT PRIMARY KEY,
		mode TEXT NOT NULL,
		current_task TEXT NOT NULL,
		task_path TEXT NOT NULL,
		status TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		estimated_completion INTEGER NOT NULL,
		locked_resources TEXT,
		parallel_compatible INTEGER NOT NULL DEFAULT 0,
		heartbeat INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS completions (
		task_id TEXT PRIMARY KEY,
		completed_at INTEGER NOT NULL
	);

	INSERT INTO meta (table_name, schema_version) VALUES ('locks', '` + schemaVersion + `')
		ON CONFLICT(table_name) DO NOTHING;
	INSERT INTO meta (table_name, schema_version) VALUES ('agents', '` + schemaVersion + `')
		ON CONFLICT(table_name) DO NOTHING;
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// touchMeta refreshes a logical table's last-updated marker inside a
// transaction.
func touchMeta(tx *sql.Tx, tableName string) error {
	_, err := tx.Exec(`
		UPDATE meta SET last_updated = CURRENT_TIMESTAMP WHERE table_name = ?
	`, tableName)
	return err
}
