// Package store provides SQLite-backed persistence for session artifacts,
// task results, and the per-session event journal.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// schemaV1 defines the initial database schema.
//
// task_results is the content-addressable artifact record: one row per
// (session_id, task_id, fingerprint). session_events is the append-only
// event journal with a gap-free per-session sequence. Both carry an
// expires_at_unix column implementing the TTL retention contract.
const schemaV1 = `
CREATE TABLE IF NOT EXISTS sessions (
	session_id       TEXT PRIMARY KEY,
	status           TEXT NOT NULL DEFAULT 'running',
	created_at_unix  INTEGER NOT NULL DEFAULT 0,
	expires_at_unix  INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS task_results (
	session_id       TEXT NOT NULL,
	task_id          TEXT NOT NULL,
	fingerprint      TEXT NOT NULL,
	status           TEXT NOT NULL,
	output_json      TEXT NOT NULL DEFAULT '{}',
	attempts         INTEGER NOT NULL DEFAULT 0,
	degraded         INTEGER NOT NULL DEFAULT 0,
	error            TEXT NOT NULL DEFAULT '',
	started_at_unix  INTEGER NOT NULL DEFAULT 0,
	completed_at_unix INTEGER NOT NULL DEFAULT 0,
	expires_at_unix  INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (session_id, task_id, fingerprint)
);
CREATE INDEX IF NOT EXISTS idx_results_session ON task_results(session_id);

CREATE TABLE IF NOT EXISTS session_events (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id      TEXT NOT NULL,
	seq             INTEGER NOT NULL,
	kind            TEXT NOT NULL,
	payload_json    TEXT NOT NULL DEFAULT '{}',
	created_at_unix INTEGER NOT NULL,
	UNIQUE(session_id, seq)
);
CREATE INDEX IF NOT EXISTS idx_events_session_seq ON session_events(session_id, seq);

CREATE TABLE IF NOT EXISTS artifacts (
	session_id      TEXT NOT NULL,
	name            TEXT NOT NULL,
	body            BLOB NOT NULL,
	created_at_unix INTEGER NOT NULL DEFAULT 0,
	expires_at_unix INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (session_id, name)
);
`

// NewDB opens a SQLite database at the given path with recommended pragmas
// and runs the V1 schema migration.
func NewDB(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Limit connections to 1 for SQLite (WAL allows concurrent reads but single writer).
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return db, nil
}

func migrate(db *sql.DB) error {
	_, err := db.ExecContext(context.Background(), schemaV1)
	return err
}
