package store

import (
	"context"
	"database/sql"
)

// schema contains the DDL for all tables.
// Each statement uses IF NOT EXISTS for idempotency.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS schedules (
		cpu            INTEGER PRIMARY KEY,
		windows        TEXT NOT NULL,
		window_count   INTEGER NOT NULL,
		frame_duration INTEGER NOT NULL,
		started        INTEGER NOT NULL DEFAULT 0,
		installed_at   TEXT NOT NULL,
		updated_at     TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS events (
		id         TEXT PRIMARY KEY,
		type       TEXT NOT NULL,
		cpu        INTEGER NOT NULL,
		thread_id  TEXT NOT NULL DEFAULT '',
		thread     TEXT NOT NULL DEFAULT '',
		window     INTEGER,
		detail     TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_events_type ON events(type)`,
	`CREATE INDEX IF NOT EXISTS idx_events_cpu ON events(cpu)`,
	`CREATE INDEX IF NOT EXISTS idx_events_created_at ON events(created_at)`,
}

// migrate executes all schema DDL statements.
func migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
