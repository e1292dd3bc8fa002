// Package store persists the engine's runtime settings and a log of
// committed appliance transitions in SQLite.
package store

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

const sqliteDriverName = "sqlite"

const schemaRuntime = `
CREATE TABLE IF NOT EXISTS runtime_settings (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    mode TEXT NOT NULL,
    demand TEXT NOT NULL,
    desired REAL NOT NULL,
    format TEXT NOT NULL,
    last_check TEXT,
    hold_s INTEGER NOT NULL DEFAULT 0,
    updated_at TEXT NOT NULL
);
`

const schemaTransitions = `
CREATE TABLE IF NOT EXISTS transitions (
    id TEXT PRIMARY KEY,
    occurred_at TEXT NOT NULL,
    appliance TEXT NOT NULL,
    state TEXT NOT NULL,
    demand TEXT NOT NULL,
    house_temp REAL NOT NULL,
    desired REAL NOT NULL,
    verified BOOLEAN NOT NULL
);
`

const indexTransitions = `
CREATE INDEX IF NOT EXISTS transitions_occurred_at ON transitions (occurred_at);
`

// Open opens or creates the SQLite database at path and ensures the schema.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open(sqliteDriverName, path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite at %q: %w", path, err)
	}

	// Single writer: the control loop.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA busy_timeout = 5000;",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set %s: %w", pragma, err)
		}
	}

	if err := ensureSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return db, nil
}

func ensureSchema(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin schema transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for i, stmt := range []string{schemaRuntime, schemaTransitions, indexTransitions} {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema transaction: %w", err)
	}
	return nil
}
