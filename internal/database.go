package internal

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const historySchema = `
CREATE TABLE IF NOT EXISTS reconstructions (
	id           TEXT PRIMARY KEY,
	monitor_id   TEXT NOT NULL,
	grouping_key TEXT NOT NULL,
	started_at   INTEGER NOT NULL,
	duration_us  INTEGER NOT NULL,
	step_count   INTEGER NOT NULL,
	failed_count INTEGER NOT NULL,
	elapsed_ms   INTEGER NOT NULL,
	created_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_reconstructions_monitor ON reconstructions(monitor_id, created_at);
CREATE TABLE IF NOT EXISTS reconstruction_steps (
	reconstruction_id TEXT NOT NULL REFERENCES reconstructions(id) ON DELETE CASCADE,
	step_index        INTEGER NOT NULL,
	status            TEXT NOT NULL,
	error             TEXT,
	format            TEXT,
	width             INTEGER,
	height            INTEGER,
	size_bytes        INTEGER,
	output_path       TEXT,
	PRIMARY KEY (reconstruction_id, step_index)
);`

// OpenDatabase opens (creating if needed) the SQLite history database
func OpenDatabase(path string) (*sql.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps :memory: databases alive and serializes writers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func migrate(db *sql.DB) error {
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec(historySchema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}
