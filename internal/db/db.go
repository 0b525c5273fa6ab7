// Package db provides the durable local stores backing the attendance
// pipeline: a binary photo blob store and a JSON attendance record store,
// both on a single SQLite database scoped to this device.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DB wraps the sql.DB with pipeline-specific configuration.
type DB struct {
	*sql.DB
}

// Open opens the attendance SQLite database with:
// - WAL mode for concurrent reads while the single writer is active
// - foreign key constraints enabled
// - a single connection, since SQLite allows one writer anyway
func Open(dataDir string) (*DB, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "attendance.db")

	// modernc.org/sqlite is pure Go, no CGO
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	return &DB{db}, nil
}

// Migrate creates the pipeline schema. Photos are stored as raw BLOBs to
// avoid the 2x inflation a base64 data-URL encoding would cost on
// multi-megabyte captures.
func Migrate(db *sql.DB) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS photos (
		id         TEXT PRIMARY KEY,
		data       BLOB NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS records (
		id         TEXT PRIMARY KEY,
		data       TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to run schema migration: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.DB.Close()
}
