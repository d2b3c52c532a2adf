// Package db provides the SQLite connection and schema for glowd's local
// state: preset records and the namespaced key-value cache.
package db

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite database connection
type DB struct {
	*sql.DB
}

// Open opens the database and initializes the schema
func Open(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &DB{db}, nil
}

// initSchema creates all required tables
func initSchema(db *sql.DB) error {
	// Presets - local-first records; remote_id is attached by background
	// sync and stays NULL while the device copy is pending.
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS presets (
			local_id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			name TEXT NOT NULL,
			payload TEXT NOT NULL,
			device_id TEXT NOT NULL,
			remote_id INTEGER,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_presets_device ON presets(device_id);
		CREATE INDEX IF NOT EXISTS idx_presets_unsynced ON presets(device_id) WHERE remote_id IS NULL;
	`)
	if err != nil {
		return fmt.Errorf("failed to create presets table: %w", err)
	}

	// KV store - namespaced full-document values (per-device last-seen
	// gradient, transition-duration caches).
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS kv_store (
			bucket TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (bucket, key)
		);
		CREATE INDEX IF NOT EXISTS idx_kv_bucket ON kv_store(bucket);
	`)
	if err != nil {
		return fmt.Errorf("failed to create kv_store table: %w", err)
	}

	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}
