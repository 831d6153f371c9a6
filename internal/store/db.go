// Package store persists star systems and sweep jobs in SQLite.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a system id does not exist.
var ErrNotFound = errors.New("not found")

// Store provides persistent storage for systems and sweep jobs using SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens (creating if needed) the database at dbPath.
func Open(dbPath string) (*Store, error) {
	if dbPath == "" {
		return nil, errors.New("sqlite path is empty")
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory for sqlite: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS galactic_systems (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		region TEXT NOT NULL DEFAULT '',
		grid_coordinates TEXT,
		population INTEGER,
		classification TEXT,
		coordinate_x REAL,
		coordinate_y REAL,
		coordinate_z REAL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_systems_region ON galactic_systems(region);
	CREATE INDEX IF NOT EXISTS idx_systems_pending ON galactic_systems(coordinate_x, id);

	CREATE TABLE IF NOT EXISTS sweep_jobs (
		job_id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		params_json TEXT NOT NULL,
		batches INTEGER DEFAULT 0,
		total INTEGER DEFAULT 0,
		completed INTEGER DEFAULT 0,
		errors INTEGER DEFAULT 0,
		remaining INTEGER DEFAULT 0,
		error TEXT DEFAULT '',
		created_at TEXT NOT NULL,
		started_at TEXT,
		finished_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_sweep_jobs_status ON sweep_jobs(status);
	CREATE INDEX IF NOT EXISTS idx_sweep_jobs_finished ON sweep_jobs(finished_at);
	`
	_, err := s.db.Exec(schema)
	return err
}
