// Package store is the SQLite persistence layer: finalized visits and queue
// sessions, sampled positions and occupancy counts, durable KPI rollups, and
// the alert activity ledger. Writes are idempotent on natural keys so the
// spool sync can replay a file safely.
package store

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Store wraps the SQLite handle. Embedding *sql.DB keeps raw queries
// available to callers that need them (the admin SQL routes do).
type Store struct {
	*sql.DB
	path string
}

// Open opens (creating if needed) the SQLite database at path and brings the
// schema up to the latest migration.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	// auto_vacuum must be set before the first table is created, so these
	// run ahead of the migrations.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA auto_vacuum = INCREMENTAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}

	s := &Store{DB: db, path: path}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Path returns the on-disk database path.
func (s *Store) Path() string {
	return s.path
}
