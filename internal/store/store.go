// Package store provides the persistent SQLite cache for recognition
// results, keyed by screenshot fingerprint with TTL expiry and LRU-bounded
// size.
package store

import (
	"database/sql"
	"fmt"
	"log"

	_ "modernc.org/sqlite"
)

// Store represents a SQLite database connection for the recognition cache.
type Store struct {
	db   *sql.DB
	path string
}

// New creates a new Store with the given database path. It opens the
// database, enables foreign keys, runs migrations, and removes any entries
// that expired while the daemon was down.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable foreign key constraints
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &Store{
		db:   db,
		path: dbPath,
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	// Startup cleanup of entries that expired while offline
	if n, err := s.Cache().CleanupExpired(); err != nil {
		log.Printf("Startup cache cleanup failed: %v", err)
	} else if n > 0 {
		log.Printf("Cleaned up %d expired cache entries at startup", n)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection.
func (s *Store) DB() *sql.DB {
	return s.db
}
