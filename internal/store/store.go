// Package store provides SQLite persistence for the presence monitor:
// player and character rows, their session logs, the player-character
// relation table, and the write-behind pending queues that batch newly
// seen entities into the database.
package store

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// TimeFormat is the fixed-width RFC3339 format used for timestamps.
// Using fixed width ensures lexicographic ordering matches chronological ordering.
const TimeFormat = "2006-01-02T15:04:05.000000000Z"

// Collection names the two entity kinds the store persists.
type Collection string

const (
	// Players is the player collection.
	Players Collection = "players"
	// Characters is the character collection.
	Characters Collection = "characters"
)

// Store wraps a SQLite database connection plus the in-memory pending
// queues for batch creation.
type Store struct {
	db *sqlx.DB

	mu                sync.Mutex
	pendingPlayers    map[string]PlayerRecord
	pendingCharacters map[string]CharacterRecord
}

// Open opens a SQLite database with WAL mode and busy_timeout.
// The path should be an absolute path to the database file.
func Open(path string) (*Store, error) {
	// URL-escape the path to handle special characters (?, #, spaces, etc.)
	escapedPath := url.PathEscape(path)

	dsn := fmt.Sprintf("file:%s?mode=rwc&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", escapedPath)

	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Allow read parallelism from the dump endpoints while the poll
	// cycle's writes stay serialized.
	db.SetMaxOpenConns(4)

	s := &Store{
		db:                db,
		pendingPlayers:    make(map[string]PlayerRecord),
		pendingCharacters: make(map[string]CharacterRecord),
	}

	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// journalMode returns the current journal mode (for testing).
func (s *Store) journalMode() (string, error) {
	var mode string
	if err := s.db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		return "", err
	}
	return mode, nil
}
