package store

import (
	"fmt"
	"time"

	"github.com/corvase/sinfarwatch/internal/session"
)

// PlayerRecord is the store's view of a player row. LastLog carries the
// most recent persisted session so the reconciliation layer can merge
// local activity that happened while the row was queued.
type PlayerRecord struct {
	ID       string
	Name     string
	Portrait string
	LastLog  *session.Session
}

// CharacterRecord is the store's view of a character row.
type CharacterRecord struct {
	ID          string
	Name        string
	Portrait    string
	Description string
	PlayerIDs   []string
	LastLog     *session.Session
}

type playerRow struct {
	ID       string `db:"id"`
	Name     string `db:"name"`
	Portrait string `db:"portrait"`
}

type characterRow struct {
	ID          string `db:"id"`
	Name        string `db:"name"`
	Portrait    string `db:"portrait"`
	Description string `db:"description"`
}

type sessionLogRow struct {
	ID         int64  `db:"id"`
	Collection string `db:"collection"`
	EntityID   string `db:"entity_id"`
	Joined     string `db:"joined"`
	Quit       string `db:"quit"`
	Continued  bool   `db:"continued"`
	CreatedAt  string `db:"created_at"`
}

func (r sessionLogRow) toSession() (session.Session, error) {
	joined, err := time.Parse(TimeFormat, r.Joined)
	if err != nil {
		return session.Session{}, fmt.Errorf("parse joined %q: %w", r.Joined, err)
	}
	quit, err := time.Parse(TimeFormat, r.Quit)
	if err != nil {
		return session.Session{}, fmt.Errorf("parse quit %q: %w", r.Quit, err)
	}
	return session.Session{Joined: joined, Quit: quit, Continued: r.Continued, Synced: true}, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}
