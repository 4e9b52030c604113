package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/corvase/sinfarwatch/internal/session"
)

// AppendLogs writes closed session entries for an entity. An entry
// flagged override rewrites the entity's latest persisted row instead
// of appending, which is how reconciliation merges and backup copies
// avoid duplicating sessions. Entries must be closed; writing an open
// session is a contract violation.
func (s *Store) AppendLogs(ctx context.Context, col Collection, entityID string, logs []session.Session) error {
	if len(logs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append logs: %w", err)
	}
	defer tx.Rollback()

	now := formatTime(time.Now())
	for _, entry := range logs {
		if entry.IsOpen() {
			panic(fmt.Sprintf("store: open session for %s/%s passed to AppendLogs", col, entityID))
		}
		if entry.Override {
			overwritten, err := s.overwriteLatestLog(ctx, tx, col, entityID, entry, now)
			if err != nil {
				return err
			}
			if overwritten {
				continue
			}
			// No prior row to overwrite; fall through to insert.
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO session_logs (collection, entity_id, joined, quit, continued, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			string(col), entityID, formatTime(entry.Joined), formatTime(entry.Quit), entry.Continued, now)
		if err != nil {
			return fmt.Errorf("append log for %s/%s: %w", col, entityID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append logs: %w", err)
	}
	return nil
}

func (s *Store) overwriteLatestLog(ctx context.Context, tx *sqlx.Tx, col Collection, entityID string, entry session.Session, now string) (bool, error) {
	res, err := tx.ExecContext(ctx,
		`UPDATE session_logs SET joined = ?, quit = ?, continued = ?, created_at = ?
		 WHERE id = (
			SELECT id FROM session_logs
			WHERE collection = ? AND entity_id = ?
			ORDER BY joined DESC, id DESC LIMIT 1
		 )`,
		formatTime(entry.Joined), formatTime(entry.Quit), entry.Continued, now,
		string(col), entityID)
	if err != nil {
		return false, fmt.Errorf("overwrite log for %s/%s: %w", col, entityID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("overwrite log rows affected: %w", err)
	}
	return n > 0, nil
}

// LastLog returns the most recent persisted session for an entity, or
// nil when none exists.
func (s *Store) LastLog(ctx context.Context, col Collection, entityID string) (*session.Session, error) {
	var row sessionLogRow
	err := s.db.GetContext(ctx, &row,
		`SELECT id, collection, entity_id, joined, quit, continued, created_at
		 FROM session_logs
		 WHERE collection = ? AND entity_id = ?
		 ORDER BY joined DESC, id DESC LIMIT 1`,
		string(col), entityID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last log for %s/%s: %w", col, entityID, err)
	}
	last, err := row.toSession()
	if err != nil {
		return nil, err
	}
	return &last, nil
}

// lastLogs fetches the latest session per entity for a set of ids.
func (s *Store) lastLogs(ctx context.Context, col Collection, entityIDs []string) (map[string]session.Session, error) {
	query, args, err := sqlx.In(
		`SELECT l.id, l.collection, l.entity_id, l.joined, l.quit, l.continued, l.created_at
		 FROM session_logs l
		 JOIN (
			SELECT entity_id, MAX(joined) AS max_joined
			FROM session_logs
			WHERE collection = ? AND entity_id IN (?)
			GROUP BY entity_id
		 ) latest ON l.entity_id = latest.entity_id AND l.joined = latest.max_joined
		 WHERE l.collection = ?`,
		string(col), entityIDs, string(col))
	if err != nil {
		return nil, fmt.Errorf("build last-log lookup: %w", err)
	}

	var rows []sessionLogRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("last logs for %s: %w", col, err)
	}

	out := make(map[string]session.Session, len(rows))
	for _, r := range rows {
		entry, err := r.toSession()
		if err != nil {
			return nil, err
		}
		out[r.EntityID] = entry
	}
	return out, nil
}

// CountLogs returns the number of persisted sessions for an entity
// (used by tests and the status surface).
func (s *Store) CountLogs(ctx context.Context, col Collection, entityID string) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM session_logs WHERE collection = ? AND entity_id = ?`,
		string(col), entityID)
	if err != nil {
		return 0, fmt.Errorf("count logs for %s/%s: %w", col, entityID, err)
	}
	return n, nil
}

// UpdatePlayer flushes a player's mutable fields.
func (s *Store) UpdatePlayer(ctx context.Context, id, portrait string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE players SET portrait = ?, updated_at = ? WHERE id = ?`,
		portrait, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("update player %s: %w", id, err)
	}
	return nil
}

// UpdateCharacter flushes a character's mutable fields.
func (s *Store) UpdateCharacter(ctx context.Context, id, name, portrait, description string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE characters SET name = ?, portrait = ?, description = ?, updated_at = ? WHERE id = ?`,
		name, portrait, description, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("update character %s: %w", id, err)
	}
	return nil
}

// AddRelation records that a player has played a character. Duplicate
// relations are ignored; the relation is only ever additive.
func (s *Store) AddRelation(ctx context.Context, playerID, characterID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO player_characters (player_id, character_id) VALUES (?, ?)`,
		playerID, characterID)
	if err != nil {
		return fmt.Errorf("add relation %s->%s: %w", playerID, characterID, err)
	}
	return nil
}
