package store

import (
	"context"
	"fmt"
)

// migrate runs database migrations.
func (s *Store) migrate(ctx context.Context) error {
	if err := s.createEntityTables(ctx); err != nil {
		return err
	}
	if err := s.createSessionLogTable(ctx); err != nil {
		return err
	}
	return nil
}

func (s *Store) createEntityTables(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS players (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		portrait   TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS characters (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		portrait    TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		created_at  TEXT NOT NULL,
		updated_at  TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS player_characters (
		player_id    TEXT NOT NULL,
		character_id TEXT NOT NULL,
		UNIQUE(player_id, character_id)
	);

	CREATE INDEX IF NOT EXISTS idx_player_characters_character
		ON player_characters(character_id);
	`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create entity tables: %w", err)
	}
	return nil
}

func (s *Store) createSessionLogTable(ctx context.Context) error {
	// Only closed sessions are persisted: an open session reaches the
	// store either via the periodic backup (as a closed, overridable
	// copy) or when the entity leaves.
	const schema = `
	CREATE TABLE IF NOT EXISTS session_logs (
		id         INTEGER PRIMARY KEY,
		collection TEXT NOT NULL,
		entity_id  TEXT NOT NULL,
		joined     TEXT NOT NULL,
		quit       TEXT NOT NULL,
		continued  INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_session_logs_entity
		ON session_logs(collection, entity_id, joined);
	`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create session_logs table: %w", err)
	}
	return nil
}
