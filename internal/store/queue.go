package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// QueuePlayer places a newly seen player on the pending queue for
// batch creation. Duplicate ids are idempotent no-ops until flushed.
func (s *Store) QueuePlayer(rec PlayerRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pendingPlayers[rec.ID]; ok {
		return
	}
	s.pendingPlayers[rec.ID] = rec
}

// QueueCharacter places a newly seen character on the pending queue.
func (s *Store) QueueCharacter(rec CharacterRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pendingCharacters[rec.ID]; ok {
		return
	}
	s.pendingCharacters[rec.ID] = rec
}

// QueuedCount returns the number of ids pending for a collection.
func (s *Store) QueuedCount(col Collection) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch col {
	case Players:
		return len(s.pendingPlayers)
	case Characters:
		return len(s.pendingCharacters)
	}
	return 0
}

// FindOrAddQueuedPlayers flushes the pending player queue: ids already
// in the database are handed to onFound (with their latest session log
// attached); the rest are batch-inserted and handed to onAdded. Every
// queued id is processed by exactly one of the two callbacks before
// this returns. On error the queue is left intact so the next cycle
// retries.
func (s *Store) FindOrAddQueuedPlayers(ctx context.Context, onFound, onAdded func(PlayerRecord)) error {
	s.mu.Lock()
	queued := make(map[string]PlayerRecord, len(s.pendingPlayers))
	for id, rec := range s.pendingPlayers {
		queued[id] = rec
	}
	s.mu.Unlock()

	if len(queued) == 0 {
		return nil
	}

	ids := make([]string, 0, len(queued))
	for id := range queued {
		ids = append(ids, id)
	}

	query, args, err := sqlx.In(`SELECT id, name, portrait FROM players WHERE id IN (?)`, ids)
	if err != nil {
		return fmt.Errorf("build player lookup: %w", err)
	}
	var rows []playerRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("find queued players: %w", err)
	}

	lastLogs, err := s.lastLogs(ctx, Players, ids)
	if err != nil {
		return err
	}

	found := make(map[string]PlayerRecord, len(rows))
	for _, r := range rows {
		rec := PlayerRecord{ID: r.ID, Name: r.Name, Portrait: r.Portrait}
		if last, ok := lastLogs[r.ID]; ok {
			rec.LastLog = &last
		}
		found[r.ID] = rec
	}

	var toAdd []PlayerRecord
	for id, rec := range queued {
		if _, ok := found[id]; !ok {
			toAdd = append(toAdd, rec)
		}
	}

	if len(toAdd) > 0 {
		if err := s.insertPlayers(ctx, toAdd); err != nil {
			return err
		}
	}

	// Queue resolved: report each id through exactly one callback.
	s.mu.Lock()
	for id := range queued {
		delete(s.pendingPlayers, id)
	}
	s.mu.Unlock()

	for _, rec := range found {
		onFound(rec)
	}
	for _, rec := range toAdd {
		onAdded(rec)
	}
	return nil
}

// FindOrAddQueuedCharacters flushes the pending character queue, with
// the same contract as FindOrAddQueuedPlayers. Found characters also
// carry their persisted player relations for merging.
func (s *Store) FindOrAddQueuedCharacters(ctx context.Context, onFound, onAdded func(CharacterRecord)) error {
	s.mu.Lock()
	queued := make(map[string]CharacterRecord, len(s.pendingCharacters))
	for id, rec := range s.pendingCharacters {
		queued[id] = rec
	}
	s.mu.Unlock()

	if len(queued) == 0 {
		return nil
	}

	ids := make([]string, 0, len(queued))
	for id := range queued {
		ids = append(ids, id)
	}

	query, args, err := sqlx.In(`SELECT id, name, portrait, description FROM characters WHERE id IN (?)`, ids)
	if err != nil {
		return fmt.Errorf("build character lookup: %w", err)
	}
	var rows []characterRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("find queued characters: %w", err)
	}

	lastLogs, err := s.lastLogs(ctx, Characters, ids)
	if err != nil {
		return err
	}
	relations, err := s.relationsFor(ctx, ids)
	if err != nil {
		return err
	}

	found := make(map[string]CharacterRecord, len(rows))
	for _, r := range rows {
		rec := CharacterRecord{
			ID:          r.ID,
			Name:        r.Name,
			Portrait:    r.Portrait,
			Description: r.Description,
			PlayerIDs:   relations[r.ID],
		}
		if last, ok := lastLogs[r.ID]; ok {
			rec.LastLog = &last
		}
		found[r.ID] = rec
	}

	var toAdd []CharacterRecord
	for id, rec := range queued {
		if _, ok := found[id]; !ok {
			toAdd = append(toAdd, rec)
		}
	}

	if len(toAdd) > 0 {
		if err := s.insertCharacters(ctx, toAdd); err != nil {
			return err
		}
	}

	s.mu.Lock()
	for id := range queued {
		delete(s.pendingCharacters, id)
	}
	s.mu.Unlock()

	for _, rec := range found {
		onFound(rec)
	}
	for _, rec := range toAdd {
		onAdded(rec)
	}
	return nil
}

func (s *Store) insertPlayers(ctx context.Context, recs []PlayerRecord) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert players: %w", err)
	}
	defer tx.Rollback()

	now := formatTime(time.Now())
	for _, rec := range recs {
		_, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO players (id, name, portrait, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?)`,
			rec.ID, rec.Name, rec.Portrait, now, now)
		if err != nil {
			return fmt.Errorf("insert player %s: %w", rec.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert players: %w", err)
	}
	return nil
}

func (s *Store) insertCharacters(ctx context.Context, recs []CharacterRecord) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert characters: %w", err)
	}
	defer tx.Rollback()

	now := formatTime(time.Now())
	for _, rec := range recs {
		_, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO characters (id, name, portrait, description, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			rec.ID, rec.Name, rec.Portrait, rec.Description, now, now)
		if err != nil {
			return fmt.Errorf("insert character %s: %w", rec.ID, err)
		}
		for _, playerID := range rec.PlayerIDs {
			_, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO player_characters (player_id, character_id) VALUES (?, ?)`,
				playerID, rec.ID)
			if err != nil {
				return fmt.Errorf("insert relation %s->%s: %w", playerID, rec.ID, err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert characters: %w", err)
	}
	return nil
}

func (s *Store) relationsFor(ctx context.Context, characterIDs []string) (map[string][]string, error) {
	query, args, err := sqlx.In(
		`SELECT player_id, character_id FROM player_characters WHERE character_id IN (?)`, characterIDs)
	if err != nil {
		return nil, fmt.Errorf("build relation lookup: %w", err)
	}
	var rows []struct {
		PlayerID    string `db:"player_id"`
		CharacterID string `db:"character_id"`
	}
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("find relations: %w", err)
	}
	out := make(map[string][]string)
	for _, r := range rows {
		out[r.CharacterID] = append(out[r.CharacterID], r.PlayerID)
	}
	return out, nil
}
