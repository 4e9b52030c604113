package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/corvase/sinfarwatch/internal/session"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "test.sqlite"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_CreatesDatabase(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.sqlite")

	s, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created")
	}

	journalMode, err := s.journalMode()
	if err != nil {
		t.Fatalf("query journal_mode: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("journal_mode = %q, want %q", journalMode, "wal")
	}
}

func TestQueue_DuplicatesAreIdempotent(t *testing.T) {
	s := openTestStore(t)

	s.QueuePlayer(PlayerRecord{ID: "P1", Name: "Ann"})
	s.QueuePlayer(PlayerRecord{ID: "P1", Name: "Renamed"})

	if got := s.QueuedCount(Players); got != 1 {
		t.Fatalf("QueuedCount = %d, want 1", got)
	}

	var added []PlayerRecord
	err := s.FindOrAddQueuedPlayers(context.Background(),
		func(PlayerRecord) { t.Error("unexpected onFound") },
		func(rec PlayerRecord) { added = append(added, rec) })
	if err != nil {
		t.Fatalf("FindOrAddQueuedPlayers: %v", err)
	}

	if len(added) != 1 {
		t.Fatalf("added = %d records, want 1", len(added))
	}
	// First write wins for queued-but-not-yet-flushed fields.
	if added[0].Name != "Ann" {
		t.Errorf("name = %q, want first queued value", added[0].Name)
	}
	if got := s.QueuedCount(Players); got != 0 {
		t.Errorf("queue not drained: %d", got)
	}
}

func TestFindOrAddQueuedPlayers_SplitsFoundAndAdded(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// Seed an existing row with a session log.
	s.QueuePlayer(PlayerRecord{ID: "P1", Name: "Ann", Portrait: "po_ann"})
	if err := s.FindOrAddQueuedPlayers(ctx, func(PlayerRecord) {}, func(PlayerRecord) {}); err != nil {
		t.Fatalf("seed flush: %v", err)
	}
	joined := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	quit := joined.Add(time.Hour)
	if err := s.AppendLogs(ctx, Players, "P1", []session.Session{{Joined: joined, Quit: quit}}); err != nil {
		t.Fatalf("seed log: %v", err)
	}

	s.QueuePlayer(PlayerRecord{ID: "P1", Name: "Ann"})
	s.QueuePlayer(PlayerRecord{ID: "P2", Name: "Bob"})

	var found, added []PlayerRecord
	err := s.FindOrAddQueuedPlayers(ctx,
		func(rec PlayerRecord) { found = append(found, rec) },
		func(rec PlayerRecord) { added = append(added, rec) })
	if err != nil {
		t.Fatalf("FindOrAddQueuedPlayers: %v", err)
	}

	if len(found) != 1 || found[0].ID != "P1" {
		t.Fatalf("found = %+v, want P1 only", found)
	}
	if found[0].LastLog == nil {
		t.Fatal("found record missing last log")
	}
	if !found[0].LastLog.Joined.Equal(joined) || !found[0].LastLog.Quit.Equal(quit) {
		t.Errorf("last log = %+v", found[0].LastLog)
	}
	if len(added) != 1 || added[0].ID != "P2" {
		t.Fatalf("added = %+v, want P2 only", added)
	}
}

func TestFindOrAddQueuedCharacters_CarriesRelations(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	s.QueueCharacter(CharacterRecord{ID: "C1", Name: "Krag", PlayerIDs: []string{"P1"}})
	if err := s.FindOrAddQueuedCharacters(ctx, func(CharacterRecord) {}, func(CharacterRecord) {}); err != nil {
		t.Fatalf("seed flush: %v", err)
	}
	if err := s.AddRelation(ctx, "P2", "C1"); err != nil {
		t.Fatalf("AddRelation: %v", err)
	}

	s.QueueCharacter(CharacterRecord{ID: "C1", Name: "Krag"})

	var found []CharacterRecord
	err := s.FindOrAddQueuedCharacters(ctx,
		func(rec CharacterRecord) { found = append(found, rec) },
		func(CharacterRecord) { t.Error("unexpected onAdded") })
	if err != nil {
		t.Fatalf("FindOrAddQueuedCharacters: %v", err)
	}

	if len(found) != 1 {
		t.Fatalf("found = %d records, want 1", len(found))
	}
	if len(found[0].PlayerIDs) != 2 {
		t.Errorf("relations = %v, want both players", found[0].PlayerIDs)
	}
}

func TestAppendLogs_OverrideRewritesLatestRow(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	j1 := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	q1 := j1.Add(time.Hour)
	if err := s.AppendLogs(ctx, Players, "P1", []session.Session{{Joined: j1, Quit: q1}}); err != nil {
		t.Fatalf("append: %v", err)
	}

	// Reconciliation rewrote the session backward: same row, new bounds.
	q2 := q1.Add(30 * time.Minute)
	if err := s.AppendLogs(ctx, Players, "P1", []session.Session{{Joined: j1, Quit: q2, Override: true}}); err != nil {
		t.Fatalf("append override: %v", err)
	}

	n, err := s.CountLogs(ctx, Players, "P1")
	if err != nil {
		t.Fatalf("CountLogs: %v", err)
	}
	if n != 1 {
		t.Fatalf("log rows = %d, want 1 (override must not append)", n)
	}

	last, err := s.LastLog(ctx, Players, "P1")
	if err != nil {
		t.Fatalf("LastLog: %v", err)
	}
	if last == nil || !last.Quit.Equal(q2) {
		t.Errorf("last log = %+v, want quit %s", last, q2)
	}
}

func TestAppendLogs_OverrideWithoutPriorRowInserts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	j := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	err := s.AppendLogs(ctx, Players, "P1", []session.Session{{Joined: j, Quit: j.Add(time.Minute), Override: true}})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	last, err := s.LastLog(ctx, Players, "P1")
	if err != nil {
		t.Fatalf("LastLog: %v", err)
	}
	if last == nil {
		t.Fatal("expected inserted row")
	}
}

func TestLastLog_NoRows(t *testing.T) {
	s := openTestStore(t)

	last, err := s.LastLog(context.Background(), Characters, "missing")
	if err != nil {
		t.Fatalf("LastLog: %v", err)
	}
	if last != nil {
		t.Errorf("expected nil, got %+v", last)
	}
}

func TestUpdateFields(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	s.QueuePlayer(PlayerRecord{ID: "P1", Name: "Ann"})
	s.QueueCharacter(CharacterRecord{ID: "C1", Name: "Krag", PlayerIDs: []string{"P1"}})
	if err := s.FindOrAddQueuedPlayers(ctx, func(PlayerRecord) {}, func(PlayerRecord) {}); err != nil {
		t.Fatal(err)
	}
	if err := s.FindOrAddQueuedCharacters(ctx, func(CharacterRecord) {}, func(CharacterRecord) {}); err != nil {
		t.Fatal(err)
	}

	if err := s.UpdatePlayer(ctx, "P1", "po_new"); err != nil {
		t.Fatalf("UpdatePlayer: %v", err)
	}
	if err := s.UpdateCharacter(ctx, "C1", "Krag the Bold", "po_krag", "A storied past."); err != nil {
		t.Fatalf("UpdateCharacter: %v", err)
	}

	var portrait string
	if err := s.db.Get(&portrait, `SELECT portrait FROM players WHERE id = 'P1'`); err != nil {
		t.Fatal(err)
	}
	if portrait != "po_new" {
		t.Errorf("portrait = %q", portrait)
	}

	var name string
	if err := s.db.Get(&name, `SELECT name FROM characters WHERE id = 'C1'`); err != nil {
		t.Fatal(err)
	}
	if name != "Krag the Bold" {
		t.Errorf("name = %q", name)
	}
}
