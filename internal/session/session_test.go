package session

import (
	"testing"
	"time"
)

var (
	t0  = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	gap = 10 * time.Minute
)

func TestOpen_NewLog(t *testing.T) {
	l := Open(nil, t0, gap)

	if len(l) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(l))
	}
	if !l[0].Joined.Equal(t0) {
		t.Errorf("joined = %s, want %s", l[0].Joined, t0)
	}
	if !l[0].IsOpen() {
		t.Error("expected open session")
	}
}

func TestOpen_WithinGap_Continues(t *testing.T) {
	l := Open(nil, t0, gap)
	l = Close(l, t0.Add(time.Hour))
	l = Open(l, t0.Add(time.Hour).Add(gap), gap) // exactly at threshold

	if len(l) != 1 {
		t.Fatalf("expected continuation, got %d entries", len(l))
	}
	if !l[0].IsOpen() {
		t.Error("continued session should be open")
	}
	if !l[0].Continued {
		t.Error("continued flag not set")
	}
	if !l[0].Joined.Equal(t0) {
		t.Errorf("continuation must keep original join time, got %s", l[0].Joined)
	}
}

func TestOpen_BeyondGap_NewEntry(t *testing.T) {
	l := Open(nil, t0, gap)
	l = Close(l, t0.Add(time.Hour))
	l = Open(l, t0.Add(time.Hour).Add(gap).Add(time.Millisecond), gap)

	if len(l) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(l))
	}
	if l[0].IsOpen() {
		t.Error("first entry must stay closed")
	}
	if !l[1].IsOpen() {
		t.Error("second entry must be open")
	}
}

func TestOpen_SyncedContinuation_SetsOverride(t *testing.T) {
	l := Open(nil, t0, gap)
	l = Close(l, t0.Add(time.Minute))
	l = Compact(l) // flushed: trailing closed entry becomes synced

	if !l[0].Synced {
		t.Fatal("compact should mark closed entry synced")
	}

	l = Open(l, t0.Add(2*time.Minute), gap)

	if l[0].Synced {
		t.Error("reopened session must clear synced")
	}
	if !l[0].Override {
		t.Error("reopened synced session must set override")
	}
}

func TestOpen_AlreadyOpen_Panics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	l := Open(nil, t0, gap)
	Open(l, t0.Add(time.Minute), gap)
}

func TestClose_NoOpenSession_Panics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	l := Open(nil, t0, gap)
	l = Close(l, t0.Add(time.Minute))
	Close(l, t0.Add(2*time.Minute))
}

// Alternating open/close yields exactly one closed entry per close and
// never more than one open entry.
func TestLog_NoDoubleSession(t *testing.T) {
	var l Log
	at := t0
	const n = 5
	for i := 0; i < n; i++ {
		at = at.Add(time.Hour)
		l = Open(l, at, gap)
		at = at.Add(time.Minute)
		l = Close(l, at)
	}

	closed := 0
	open := 0
	for _, s := range l {
		if s.IsOpen() {
			open++
		} else {
			closed++
		}
	}
	if closed != n {
		t.Errorf("closed entries = %d, want %d", closed, n)
	}
	if open != 0 {
		t.Errorf("open entries = %d, want 0", open)
	}
}

// Repeated open/close within the gap threshold collapses into a single
// logical session spanning first join to last quit.
func TestLog_GapMergeIdempotence(t *testing.T) {
	var l Log
	at := t0
	for i := 0; i < 10; i++ {
		l = Open(l, at, gap)
		at = at.Add(time.Minute)
		l = Close(l, at)
		at = at.Add(gap / 2)
	}

	if len(l) != 1 {
		t.Fatalf("expected 1 logical session, got %d", len(l))
	}
	if !l[0].Joined.Equal(t0) {
		t.Errorf("joined = %s, want first open time %s", l[0].Joined, t0)
	}
	wantQuit := t0.Add(10*time.Minute + 9*(gap/2))
	if !l[0].Quit.Equal(wantQuit) {
		t.Errorf("quit = %s, want last close time %s", l[0].Quit, wantQuit)
	}
}

func TestMergeStoreTail(t *testing.T) {
	storeJoin := t0.Add(-2 * time.Hour)
	storeQuit := t0.Add(-5 * time.Minute)

	tests := []struct {
		name         string
		local        Log
		storeLast    *Session
		wantJoined   time.Time
		wantOverride bool
		wantUpdate   bool
	}{
		{
			name:       "empty local log needs nothing",
			local:      nil,
			storeLast:  &Session{Joined: storeJoin, Quit: storeQuit},
			wantUpdate: false,
		},
		{
			name:         "within gap absorbs store session",
			local:        Log{{Joined: t0}},
			storeLast:    &Session{Joined: storeJoin, Quit: storeQuit},
			wantJoined:   storeJoin,
			wantOverride: true,
			wantUpdate:   true,
		},
		{
			name:         "beyond gap leaves local entry unchanged",
			local:        Log{{Joined: storeQuit.Add(gap).Add(time.Second)}},
			storeLast:    &Session{Joined: storeJoin, Quit: storeQuit},
			wantJoined:   storeQuit.Add(gap).Add(time.Second),
			wantOverride: false,
			wantUpdate:   false, // only an open, unmerged session: nothing to write
		},
		{
			name:       "no store tail, open session only",
			local:      Log{{Joined: t0}},
			storeLast:  nil,
			wantJoined: t0,
			wantUpdate: false,
		},
		{
			name:       "no store tail, closed session pending",
			local:      Log{{Joined: t0, Quit: t0.Add(time.Minute)}},
			storeLast:  nil,
			wantJoined: t0,
			wantUpdate: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, update := MergeStoreTail(tt.local, tt.storeLast, gap)
			if update != tt.wantUpdate {
				t.Errorf("update = %v, want %v", update, tt.wantUpdate)
			}
			if len(got) == 0 {
				return
			}
			if !got[0].Joined.Equal(tt.wantJoined) {
				t.Errorf("joined = %s, want %s", got[0].Joined, tt.wantJoined)
			}
			if got[0].Override != tt.wantOverride {
				t.Errorf("override = %v, want %v", got[0].Override, tt.wantOverride)
			}
		})
	}
}

func TestCompact(t *testing.T) {
	l := Open(nil, t0, gap)
	l = Close(l, t0.Add(time.Minute))
	l = Open(l, t0.Add(time.Hour), gap)
	l = Close(l, t0.Add(2*time.Hour))

	l = Compact(l)

	if len(l) != 1 {
		t.Fatalf("expected 1 retained entry, got %d", len(l))
	}
	if !l[0].Synced {
		t.Error("retained closed entry must be marked synced")
	}
	if l[0].Override {
		t.Error("compact must clear override")
	}

	// An open trailing entry is retained as-is.
	l = Open(l, t0.Add(3*time.Hour), gap)
	l = Compact(l)
	if len(l) != 1 || !l[0].IsOpen() {
		t.Fatal("open trailing entry must survive compaction unmarked")
	}
	if l[0].Synced {
		t.Error("open entry must not be marked synced")
	}
}

func TestUnsyncedClosed(t *testing.T) {
	l := Log{
		{Joined: t0, Quit: t0.Add(time.Minute), Synced: true},
		{Joined: t0.Add(time.Hour), Quit: t0.Add(2 * time.Hour)},
		{Joined: t0.Add(3 * time.Hour)},
	}
	got := l.UnsyncedClosed()
	if len(got) != 1 {
		t.Fatalf("expected 1 unsynced closed entry, got %d", len(got))
	}
	if !got[0].Joined.Equal(t0.Add(time.Hour)) {
		t.Errorf("wrong entry selected: %+v", got[0])
	}
}
