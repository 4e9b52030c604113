// Package session implements the presence session log model: pure
// functions that open, close, merge, and compact the per-entity log of
// online intervals. It performs no I/O; callers own persistence.
package session

import (
	"fmt"
	"time"
)

// Session is one contiguous online interval for a player or character.
type Session struct {
	// Joined is when the interval started. Always set.
	Joined time.Time `json:"joined"`

	// Quit is when the interval ended. Zero while the session is open.
	Quit time.Time `json:"quit,omitzero"`

	// Continued marks a session that was reopened because a new join
	// arrived within the gap threshold of the previous quit.
	Continued bool `json:"continued,omitempty"`

	// Override marks a session whose joined time was rewritten backward
	// during reconciliation: the store's latest row must be overwritten
	// rather than appended to.
	Override bool `json:"override,omitempty"`

	// Synced marks a closed session that has already been durably
	// written and must not be re-sent.
	Synced bool `json:"synced,omitempty"`
}

// IsOpen reports whether the session has no quit time yet.
func (s Session) IsOpen() bool { return s.Quit.IsZero() }

// Log is an ordered sequence of sessions, oldest first.
// Invariant: at most the trailing entry is open.
type Log []Session

// Last returns a pointer to the trailing entry, or nil for an empty log.
func (l Log) Last() *Session {
	if len(l) == 0 {
		return nil
	}
	return &l[len(l)-1]
}

// HasOpen reports whether the trailing entry is an open session.
func (l Log) HasOpen() bool {
	last := l.Last()
	return last != nil && last.IsOpen()
}

// UnsyncedClosed returns the closed entries that have not yet been
// durably written, oldest first.
func (l Log) UnsyncedClosed() []Session {
	var out []Session
	for _, s := range l {
		if !s.IsOpen() && !s.Synced {
			out = append(out, s)
		}
	}
	return out
}

// Open records a join at now. If the previous session quit within gap,
// it is reopened as a continuation instead of starting a new entry; a
// reopened session that was already synced is flagged override so the
// store's copy gets overwritten on the next flush. Opening a log whose
// trailing entry is still open is a contract violation and panics.
func Open(l Log, now time.Time, gap time.Duration) Log {
	last := l.Last()
	if last != nil && last.IsOpen() {
		panic(fmt.Sprintf("session: open called with session already open (joined %s)", last.Joined))
	}
	if last != nil && now.Sub(last.Quit) <= gap {
		last.Quit = time.Time{}
		last.Continued = true
		if last.Synced {
			last.Synced = false
			last.Override = true
		}
		return l
	}
	return append(l, Session{Joined: now})
}

// Close records a quit at now on the trailing open session. Closing a
// log with no open session is a contract violation and panics.
func Close(l Log, now time.Time) Log {
	last := l.Last()
	if last == nil || !last.IsOpen() {
		panic("session: close called with no open session")
	}
	last.Quit = now
	last.Continued = false
	return l
}

// MergeStoreTail reconciles a freshly retrieved store row against local
// activity that happened while the row was queued. If the first local
// entry joined within gap of the store's latest quit, the local entry
// absorbs the store session: its joined time is rewritten backward and
// it is flagged override so the flush overwrites the store's row.
//
// The returned bool reports whether the store must be updated at all:
// false only when the log holds nothing closed and nothing overridden.
func MergeStoreTail(l Log, storeLast *Session, gap time.Duration) (Log, bool) {
	if len(l) == 0 {
		return l, false
	}
	if storeLast != nil && !storeLast.IsOpen() && l[0].Joined.Sub(storeLast.Quit) <= gap {
		l[0].Joined = storeLast.Joined
		l[0].Override = true
	}
	return l, len(l.UnsyncedClosed()) > 0 || l.hasOverride()
}

func (l Log) hasOverride() bool {
	for _, s := range l {
		if s.Override {
			return true
		}
	}
	return false
}

// Compact trims the log after a successful flush, retaining only the
// trailing entry. A retained closed entry is marked synced (and its
// override cleared) so a later flush does not resend it.
func Compact(l Log) Log {
	last := l.Last()
	if last == nil {
		return l
	}
	kept := *last
	if !kept.IsOpen() {
		kept.Synced = true
		kept.Override = false
	}
	return Log{kept}
}
