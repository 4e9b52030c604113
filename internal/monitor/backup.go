package monitor

import (
	"context"

	"github.com/corvase/sinfarwatch/internal/metrics"
	"github.com/corvase/sinfarwatch/internal/session"
	"github.com/corvase/sinfarwatch/internal/store"
)

// backupDue reports whether a backup interval has elapsed since the
// last checkpoint. Checked only after a completed cycle.
func (m *Monitor) backupDue() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.clock.Now().Sub(m.lastBackup) >= m.backupEvery
}

// backup checkpoints every open session to the store as a closed copy
// with quit set to now, bounding crash data loss to one backup
// interval. The in-memory session stays open and is flagged override,
// so both the next backup and the eventual real close overwrite the
// checkpoint row instead of appending a duplicate.
func (m *Monitor) backup(ctx context.Context) {
	type checkpoint struct {
		col   store.Collection
		id    string
		entry session.Session
	}

	m.mu.Lock()
	now := m.clock.Now()
	var copies []checkpoint
	for id, p := range m.players {
		if last := p.Logs.Last(); last != nil && last.IsOpen() {
			cp := *last
			cp.Quit = now
			copies = append(copies, checkpoint{store.Players, id, cp})
			last.Override = true
		}
	}
	for id, c := range m.characters {
		if last := c.Logs.Last(); last != nil && last.IsOpen() {
			cp := *last
			cp.Quit = now
			copies = append(copies, checkpoint{store.Characters, id, cp})
			last.Override = true
		}
	}
	m.lastBackup = now
	m.mu.Unlock()

	for _, b := range copies {
		if err := m.store.AppendLogs(ctx, b.col, b.id, []session.Session{b.entry}); err != nil {
			metrics.StoreWriteErrors.WithLabelValues("backup").Inc()
			m.log.WithError(err).WithField("entity", b.id).Error("session backup failed")
		}
	}
	if len(copies) > 0 {
		m.log.WithField("sessions", len(copies)).Debug("open sessions checkpointed")
	}
}

// scheduleEvictionLocked starts the offline cooldown for a player that
// just went fully offline. A pre-existing timer is replaced.
func (m *Monitor) scheduleEvictionLocked(playerID string) {
	if h, ok := m.evictions[playerID]; ok {
		h.Stop()
	}
	m.evictions[playerID] = m.after(m.evictAfter, func() {
		m.evict(playerID)
	})
}

// cancelEvictionLocked stops a pending eviction because the player
// logged back in.
func (m *Monitor) cancelEvictionLocked(playerID string) {
	if h, ok := m.evictions[playerID]; ok {
		h.Stop()
		delete(m.evictions, playerID)
	}
}

// evict removes a long-offline player and their offline characters
// from memory. Unsynced closed sessions are flushed first; if that
// write fails the eviction is rescheduled rather than dropping data.
func (m *Monitor) evict(playerID string) {
	ctx := context.Background()

	type pending struct {
		col    store.Collection
		id     string
		closed []session.Session
	}

	m.mu.Lock()
	delete(m.evictions, playerID)
	p := m.players[playerID]
	if p == nil || m.onlinePlayers[playerID] != nil {
		m.mu.Unlock()
		return
	}

	var victims []string
	for _, cid := range p.Characters {
		c := m.characters[cid]
		if c == nil || m.onlineCharacters[cid] != nil {
			continue
		}
		victims = append(victims, cid)
	}

	var writes []pending
	if closed := p.Logs.UnsyncedClosed(); len(closed) > 0 {
		writes = append(writes, pending{store.Players, playerID, closed})
	}
	for _, cid := range victims {
		if closed := m.characters[cid].Logs.UnsyncedClosed(); len(closed) > 0 {
			writes = append(writes, pending{store.Characters, cid, closed})
		}
	}
	m.mu.Unlock()

	for _, w := range writes {
		if err := m.store.AppendLogs(ctx, w.col, w.id, w.closed); err != nil {
			metrics.StoreWriteErrors.WithLabelValues("eviction_flush").Inc()
			m.log.WithError(err).WithField("player", playerID).Error("eviction flush failed, rescheduling")
			m.mu.Lock()
			m.evictions[playerID] = m.after(m.evictAfter, func() {
				m.evict(playerID)
			})
			m.mu.Unlock()
			return
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.onlinePlayers[playerID] != nil {
		// Logged back in while the flush was running.
		return
	}
	delete(m.players, playerID)
	removed := 1
	for _, cid := range victims {
		if m.onlineCharacters[cid] == nil {
			delete(m.characters, cid)
			removed++
		}
	}
	metrics.EvictionsTotal.Add(float64(removed))
	m.log.WithField("player", playerID).Debug("evicted offline player")
}
