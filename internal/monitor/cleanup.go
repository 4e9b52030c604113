package monitor

import (
	"context"

	"github.com/corvase/sinfarwatch/internal/metrics"
	"github.com/corvase/sinfarwatch/internal/roster"
	"github.com/corvase/sinfarwatch/internal/session"
	"github.com/corvase/sinfarwatch/internal/store"
)

// Cleanup is the shutdown drain: stop the eviction timers, close the
// session of everyone still online, and synchronously push every
// unsynced close to the store before the roster is snapshotted to
// file. Partial completion is tolerated; the gap-merge logic recovers
// short gaps as continuations on the next start.
func (m *Monitor) Cleanup(ctx context.Context) error {
	m.mu.Lock()
	now := m.clock.Now()

	for id, h := range m.evictions {
		h.Stop()
		delete(m.evictions, id)
	}

	for id := range m.onlineCharacters {
		if c := m.characters[id]; c != nil && c.Logs.HasOpen() {
			c.Logs = session.Close(c.Logs, now)
		}
	}
	for id := range m.onlinePlayers {
		if p := m.players[id]; p != nil && p.Logs.HasOpen() {
			p.Logs = session.Close(p.Logs, now)
		}
	}
	m.onlinePlayers = make(map[string]*roster.OnlinePlayer)
	m.onlineCharacters = make(map[string]*roster.OnlineCharacter)
	m.mu.Unlock()

	// Entities still awaiting row creation get flushed first so their
	// closes below have rows to attach to.
	var firstErr error
	if m.store.QueuedCount(store.Players) > 0 {
		if err := m.store.FindOrAddQueuedPlayers(ctx, m.playerFound(ctx), m.playerAdded(ctx)); err != nil {
			firstErr = err
			m.log.WithError(err).Error("shutdown player queue flush failed")
		}
	}
	if m.store.QueuedCount(store.Characters) > 0 {
		if err := m.store.FindOrAddQueuedCharacters(ctx, m.characterFound(ctx), m.characterAdded(ctx)); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			m.log.WithError(err).Error("shutdown character queue flush failed")
		}
	}

	type pendingWrite struct {
		col    store.Collection
		id     string
		closed []session.Session
	}

	m.mu.Lock()
	var writes []pendingWrite
	for id, p := range m.players {
		if closed := p.Logs.UnsyncedClosed(); len(closed) > 0 {
			writes = append(writes, pendingWrite{store.Players, id, closed})
		}
	}
	for id, c := range m.characters {
		if closed := c.Logs.UnsyncedClosed(); len(closed) > 0 {
			writes = append(writes, pendingWrite{store.Characters, id, closed})
		}
	}
	m.mu.Unlock()

	for _, w := range writes {
		if err := m.store.AppendLogs(ctx, w.col, w.id, w.closed); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			m.log.WithError(err).WithField("entity", w.id).Error("shutdown session push failed")
			continue
		}
		m.mu.Lock()
		switch w.col {
		case store.Players:
			if p := m.players[w.id]; p != nil {
				p.Logs = session.Compact(p.Logs)
			}
		case store.Characters:
			if c := m.characters[w.id]; c != nil {
				c.Logs = session.Compact(c.Logs)
			}
		}
		m.mu.Unlock()
	}

	m.bioWG.Wait()

	metrics.OnlinePlayers.Set(0)
	metrics.OnlineCharacters.Set(0)
	return firstErr
}
