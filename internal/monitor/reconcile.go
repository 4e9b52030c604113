package monitor

import (
	"context"

	"github.com/corvase/sinfarwatch/internal/metrics"
	"github.com/corvase/sinfarwatch/internal/session"
	"github.com/corvase/sinfarwatch/internal/store"
)

// reconcile drains the write-behind queues and pushes session closes
// for entities that left this cycle. Players flush before characters
// because character rows reference player ids created by the player
// flush. Store failures are logged and left in place; the untouched
// queue and unsynced flags make the next cycle retry.
func (m *Monitor) reconcile(ctx context.Context, ch cycleChanges) {
	if m.store.QueuedCount(store.Players) > 0 {
		err := m.store.FindOrAddQueuedPlayers(ctx, m.playerFound(ctx), m.playerAdded(ctx))
		if err != nil {
			metrics.StoreWriteErrors.WithLabelValues("flush_players").Inc()
			m.log.WithError(err).Error("player queue flush failed")
		} else {
			metrics.QueueFlushes.WithLabelValues(string(store.Players)).Inc()
			m.log.Debug("player db retrieval completed")
		}
	}

	if m.store.QueuedCount(store.Characters) > 0 {
		err := m.store.FindOrAddQueuedCharacters(ctx, m.characterFound(ctx), m.characterAdded(ctx))
		if err != nil {
			metrics.StoreWriteErrors.WithLabelValues("flush_characters").Inc()
			m.log.WithError(err).Error("character queue flush failed")
		} else {
			metrics.QueueFlushes.WithLabelValues(string(store.Characters)).Inc()
			m.log.Debug("character db retrieval completed")
		}
	}

	for _, id := range ch.leftPlayers {
		m.pushPlayerLogs(ctx, id)
	}
	for _, id := range ch.leftCharacters {
		m.pushCharacterLogs(ctx, id)
	}

	m.flushDirty(ctx)
}

// playerFound reconciles a player whose row already existed when the
// queue flushed: merge the store's latest session into local activity
// and push anything closed in the meantime.
func (m *Monitor) playerFound(ctx context.Context) func(store.PlayerRecord) {
	return func(rec store.PlayerRecord) {
		m.mu.Lock()
		delete(m.pendingPlayers, rec.ID)
		p := m.players[rec.ID]
		if p == nil {
			m.mu.Unlock()
			return
		}
		p.ReconcilePortrait(rec.Portrait)
		p.Logs, _ = session.MergeStoreTail(p.Logs, rec.LastLog, m.gapLocked())
		closed := append([]session.Session(nil), p.Logs.UnsyncedClosed()...)
		m.mu.Unlock()

		m.appendAndCompactPlayer(ctx, rec.ID, closed)
		m.log.WithField("player", rec.Name).Debug("retrieved player")
	}
}

// playerAdded runs after a queued player's row was inserted. A fresh
// row already carries every updatable field, so the record is clean.
func (m *Monitor) playerAdded(ctx context.Context) func(store.PlayerRecord) {
	return func(rec store.PlayerRecord) {
		m.mu.Lock()
		delete(m.pendingPlayers, rec.ID)
		p := m.players[rec.ID]
		if p == nil {
			m.mu.Unlock()
			return
		}
		p.Dirty = false
		p.Logs, _ = session.MergeStoreTail(p.Logs, rec.LastLog, m.gapLocked())
		closed := append([]session.Session(nil), p.Logs.UnsyncedClosed()...)
		m.mu.Unlock()

		m.appendAndCompactPlayer(ctx, rec.ID, closed)
		m.log.WithField("player", rec.Name).Debug("added player")
	}
}

func (m *Monitor) characterFound(ctx context.Context) func(store.CharacterRecord) {
	return func(rec store.CharacterRecord) {
		m.reconcileCharacter(ctx, rec)
		m.log.WithField("character", rec.Name).Debug("retrieved character")
	}
}

func (m *Monitor) characterAdded(ctx context.Context) func(store.CharacterRecord) {
	return func(rec store.CharacterRecord) {
		m.reconcileCharacter(ctx, rec)
		m.log.WithField("character", rec.Name).Debug("added character")
	}
}

// reconcileCharacter merges a store row into the local character:
// relations both ways, attribute dirtiness, and the session-log tail.
// The bio is refreshed asynchronously afterwards.
func (m *Monitor) reconcileCharacter(ctx context.Context, rec store.CharacterRecord) {
	m.mu.Lock()
	delete(m.pendingCharacters, rec.ID)
	c := m.characters[rec.ID]
	if c == nil {
		m.mu.Unlock()
		return
	}
	if c.Description == "" {
		c.Description = rec.Description
	}
	c.ReconcileAttributes(rec.Name, rec.Portrait)
	c.MergePlayers(rec.PlayerIDs)
	c.TakePendingPlayers()

	// Relations known locally but missing from the store.
	stored := make(map[string]struct{}, len(rec.PlayerIDs))
	for _, id := range rec.PlayerIDs {
		stored[id] = struct{}{}
	}
	var missing []string
	for _, id := range c.Players {
		if _, ok := stored[id]; !ok {
			missing = append(missing, id)
		}
	}

	c.Logs, _ = session.MergeStoreTail(c.Logs, rec.LastLog, m.gapLocked())
	closed := append([]session.Session(nil), c.Logs.UnsyncedClosed()...)
	m.mu.Unlock()

	for _, playerID := range missing {
		if err := m.store.AddRelation(ctx, playerID, rec.ID); err != nil {
			metrics.StoreWriteErrors.WithLabelValues("add_relation").Inc()
			m.log.WithError(err).Error("add relation failed")
		}
	}

	m.appendAndCompactCharacter(ctx, rec.ID, closed)
	m.fetchBio(ctx, rec.ID)
}

// pushPlayerLogs persists the closed sessions of a player that just
// left. Skipped while the player's row creation is still pending; the
// flush path carries the logs in that case.
func (m *Monitor) pushPlayerLogs(ctx context.Context, id string) {
	m.mu.Lock()
	if _, pending := m.pendingPlayers[id]; pending {
		m.mu.Unlock()
		return
	}
	p := m.players[id]
	if p == nil {
		m.mu.Unlock()
		return
	}
	closed := append([]session.Session(nil), p.Logs.UnsyncedClosed()...)
	m.mu.Unlock()

	m.appendAndCompactPlayer(ctx, id, closed)
}

func (m *Monitor) pushCharacterLogs(ctx context.Context, id string) {
	m.mu.Lock()
	if _, pending := m.pendingCharacters[id]; pending {
		m.mu.Unlock()
		return
	}
	c := m.characters[id]
	if c == nil {
		m.mu.Unlock()
		return
	}
	closed := append([]session.Session(nil), c.Logs.UnsyncedClosed()...)
	m.mu.Unlock()

	m.appendAndCompactCharacter(ctx, id, closed)
}

func (m *Monitor) appendAndCompactPlayer(ctx context.Context, id string, closed []session.Session) {
	if len(closed) == 0 {
		return
	}
	if err := m.store.AppendLogs(ctx, store.Players, id, closed); err != nil {
		metrics.StoreWriteErrors.WithLabelValues("append_logs").Inc()
		m.log.WithError(err).WithField("player", id).Error("append player logs failed")
		return
	}
	m.mu.Lock()
	if p := m.players[id]; p != nil {
		p.Logs = session.Compact(p.Logs)
	}
	m.mu.Unlock()
}

func (m *Monitor) appendAndCompactCharacter(ctx context.Context, id string, closed []session.Session) {
	if len(closed) == 0 {
		return
	}
	if err := m.store.AppendLogs(ctx, store.Characters, id, closed); err != nil {
		metrics.StoreWriteErrors.WithLabelValues("append_logs").Inc()
		m.log.WithError(err).WithField("character", id).Error("append character logs failed")
		return
	}
	m.mu.Lock()
	if c := m.characters[id]; c != nil {
		c.Logs = session.Compact(c.Logs)
	}
	m.mu.Unlock()
}

// flushDirty pushes changed attributes to the store. Memory holds the
// newest values, so a failed update just leaves the flag set for the
// next attempt.
func (m *Monitor) flushDirty(ctx context.Context) {
	type playerUpdate struct{ id, portrait string }
	type characterUpdate struct{ id, name, portrait, description string }

	m.mu.Lock()
	var pUpdates []playerUpdate
	for id, p := range m.players {
		if p.Dirty {
			if _, pending := m.pendingPlayers[id]; pending {
				continue
			}
			pUpdates = append(pUpdates, playerUpdate{id, p.Portrait})
		}
	}
	var cUpdates []characterUpdate
	for id, c := range m.characters {
		if c.Dirty {
			if _, pending := m.pendingCharacters[id]; pending {
				continue
			}
			cUpdates = append(cUpdates, characterUpdate{id, c.Name, c.Portrait, c.Description})
		}
	}
	m.mu.Unlock()

	for _, u := range pUpdates {
		if err := m.store.UpdatePlayer(ctx, u.id, u.portrait); err != nil {
			metrics.StoreWriteErrors.WithLabelValues("update_player").Inc()
			m.log.WithError(err).WithField("player", u.id).Error("player update failed")
			continue
		}
		m.mu.Lock()
		if p := m.players[u.id]; p != nil {
			p.Dirty = false
		}
		m.mu.Unlock()
	}
	for _, u := range cUpdates {
		if err := m.store.UpdateCharacter(ctx, u.id, u.name, u.portrait, u.description); err != nil {
			metrics.StoreWriteErrors.WithLabelValues("update_character").Inc()
			m.log.WithError(err).WithField("character", u.id).Error("character update failed")
			continue
		}
		m.mu.Lock()
		if c := m.characters[u.id]; c != nil {
			c.Dirty = false
		}
		m.mu.Unlock()
	}
}

// fetchBio refreshes a character's description off the critical path.
// The next dirty flush carries any change to the store.
func (m *Monitor) fetchBio(ctx context.Context, id string) {
	m.bioWG.Add(1)
	metrics.BioRequestsInFlight.Inc()
	go func() {
		defer m.bioWG.Done()
		defer metrics.BioRequestsInFlight.Dec()

		bio, err := m.feed.CharacterBio(ctx, id)
		if err != nil {
			m.log.WithError(err).WithField("character", id).Warn("character bio fetch failed")
			return
		}
		m.mu.Lock()
		if c := m.characters[id]; c != nil {
			c.SetDescription(bio)
		}
		m.mu.Unlock()
	}()
}
