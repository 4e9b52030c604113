package monitor

import (
	"context"
	"time"

	"github.com/corvase/sinfarwatch/internal/feed"
	"github.com/corvase/sinfarwatch/internal/metrics"
	"github.com/corvase/sinfarwatch/internal/roster"
	"github.com/corvase/sinfarwatch/internal/session"
	"github.com/corvase/sinfarwatch/internal/store"
)

// cycleChanges collects what one diff pass decided, handed from the
// locked apply step to the unlocked reconcile step.
type cycleChanges struct {
	events         []Event
	leftPlayers    []string
	leftCharacters []string
}

// Update runs one poll cycle: fetch the online snapshot, diff it
// against the previous one, flush the write-behind queues, and push
// session closes for entities that left. A fetch or parse failure
// aborts the cycle without mutating any state; the next scheduled
// cycle proceeds normally.
func (m *Monitor) Update(ctx context.Context) ([]Event, error) {
	start := time.Now()
	defer func() {
		metrics.PollCycleDuration.Observe(time.Since(start).Seconds())
	}()

	entries, err := m.feed.OnlineSnapshot(ctx)
	if err != nil {
		metrics.PollCycleErrors.Inc()
		return nil, err
	}

	// Cancellation after the fetch means shutdown has begun; the
	// snapshot is stale and must not touch state.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ch := m.apply(entries)
	m.logEvents(ch.events)
	m.reconcile(ctx, ch)

	m.mu.Lock()
	m.firstCycleDone = true
	m.mu.Unlock()

	metrics.PollCyclesTotal.Inc()
	metrics.LastPollSuccess.Set(float64(m.clock.Now().Unix()))

	if m.backupDue() {
		m.backup(ctx)
	}
	return ch.events, nil
}

// apply is the diff pass: one iteration over the feed entries builds
// the new online snapshots, opens sessions for entities that joined,
// closes sessions for entities that left, and swaps the snapshots in.
func (m *Monitor) apply(entries []feed.Entry) cycleChanges {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	gap := m.gapLocked()

	newPlayers := make(map[string]*roster.OnlinePlayer, len(entries))
	newCharacters := make(map[string]*roster.OnlineCharacter)
	var ch cycleChanges

	for _, e := range entries {
		op := newPlayers[e.PlayerID]
		firstSlot := op == nil
		if firstSlot {
			op = &roster.OnlinePlayer{ID: e.PlayerID, Name: e.PlayerName}
			newPlayers[e.PlayerID] = op
		}

		client := roster.Client{ID: e.ChatClient, Name: roster.WorldName(e.ChatClient)}
		if e.PCID != "" {
			client.Character = &roster.CharacterRef{ID: e.PCID, Name: e.PCName}
		}
		op.Clients = append(op.Clients, client)

		p := m.players[e.PlayerID]
		if p == nil {
			p = roster.NewPlayer(e.PlayerID, e.PlayerName, e.Portrait, e.PCID != "")
			m.players[e.PlayerID] = p
		}

		// First feed entry for a character wins for display data.
		var oc *roster.OnlineCharacter
		characterFirstSeen := false
		if e.PCID != "" {
			oc = newCharacters[e.PCID]
			if oc == nil {
				oc = &roster.OnlineCharacter{
					ID:       e.PCID,
					Name:     e.PCName,
					Portrait: e.Portrait,
					Client:   roster.Client{ID: e.ChatClient, Name: roster.WorldName(e.ChatClient)},
					Player:   roster.PlayerRef{ID: op.ID, Name: op.Name},
				}
				newCharacters[e.PCID] = oc
				characterFirstSeen = true
			}
		}

		if m.onlinePlayers[e.PlayerID] == nil && firstSlot {
			// Player just logged in.
			if !p.Logs.HasOpen() {
				p.Logs = session.Open(p.Logs, now, gap)
			}
			m.cancelEvictionLocked(e.PlayerID)
			m.store.QueuePlayer(store.PlayerRecord{ID: p.ID, Name: p.Name, Portrait: p.Portrait})
			m.pendingPlayers[p.ID] = struct{}{}

			if oc == nil {
				// Logged in without a character (webclient login).
				ch.events = append(ch.events, Event{
					Type:       EventPlayerLogin,
					PlayerID:   op.ID,
					PlayerName: op.Name,
					World:      op.LatestClient().Name,
				})
			}
		}

		if oc != nil && characterFirstSeen {
			prev := m.onlineCharacters[oc.ID]
			if prev == nil {
				// Character just logged in.
				m.characterJoinedLocked(p, e, now, gap)
				ch.events = append(ch.events, Event{
					Type:          EventCharacterLogin,
					PlayerID:      oc.Player.ID,
					PlayerName:    oc.Player.Name,
					CharacterID:   oc.ID,
					CharacterName: oc.Name,
					World:         oc.Client.Name,
				})
			} else if prev.Client.ID != oc.Client.ID {
				// Same session, different server.
				ch.events = append(ch.events, Event{
					Type:          EventCharacterSwitch,
					PlayerID:      oc.Player.ID,
					PlayerName:    oc.Player.Name,
					CharacterID:   oc.ID,
					CharacterName: oc.Name,
					World:         oc.Client.Name,
					FromWorld:     prev.Client.Name,
				})
			}
		}
	}

	// Characters that are no longer online.
	for id, prev := range m.onlineCharacters {
		if newCharacters[id] != nil {
			continue
		}
		c := m.characters[id]
		if c == nil {
			continue
		}
		c.Logs = session.Close(c.Logs, now)
		ch.leftCharacters = append(ch.leftCharacters, id)
		ch.events = append(ch.events, Event{
			Type:          EventCharacterLogout,
			PlayerID:      prev.Player.ID,
			PlayerName:    prev.Player.Name,
			CharacterID:   id,
			CharacterName: prev.Name,
			World:         prev.Client.Name,
			PlayerQuit:    newPlayers[prev.Player.ID] == nil,
		})
	}

	// Players that are no longer online.
	for id, prev := range m.onlinePlayers {
		if newPlayers[id] != nil {
			continue
		}
		p := m.players[id]
		if p == nil {
			continue
		}
		p.Logs = session.Close(p.Logs, now)
		ch.leftPlayers = append(ch.leftPlayers, id)
		m.scheduleEvictionLocked(id)

		// A plain logout is only reported when the lone client slot
		// carried no character; otherwise the character logout above
		// already covered it.
		if len(prev.Clients) == 1 && prev.LatestClient().Character == nil {
			ch.events = append(ch.events, Event{
				Type:       EventPlayerLogout,
				PlayerID:   id,
				PlayerName: prev.Name,
				World:      prev.LatestClient().Name,
			})
		}
	}

	m.onlinePlayers = newPlayers
	m.onlineCharacters = newCharacters
	metrics.OnlinePlayers.Set(float64(len(newPlayers)))
	metrics.OnlineCharacters.Set(float64(len(newCharacters)))
	return ch
}

// characterJoinedLocked opens the character's session, records the
// player relation, and queues the character for persistence. A
// relation discovered while the character's row creation is still in
// flight is staged and flushed by the added callback.
func (m *Monitor) characterJoinedLocked(p *roster.Player, e feed.Entry, now time.Time, gap time.Duration) {
	c := m.characters[e.PCID]
	if c == nil {
		c = roster.NewCharacter(e.PCID, e.PlayerID, e.PCName, e.Portrait)
		m.characters[e.PCID] = c
	}

	if !c.Logs.HasOpen() {
		c.Logs = session.Open(c.Logs, now, gap)
	}

	_, alreadyPending := m.pendingCharacters[c.ID]
	p.AddCharacter(c.ID)
	newRelation := c.AddPlayer(p.ID)

	if alreadyPending {
		if newRelation {
			c.StagePlayer(p.ID)
		}
		return
	}
	m.store.QueueCharacter(store.CharacterRecord{
		ID:          c.ID,
		Name:        c.Name,
		Portrait:    c.Portrait,
		Description: c.Description,
		PlayerIDs:   append([]string(nil), c.Players...),
	})
	m.pendingCharacters[c.ID] = struct{}{}
}
