// Package roster holds the in-memory entity records tracked by the
// monitor (players and characters with their session logs) and the
// transient online-snapshot types rebuilt on every poll. Records are
// the source of truth for current values; the store is a lagging
// mirror, so mutation helpers track a dirty flag for the write-behind
// layer to flush.
package roster

import (
	"github.com/corvase/sinfarwatch/internal/session"
)

// Player is the persistent record for one player account.
type Player struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Portrait string `json:"portrait,omitempty"`

	// Characters the player has been seen playing. Additive only: the
	// feed cannot disambiguate which human controls a shared character.
	Characters []string `json:"characters"`

	Logs session.Log `json:"logs"`

	// Dirty marks attributes changed locally and not yet flushed.
	// Persisted so a restart retries the flush.
	Dirty bool `json:"dirty,omitempty"`
}

// Character is the persistent record for one in-game character.
type Character struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Portrait    string `json:"portrait,omitempty"`
	Description string `json:"description,omitempty"`

	// Players that have been seen playing this character. Additive only.
	Players []string `json:"players"`

	Logs session.Log `json:"logs"`

	Dirty bool `json:"dirty,omitempty"`

	// PendingPlayers stages relations discovered while the character's
	// store row is still being created. Flushed by the reconciliation
	// layer once the row exists; never serialized.
	PendingPlayers map[string]struct{} `json:"-"`
}

// NewPlayer creates a player record from a snapshot entry. The portrait
// is only trusted when the entry carries no character, since otherwise
// it belongs to the character.
func NewPlayer(id, name, portrait string, hasCharacter bool) *Player {
	p := &Player{ID: id, Name: name}
	if !hasCharacter {
		p.Portrait = portrait
	}
	return p
}

// NewCharacter creates a character record from a snapshot entry.
func NewCharacter(id, playerID, name, portrait string) *Character {
	return &Character{
		ID:       id,
		Name:     name,
		Portrait: portrait,
		Players:  []string{playerID},
	}
}

// AddCharacter links a character id to the player. Reports whether the
// relation was new.
func (p *Player) AddCharacter(characterID string) bool {
	return addUnique(&p.Characters, characterID)
}

// AddPlayer links a player id to the character. Reports whether the
// relation was new.
func (c *Character) AddPlayer(playerID string) bool {
	return addUnique(&c.Players, playerID)
}

// StagePlayer records a relation discovered while the character's store
// row creation is still in flight.
func (c *Character) StagePlayer(playerID string) {
	if c.PendingPlayers == nil {
		c.PendingPlayers = make(map[string]struct{})
	}
	c.PendingPlayers[playerID] = struct{}{}
}

// TakePendingPlayers returns and clears the staged relations.
func (c *Character) TakePendingPlayers() []string {
	if len(c.PendingPlayers) == 0 {
		return nil
	}
	out := make([]string, 0, len(c.PendingPlayers))
	for id := range c.PendingPlayers {
		out = append(out, id)
	}
	c.PendingPlayers = nil
	return out
}

// MergePlayers folds relation ids retrieved from the store into the
// local set.
func (c *Character) MergePlayers(ids []string) {
	for _, id := range ids {
		addUnique(&c.Players, id)
	}
}

// ReconcilePortrait marks the player dirty when the store's portrait
// lags the in-memory one. Memory holds the newest value.
func (p *Player) ReconcilePortrait(stored string) {
	if p.Portrait != "" && p.Portrait != stored {
		p.Dirty = true
	}
}

// ReconcileAttributes marks the character dirty when the store's name
// or portrait lags the in-memory values.
func (c *Character) ReconcileAttributes(storedName, storedPortrait string) {
	if c.Name != "" && c.Name != storedName {
		c.Dirty = true
	}
	if c.Portrait != "" && c.Portrait != storedPortrait {
		c.Dirty = true
	}
}

// SetDescription replaces the character bio, marking the record dirty
// on change.
func (c *Character) SetDescription(desc string) {
	if desc != c.Description {
		c.Description = desc
		c.Dirty = true
	}
}

func addUnique(ids *[]string, id string) bool {
	for _, existing := range *ids {
		if existing == id {
			return false
		}
	}
	*ids = append(*ids, id)
	return true
}
