package monitor

import "fmt"

// EventType classifies a presence change detected by one poll cycle.
type EventType int

const (
	EventPlayerLogin EventType = iota
	EventPlayerLogout
	EventCharacterLogin
	EventCharacterLogout
	EventCharacterSwitch
)

// Event is one presence change. Events are emitted in detection order:
// joins and switches in feed order, then character logouts, then player
// logouts.
type Event struct {
	Type          EventType
	PlayerID      string
	PlayerName    string
	CharacterID   string
	CharacterName string

	// World is the display name of the client the event happened on.
	// For a switch it is the destination; FromWorld is the origin.
	World     string
	FromWorld string

	// PlayerQuit marks a character logout where the player went fully
	// offline in the same cycle.
	PlayerQuit bool
}

// Message renders the event as the human-readable log line.
func (e Event) Message() string {
	switch e.Type {
	case EventPlayerLogin:
		return fmt.Sprintf("%s logged into %s", e.PlayerName, e.World)
	case EventPlayerLogout:
		return fmt.Sprintf("%s quit %s", e.PlayerName, e.World)
	case EventCharacterLogin:
		return fmt.Sprintf("%s logged into %s as %s", e.PlayerName, e.World, e.CharacterName)
	case EventCharacterSwitch:
		return fmt.Sprintf("%s as %s switched from %s to %s", e.PlayerName, e.CharacterName, e.FromWorld, e.World)
	case EventCharacterLogout:
		msg := fmt.Sprintf("%s logged off from %s as %s", e.PlayerName, e.World, e.CharacterName)
		if e.PlayerQuit {
			msg += " and quit"
		}
		return msg
	}
	return ""
}
