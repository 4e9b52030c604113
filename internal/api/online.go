package api

import (
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/corvase/sinfarwatch/internal/roster"
)

// clientInfo identifies the client slot an online entry lives on.
type clientInfo struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

// OnlineEntry is one row of the merged online list: a character with
// its player, or a bare player connection.
type OnlineEntry struct {
	Portrait  string               `json:"portrait,omitempty"`
	Player    roster.PlayerRef     `json:"player"`
	Character *roster.CharacterRef `json:"character"`
	Client    clientInfo           `json:"client"`
	Joined    time.Time            `json:"joined"`
	Tagged    bool                 `json:"tagged"`
}

// handleOnline serves the merged online list. Ids passed as ?pid= and
// ?cid= (comma-separated) tag matching entries, which sort first.
func (s *Server) handleOnline(w http.ResponseWriter, r *http.Request) {
	taggedPlayers := splitTags(r.URL.Query().Get("pid"))
	taggedCharacters := splitTags(r.URL.Query().Get("cid"))

	players := s.presence.Players()
	characters := s.presence.Characters()
	onlinePlayers := s.presence.OnlinePlayers()
	onlineCharacters := s.presence.OnlineCharacters()

	list := make([]OnlineEntry, 0, len(onlinePlayers))

	// Players represented by an online character.
	characterPlayers := make(map[string]struct{})

	for id, oc := range onlineCharacters {
		characterPlayers[oc.Player.ID] = struct{}{}
		c, ok := characters[id]
		if !ok {
			continue
		}
		entry := OnlineEntry{
			Portrait:  c.Portrait,
			Player:    oc.Player,
			Character: &roster.CharacterRef{ID: oc.ID, Name: oc.Name},
			Client:    clientInfo{Name: oc.Client.Name, ID: oc.Client.ID},
			Tagged:    taggedCharacters[id] || taggedPlayers[oc.Player.ID],
		}
		if last := c.Logs.Last(); last != nil {
			entry.Joined = last.Joined
		}
		list = append(list, entry)
	}

	for id, op := range onlinePlayers {
		if _, ok := characterPlayers[id]; ok {
			continue
		}
		p, ok := players[id]
		if !ok {
			continue
		}
		latest := op.LatestClient()
		entry := OnlineEntry{
			Portrait: p.Portrait,
			Player:   roster.PlayerRef{ID: op.ID, Name: op.Name},
			Client:   clientInfo{Name: latest.Name, ID: latest.ID},
			Tagged:   taggedPlayers[id],
		}
		if last := p.Logs.Last(); last != nil {
			entry.Joined = last.Joined
		}
		list = append(list, entry)
	}

	// Tagged entries first, then plain players before characters, then
	// name, then oldest join.
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if a.Tagged != b.Tagged {
			return a.Tagged
		}
		if (a.Character == nil) != (b.Character == nil) {
			return a.Character == nil
		}
		an, bn := displayName(a), displayName(b)
		if an != bn {
			return an < bn
		}
		return a.Joined.Before(b.Joined)
	})

	writeJSON(w, http.StatusOK, list)
}

func displayName(e OnlineEntry) string {
	if e.Character != nil {
		return e.Character.Name
	}
	return e.Player.Name
}

func splitTags(raw string) map[string]bool {
	tags := make(map[string]bool)
	for _, id := range strings.Split(raw, ",") {
		if id != "" {
			tags[id] = true
		}
	}
	return tags
}
