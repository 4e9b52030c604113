package roster

// Client is one connected client slot reported by the feed.
type Client struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Character *CharacterRef `json:"character,omitempty"`
}

// CharacterRef identifies the character active on a client slot.
type CharacterRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// PlayerRef identifies the player controlling an online character.
type PlayerRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// OnlinePlayer is one entry in the transient online-player snapshot.
// Clients accumulate in feed order; the last appended is the latest.
type OnlinePlayer struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Clients []Client `json:"clients"`
}

// LatestClient returns the most recently appended client slot.
func (p *OnlinePlayer) LatestClient() Client {
	return p.Clients[len(p.Clients)-1]
}

// OnlineCharacter is one entry in the transient online-character
// snapshot. The first feed entry for a character wins.
type OnlineCharacter struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Portrait string    `json:"portrait,omitempty"`
	Client   Client    `json:"client"`
	Player   PlayerRef `json:"player"`
}

// worldNames maps chat client ids to server world names.
var worldNames = map[string]string{
	"web":  "Webclient",
	"5121": "Sinfar",
	"5122": "The Dreaded Lands",
	"5123": "Sinfar's Outer Isles",
	"5124": "Arche Terre",
}

// WorldName resolves a chat client id to a display name. An empty id
// means the entity is offline; unknown ids map to "Other".
func WorldName(clientID string) string {
	if name, ok := worldNames[clientID]; ok {
		return name
	}
	if clientID == "" {
		return "Offline"
	}
	return "Other"
}
