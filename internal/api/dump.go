package api

import (
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"time"
)

// The dump endpoints mirror the raw in-memory maps. The JSON is
// HTML-escaped and served as text so a browser never interprets
// player-supplied names or bios as markup.

func (s *Server) handlePlayerDump(w http.ResponseWriter, r *http.Request) {
	s.writeDump(w, s.presence.Players())
}

func (s *Server) handleCharacterDump(w http.ResponseWriter, r *http.Request) {
	s.writeDump(w, s.presence.Characters())
}

func (s *Server) handleOnlinePlayerDump(w http.ResponseWriter, r *http.Request) {
	s.writeDump(w, s.presence.OnlinePlayers())
}

func (s *Server) handleOnlineCharacterDump(w http.ResponseWriter, r *http.Request) {
	s.writeDump(w, s.presence.OnlineCharacters())
}

func (s *Server) writeDump(w http.ResponseWriter, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.log.WithError(err).Error("dump marshal failed")
		writeError(w, http.StatusInternalServerError, "", nil)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(html.EscapeString(string(data))))
}

// handleUptime reports how long the process has been running.
func (s *Server) handleUptime(w http.ResponseWriter, r *http.Request) {
	up := time.Since(s.startTime)
	hrs := int(up.Hours())
	mins := int(up.Minutes()) % 60
	secs := int(up.Seconds()) % 60

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, "<h1>Up since %s</h1><h2>%d hrs, %d mins, %d secs</h2>",
		s.startTime.UTC().Format(time.RFC1123), hrs, mins, secs)
}
