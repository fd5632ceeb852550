package server

import (
	"encoding/json"
	"net/http"

	"github.com/Kamikozz/discord-bot-twitch-vods-links/session"
)

// HandleHealthz responds to liveness probe requests by checking database connectivity.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if h.DB != nil {
		if err := h.DB.PingContext(r.Context()); err != nil {
			http.Error(w, "unhealthy", http.StatusServiceUnavailable)
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type statusResponse struct {
	ActiveSessions   int                `json:"active_sessions"`
	HeartbeatRunning bool               `json:"heartbeat_running"`
	Sessions         []session.Snapshot `json:"sessions"`
}

// HandleStatus reports the live session table and heartbeat state.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		ActiveSessions: h.Sessions.ActiveCount(),
		Sessions:       h.Sessions.Snapshots(),
	}
	if h.Heartbeat != nil {
		resp.HeartbeatRunning = h.Heartbeat.IsRunning()
	}
	if resp.Sessions == nil {
		resp.Sessions = []session.Snapshot{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
