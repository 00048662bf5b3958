package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/vango-go/vai-livetranslate/pkg/gateway/config"
	"github.com/vango-go/vai-livetranslate/pkg/gateway/lifecycle"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// HubStats is the part of the room hub readiness reports on.
type HubStats interface {
	Stats() (rooms, peers int)
}

type ReadyHandler struct {
	Config    config.Config
	Lifecycle *lifecycle.Lifecycle
	Hub       HubStats
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK          bool     `json:"ok"`
		Draining    bool     `json:"draining,omitempty"`
		AuthEnabled bool     `json:"auth_enabled"`
		Backplane   bool     `json:"backplane"`
		Rooms       int      `json:"rooms"`
		Peers       int      `json:"peers"`
		Issues      []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 4)
	if h.Config.MaxPeersPerRoom <= 0 {
		issues = append(issues, "max_peers_per_room must be > 0")
	}
	if h.Config.MaxMessageBytes <= 0 {
		issues = append(issues, "max_message_bytes must be > 0")
	}
	if h.Config.OutboundQueueSize <= 0 {
		issues = append(issues, "outbound_queue_size must be > 0")
	}
	if h.Config.JoinTimeout <= 0 || h.Config.WSPingInterval <= 0 || h.Config.WSWriteTimeout <= 0 {
		issues = append(issues, "websocket timeouts must be > 0")
	}
	if h.Hub == nil {
		issues = append(issues, "room hub not configured")
	}

	resp := readyResp{
		AuthEnabled: h.Config.AuthEnabled(),
		Backplane:   h.Config.RedisURL != "",
		Draining:    h.Lifecycle.IsDraining(),
	}
	if h.Hub != nil {
		resp.Rooms, resp.Peers = h.Hub.Stats()
	}

	status := http.StatusOK
	switch {
	case len(issues) > 0:
		status = http.StatusInternalServerError
	case resp.Draining:
		status = http.StatusServiceUnavailable
	}
	resp.OK = status == http.StatusOK
	resp.Issues = issues

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
