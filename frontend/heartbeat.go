package frontend

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/alpacahq/peersync/utils"
	"github.com/alpacahq/peersync/utils/log"
)

const (
	pingTimeout = 2 * time.Second

	listenerConnected    = "connected"
	listenerDisconnected = "disconnected"
)

type HeartbeatMessage struct {
	Status   string            `json:"status"`
	Instance string            `json:"instance"`
	Version  string            `json:"version"`
	GitHash  string            `json:"git_hash"`
	Uptime   string            `json:"uptime"`
	Database string            `json:"database"`
	Listener string            `json:"listener"`
	Peers    map[string]string `json:"peers"`
	Inbound  []string          `json:"inbound_peers"`
}

// health reports 200 while the database answers and the change listener is connected.
// Disconnected peers don't make the instance unhealthy.
func (s *Server) health(rw http.ResponseWriter, r *http.Request) {
	msg := HeartbeatMessage{
		Status:   "ok",
		Instance: s.self,
		Version:  utils.Tag,
		GitHash:  utils.GitHash,
		Uptime:   time.Since(s.startTime).String(),
		Database: "ok",
		Listener: listenerDisconnected,
		Peers:    map[string]string{},
		Inbound:  []string{},
	}

	ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		msg.Status = "unavailable"
		msg.Database = err.Error()
	}
	if s.listener.Connected() {
		msg.Listener = listenerConnected
	} else {
		msg.Status = "unavailable"
	}
	for addr, st := range s.peers.States() {
		msg.Peers[addr] = st.String()
	}
	if s.inbound != nil {
		msg.Inbound = append(msg.Inbound, s.inbound.Connections()...)
	}

	code := http.StatusOK
	if msg.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(rw, code, msg)
}

func writeJSON(rw http.ResponseWriter, code int, v interface{}) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(code)
	if err := json.NewEncoder(rw).Encode(v); err != nil {
		log.Error("failed to write response - Error: %v", err)
	}
}
