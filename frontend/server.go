package frontend

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alpacahq/peersync/models"
	"github.com/alpacahq/peersync/peer"
)

// Store is the part of the record store exposed over HTTP.
type Store interface {
	Ping(ctx context.Context) error
	GetUnsynced(ctx context.Context) ([]models.Record, error)
	MarkSynced(ctx context.Context, id string) error
}

type ListenerStatus interface {
	Connected() bool
}

type PeerStates interface {
	States() map[string]peer.State
}

type InboundPeers interface {
	Connections() []string
}

// Server is the operational HTTP surface of an instance.
type Server struct {
	self      string
	startTime time.Time
	store     Store
	listener  ListenerStatus
	peers     PeerStates
	inbound   InboundPeers
}

func NewServer(self string, startTime time.Time, store Store, listener ListenerStatus, peers PeerStates,
	inbound InboundPeers,
) *Server {
	return &Server{
		self:      self,
		startTime: startTime,
		store:     store,
		listener:  listener,
		peers:     peers,
		inbound:   inbound,
	}
}

// Handler routes the HTTP endpoints. peerHandler serves the websocket endpoint peers connect to.
func (s *Server) Handler(peerHandler http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", s.health)
	r.Get("/records/unsynced", s.unsynced)
	r.Post("/records/{id}/synced", s.markSynced)
	r.Handle("/metrics", promhttp.Handler())
	if peerHandler != nil {
		r.Handle(peer.Path, peerHandler)
	}
	return r
}
