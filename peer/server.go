package peer

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gobwas/glob"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/alpacahq/peersync/utils/log"
)

// MaxFrameSize is the largest inbound frame accepted. Larger frames close the connection.
const MaxFrameSize = 1 << 20

// MessageHandler processes one inbound frame. binary is true for binary frames.
type MessageHandler func(ctx context.Context, data []byte, binary bool)

// Server accepts inbound peer connections at Path and hands every frame to a MessageHandler.
// Frames of one connection are handled in order; connections are handled in parallel.
type Server struct {
	self     string
	allowed  []glob.Glob
	handler  MessageHandler
	pongWait time.Duration
	upgrader websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	conns  map[*websocket.Conn]string
	closed bool
}

// NewServer builds a Server. allowedPeers are glob patterns matched against the
// identity of the connecting instance; an empty list allows every instance.
// A connection that stays silent for pongWait, pings included, is closed.
func NewServer(self string, allowedPeers []string, pongWait time.Duration, handler MessageHandler) (*Server, error) {
	allowed := make([]glob.Glob, 0, len(allowedPeers))
	for _, p := range allowedPeers {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid allowed peer pattern %q", p)
		}
		allowed = append(allowed, g)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		self:     self,
		allowed:  allowed,
		handler:  handler,
		pongWait: pongWait,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		ctx:    ctx,
		cancel: cancel,
		conns:  map[*websocket.Conn]string{},
	}, nil
}

func (s *Server) allowedPeer(instance string) bool {
	if len(s.allowed) == 0 {
		return true
	}
	for _, g := range s.allowed {
		if g.Match(instance) {
			return true
		}
	}
	return false
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	instance := r.Header.Get(HeaderInstance)
	switch {
	case instance == "":
		http.Error(w, HeaderInstance+" header is required", http.StatusBadRequest)
		return
	case instance == s.self:
		http.Error(w, "refusing a connection from this instance", http.StatusConflict)
		return
	case !s.allowedPeer(instance):
		log.Warn("rejected peer connection from %s (%s)", instance, r.RemoteAddr)
		http.Error(w, "peer is not allowed", http.StatusForbidden)
		return
	}

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error("failed to upgrade peer socket (%v)", err)
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = ws.Close()
		return
	}
	s.conns[ws] = instance
	s.wg.Add(1)
	s.mu.Unlock()

	log.Info("new peer connection from %s (%s)", instance, ws.RemoteAddr())
	go s.consume(instance, ws)
}

func (s *Server) consume(instance string, ws *websocket.Conn) {
	defer func() {
		s.mu.Lock()
		delete(s.conns, ws)
		s.mu.Unlock()
		_ = ws.Close()
		s.wg.Done()
	}()

	ws.SetReadLimit(MaxFrameSize)
	extend := func() {
		if s.pongWait > 0 {
			_ = ws.SetReadDeadline(time.Now().Add(s.pongWait))
		}
	}
	extend()
	ws.SetPingHandler(func(appData string) error {
		extend()
		err := ws.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) &&
				s.ctx.Err() == nil {
				log.Warn("unexpected peer connection closure from %s (%v)", instance, err)
			}
			return
		}
		extend()

		switch msgType {
		case websocket.TextMessage:
			s.handler(s.ctx, data, false)
		case websocket.BinaryMessage:
			s.handler(s.ctx, data, true)
		}
	}
}

// Connections returns the identities of the connected inbound peers.
func (s *Server) Connections() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.conns))
	for _, instance := range s.conns {
		out = append(out, instance)
	}
	sort.Strings(out)
	return out
}

// Close disconnects every inbound peer and waits for their handlers to return.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	s.cancel()
	for ws := range s.conns {
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutdown"),
			time.Now().Add(writeWait))
		_ = ws.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
}
