// Package peer implements the websocket channels between instances.
package peer

import (
	"context"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/alpacahq/peersync/metrics"
	"github.com/alpacahq/peersync/replication"
	"github.com/alpacahq/peersync/utils/log"
)

const (
	// Path is the HTTP path peers connect to.
	Path = "/peer"
	// HeaderInstance carries the identity of the connecting instance.
	HeaderInstance = "X-Peersync-Instance"

	writeWait        = 10 * time.Second
	handshakeTimeout = 10 * time.Second
)

// State is the connection state of a peer.
type State int32

const (
	StateDisconnected State = iota
	StateConnected
)

func (s State) String() string {
	if s == StateConnected {
		return "connected"
	}
	return "disconnected"
}

// Config holds the settings shared by every outbound peer connection.
type Config struct {
	Self             string
	QueueSize        int
	PingInterval     time.Duration
	RetryInterval    time.Duration
	RetryMaxInterval time.Duration
	BackoffCoeff     int
}

type frame struct {
	data   []byte
	binary bool
}

// Conn is the outbound channel to one peer. It keeps reconnecting with backoff
// until closed. Frames are queued in a bounded buffer drained by a single writer.
type Conn struct {
	addr   string
	url    string
	cfg    Config
	queue  chan frame
	state  atomic.Int32
	cancel context.CancelFunc
	done   chan struct{}
	dialer *websocket.Dialer
}

// Dial starts connecting to the peer listening on addr (host:port).
func Dial(addr string, cfg Config) *Conn {
	return dial(addr, addr, cfg)
}

// dial connects to target while identifying the connection as addr.
func dial(addr, target string, cfg Config) *Conn {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 500
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		addr:   addr,
		url:    (&url.URL{Scheme: "ws", Host: target, Path: Path}).String(),
		cfg:    cfg,
		queue:  make(chan frame, cfg.QueueSize),
		cancel: cancel,
		done:   make(chan struct{}),
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
	}
	go c.run(ctx)
	return c
}

func (c *Conn) Addr() string {
	return c.addr
}

func (c *Conn) State() State {
	return State(c.state.Load())
}

// Send queues a frame without blocking. It fails when the peer is disconnected or its queue is full.
func (c *Conn) Send(data []byte, binary bool) error {
	if c.State() != StateConnected {
		return replication.ErrPeerDisconnected
	}
	select {
	case c.queue <- frame{data: data, binary: binary}:
		return nil
	default:
		return replication.ErrPeerQueueFull
	}
}

// Close stops the connection and waits for its goroutine to exit.
func (c *Conn) Close() {
	c.cancel()
	<-c.done
}

func (c *Conn) run(ctx context.Context) {
	defer close(c.done)

	var lostAt time.Time
	for {
		ws, err := c.connect(ctx)
		if err != nil {
			return
		}
		c.setState(StateConnected)
		if lostAt.IsZero() {
			log.Info("connected to peer %s", c.addr)
		} else {
			metrics.PeerReconnectsTotal.Inc()
			log.Info("reconnected to peer %s after %s", c.addr, time.Since(lostAt))
		}

		err = c.pump(ctx, ws)
		c.setState(StateDisconnected)
		_ = ws.Close()
		if n := c.discardQueue(); n > 0 {
			metrics.BroadcastDroppedTotal.WithLabelValues("disconnected").Add(float64(n))
			log.Warn("dropped %d queued changes for peer %s", n, c.addr)
		}

		if ctx.Err() != nil {
			return
		}
		log.Warn("connection to peer %s lost: %v", c.addr, err)
		lostAt = time.Now()
	}
}

func (c *Conn) connect(ctx context.Context) (*websocket.Conn, error) {
	var ws *websocket.Conn
	header := http.Header{}
	header.Set(HeaderInstance, c.cfg.Self)

	r := replication.NewRetryer(func(ctx context.Context) error {
		conn, resp, err := c.dialer.DialContext(ctx, c.url, header)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err != nil {
			return errors.Wrapf(replication.ErrRetryable, "dial peer %s: %v", c.addr, err)
		}
		ws = conn
		return nil
	}, c.cfg.RetryInterval, c.cfg.RetryMaxInterval, c.cfg.BackoffCoeff)

	if err := r.Run(ctx); err != nil {
		return nil, err
	}
	return ws, nil
}

// pump is the only writer of ws. It returns when ctx is done or the connection fails.
func (c *Conn) pump(ctx context.Context, ws *websocket.Conn) error {
	readErr := make(chan error, 1)
	go func() {
		// peers don't send anything back; reading processes control frames and detects closure
		for {
			if _, _, err := ws.NextReader(); err != nil {
				readErr <- err
				return
			}
		}
	}()

	var ping <-chan time.Time
	if c.cfg.PingInterval > 0 {
		ticker := time.NewTicker(c.cfg.PingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"),
				time.Now().Add(writeWait))
			return ctx.Err()
		case err := <-readErr:
			return err
		case f := <-c.queue:
			msgType := websocket.TextMessage
			if f.binary {
				msgType = websocket.BinaryMessage
			}
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(msgType, f.data); err != nil {
				metrics.BroadcastDroppedTotal.WithLabelValues("write").Inc()
				return errors.Wrap(err, "write change")
			}
		case <-ping:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return errors.Wrap(err, "ping")
			}
		}
	}
}

func (c *Conn) discardQueue() int {
	n := 0
	for {
		select {
		case <-c.queue:
			n++
		default:
			return n
		}
	}
}

func (c *Conn) setState(s State) {
	prev := State(c.state.Swap(int32(s)))
	if prev == s {
		return
	}
	if s == StateConnected {
		metrics.PeersConnected.Inc()
	} else {
		metrics.PeersConnected.Dec()
	}
}
