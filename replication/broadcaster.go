package replication

import (
	"github.com/pkg/errors"

	"github.com/alpacahq/peersync/metrics"
	"github.com/alpacahq/peersync/models"
	"github.com/alpacahq/peersync/utils/log"
)

var (
	// ErrPeerDisconnected is returned by Peer.Send while the peer is unreachable.
	ErrPeerDisconnected = errors.New("peer is disconnected")
	// ErrPeerQueueFull is returned by Peer.Send when the outbound queue is full.
	ErrPeerQueueFull = errors.New("peer outbound queue is full")
)

// Peer is an addressed outbound channel to another instance.
// Send must not block.
type Peer interface {
	Addr() string
	Send(data []byte, binary bool) error
}

// PeerSet returns the peers currently known. It may change between calls.
type PeerSet interface {
	Peers() []Peer
}

// Broadcaster sends every change originated by this instance to every peer.
type Broadcaster struct {
	self   string
	peers  PeerSet
	format WireFormat
}

func NewBroadcaster(self string, peers PeerSet, format WireFormat) *Broadcaster {
	if format == "" {
		format = WireJSON
	}
	return &Broadcaster{self: self, peers: peers, format: format}
}

// Handle is a bus.Handler.
func (b *Broadcaster) Handle(ev models.ChangeEvent) {
	if ev.Origin() != b.self {
		metrics.BroadcastSkippedTotal.Inc()
		log.Debug("not broadcasting change id=%s version=%d originated by %s", ev.ID(), ev.Version(), ev.Origin())
		return
	}

	data, err := EncodeWire(ev, b.format)
	if err != nil {
		metrics.BroadcastDroppedTotal.WithLabelValues("encode").Inc()
		log.Error("failed to encode change id=%s: %v", ev.ID(), err)
		return
	}

	for _, p := range b.peers.Peers() {
		if err := p.Send(data, b.format.Binary()); err != nil {
			reason := "disconnected"
			if errors.Is(err, ErrPeerQueueFull) {
				reason = "queue_full"
			}
			metrics.BroadcastDroppedTotal.WithLabelValues(reason).Inc()
			log.Warn("change %s id=%s version=%d not sent to peer %s: %v",
				ev.Operation(), ev.ID(), ev.Version(), p.Addr(), err)
			continue
		}
		metrics.BroadcastSentTotal.Inc()
	}
}
