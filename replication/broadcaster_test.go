package replication_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpacahq/peersync/models"
	"github.com/alpacahq/peersync/replication"
)

type fakePeer struct {
	addr string
	err  error

	mu     sync.Mutex
	frames [][]byte
	binary []bool
}

func (p *fakePeer) Addr() string { return p.addr }

func (p *fakePeer) Send(data []byte, binary bool) error {
	if p.err != nil {
		return p.err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames = append(p.frames, data)
	p.binary = append(p.binary, binary)
	return nil
}

func (p *fakePeer) sent() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.frames)
}

type fakePeerSet []replication.Peer

func (s fakePeerSet) Peers() []replication.Peer { return s }

func TestBroadcaster_SendsLocalChangesToEveryPeer(t *testing.T) {
	t.Parallel()

	// --- given ---
	down := &fakePeer{addr: "c:8080", err: replication.ErrPeerDisconnected}
	full := &fakePeer{addr: "d:8080", err: replication.ErrPeerQueueFull}
	b1, b2 := &fakePeer{addr: "b:8080"}, &fakePeer{addr: "e:8080"}
	br := replication.NewBroadcaster("a", fakePeerSet{b1, down, full, b2}, replication.WireMsgpack)

	// --- when ---
	br.Handle(models.NewChangeEvent(models.OpInsert, models.Record{ID: "1", Version: 1, Origin: "a"}, nil, "a", time.Now()))

	// --- then ---
	// an unavailable peer doesn't prevent delivery to the next ones
	require.Equal(t, 1, b1.sent())
	require.Equal(t, 1, b2.sent())
	assert.True(t, b1.binary[0])
	ev, err := replication.DecodeWire(b1.frames[0], true)
	require.NoError(t, err)
	assert.Equal(t, "a", ev.Origin())
	assert.Equal(t, "1", ev.ID())
}

func TestBroadcaster_NeverRebroadcastsRemoteChanges(t *testing.T) {
	t.Parallel()

	// --- given ---
	p := &fakePeer{addr: "b:8080"}
	br := replication.NewBroadcaster("a", fakePeerSet{p}, replication.WireJSON)

	// --- when ---
	// a change applied from peer "c" re-fires the local trigger tagged with origin "c"
	br.Handle(models.NewChangeEvent(models.OpUpdate, models.Record{ID: "1", Version: 2, Origin: "c"}, nil, "c", time.Now()))

	// --- then ---
	assert.Zero(t, p.sent())
}
