package replication_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpacahq/peersync/bus"
	"github.com/alpacahq/peersync/models"
	"github.com/alpacahq/peersync/replication"
	"github.com/alpacahq/peersync/replication/mock"
)

// instance wires a store, a bus, a broadcaster and a receiver the way a running process does,
// with the change capture trigger played by the mock store.
type instance struct {
	id    string
	store *mock.Store
	bus   *bus.Bus
	recv  *replication.Receiver
	peers fakePeerSet
}

func newInstance(t *testing.T, id string, policy replication.DeletePolicy) *instance {
	t.Helper()
	in := &instance{id: id, store: mock.NewStore(id), bus: bus.New()}
	in.store.OnChange(in.bus.Publish)
	in.recv = replication.NewReceiver(id, replication.NewResolver(in.store, policy))
	t.Cleanup(in.bus.Close)
	return in
}

// directPeer hands frames straight to another instance's receiver.
type directPeer struct {
	to   *instance
	sent int64
}

func (p *directPeer) Addr() string { return p.to.id }

func (p *directPeer) Send(data []byte, binary bool) error {
	atomic.AddInt64(&p.sent, 1)
	p.to.recv.Handle(context.Background(), data, binary)
	return nil
}

func (p *directPeer) count() int64 { return atomic.LoadInt64(&p.sent) }

// connectPair fully connects a and b and starts both broadcasters.
func connectPair(a, b *instance, format replication.WireFormat) (aToB, bToA *directPeer) {
	aToB, bToA = &directPeer{to: b}, &directPeer{to: a}
	a.peers = fakePeerSet{aToB}
	b.peers = fakePeerSet{bToA}
	a.bus.Subscribe("broadcaster", replication.NewBroadcaster(a.id, a.peers, format).Handle)
	b.bus.Subscribe("broadcaster", replication.NewBroadcaster(b.id, b.peers, format).Handle)
	return aToB, bToA
}

func waitFor(t *testing.T, in *instance, id string, cond func(r models.Record, found bool) bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		r, err := in.store.Get(context.Background(), id)
		return cond(r, err == nil)
	}, 2*time.Second, 5*time.Millisecond)
}

func TestScenario_TwoInstancesConverge(t *testing.T) {
	t.Parallel()

	for _, format := range []replication.WireFormat{replication.WireJSON, replication.WireMsgpack} {
		format := format
		t.Run(string(format), func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()

			// --- given ---
			a := newInstance(t, "A", replication.DeleteUnconditional)
			b := newInstance(t, "B", replication.DeleteUnconditional)
			aToB, bToA := connectPair(a, b, format)

			// --- when: A creates alice ---
			rec, err := a.store.Create(ctx, "alice", "alice@example.com")
			require.NoError(t, err)
			assert.Equal(t, int64(1), rec.Version)
			assert.Equal(t, "A", rec.Origin)

			// --- then: B creates it with version 1 and origin A ---
			waitFor(t, b, rec.ID, func(r models.Record, found bool) bool {
				return found && r.Version == 1 && r.Origin == "A" && r.Username == "alice"
			})
			v1 := models.NewChangeEvent(models.OpInsert, rec, nil, "A", time.Now())

			// --- when: A updates to alice2 ---
			name := "alice2"
			rec, err = a.store.Update(ctx, rec.ID, models.RecordPatch{Username: &name})
			require.NoError(t, err)
			assert.Equal(t, int64(2), rec.Version)

			// --- then: B applies it (2 > 1) ---
			waitFor(t, b, rec.ID, func(r models.Record, found bool) bool {
				return found && r.Version == 2 && r.Username == "alice2" && r.Origin == "A"
			})

			// --- when: B receives a stale copy of the version 1 event ---
			stale, err := replication.EncodeWire(v1, format)
			require.NoError(t, err)
			b.recv.Handle(ctx, stale, format.Binary())

			// --- then: B ignores it (1 <= 2) ---
			got, err := b.store.Get(ctx, rec.ID)
			require.NoError(t, err)
			assert.Equal(t, int64(2), got.Version)
			assert.Equal(t, "alice2", got.Username)

			// loop freedom: B never sent back what it received from A
			assert.Equal(t, int64(2), aToB.count())
			assert.Zero(t, bToA.count())
		})
	}
}

func TestScenario_OutOfOrderDelete(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		policy     replication.DeletePolicy
		wantExists bool
	}{
		// Known defect: with unconditional deletes, a delete that refers to an older
		// version destroys the newer record. version_gated fixes it.
		"unconditional delete destroys the newer record": {policy: replication.DeleteUnconditional, wantExists: false},
		"version gated delete keeps the newer record":    {policy: replication.DeleteVersionGated, wantExists: true},
	}
	for name := range tests {
		tt := tests[name]
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()

			// --- given: B holds version 4 of a record created on A ---
			a := newInstance(t, "A", tt.policy)
			b := newInstance(t, "B", tt.policy)
			connectPair(a, b, replication.WireJSON)

			rec, err := a.store.Create(ctx, "alice", "")
			require.NoError(t, err)
			name := "alice2"
			rec, err = a.store.Update(ctx, rec.ID, models.RecordPatch{Username: &name})
			require.NoError(t, err)
			waitFor(t, b, rec.ID, func(r models.Record, found bool) bool { return found && r.Version == 2 })
			deleteV2 := models.NewChangeEvent(models.OpDelete, rec, &rec, "A", time.Now())

			for _, n := range []string{"bob", "carol"} {
				n := n
				_, err = b.store.Update(ctx, rec.ID, models.RecordPatch{Username: &n})
				require.NoError(t, err)
			}
			waitFor(t, a, rec.ID, func(r models.Record, found bool) bool { return found && r.Version == 4 })

			// --- when: B receives a delete that refers to version 2 ---
			data, err := replication.EncodeWire(deleteV2, replication.WireJSON)
			require.NoError(t, err)
			b.recv.Handle(ctx, data, false)

			// --- then ---
			got, err := b.store.Get(ctx, rec.ID)
			assert.Equal(t, tt.wantExists, err == nil)
			if tt.wantExists {
				assert.Equal(t, int64(4), got.Version)
				assert.Equal(t, "carol", got.Username)
			}
		})
	}
}

func TestScenario_LocalVersionStrictlyIncreases(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s := mock.NewStore("A")
	rec, err := s.Create(ctx, "alice", "")
	require.NoError(t, err)
	require.Equal(t, int64(1), rec.Version)

	for want := int64(2); want <= 10; want++ {
		name := "alice"
		rec, err = s.Update(ctx, rec.ID, models.RecordPatch{Username: &name})
		require.NoError(t, err)
		assert.Equal(t, want, rec.Version)
		assert.Equal(t, "A", rec.Origin)
	}
}
