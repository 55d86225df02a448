package replication_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpacahq/peersync/models"
	"github.com/alpacahq/peersync/replication"
	"github.com/alpacahq/peersync/replication/mock"
)

func TestReceiver_DiscardsLoopback(t *testing.T) {
	t.Parallel()

	// --- given ---
	s := mock.NewStore("b")
	recv := replication.NewReceiver("b", replication.NewResolver(s, replication.DeleteUnconditional))

	// --- when ---
	outcome, err := recv.Apply(context.Background(), remoteEvent(models.OpInsert, "1", 1, "echo", "b"))

	// --- then ---
	require.NoError(t, err)
	assert.Empty(t, outcome)
	_, err = s.Get(context.Background(), "1")
	assert.Error(t, err, "an event originated by this instance must not be applied")
}

func TestReceiver_Handle(t *testing.T) {
	t.Parallel()

	// --- given ---
	s := mock.NewStore("b")
	recv := replication.NewReceiver("b", replication.NewResolver(s, replication.DeleteUnconditional))
	ctx := context.Background()

	insert, err := replication.EncodeWire(remoteEvent(models.OpInsert, "1", 1, "alice", "a"), replication.WireJSON)
	require.NoError(t, err)
	update, err := replication.EncodeWire(remoteEvent(models.OpUpdate, "1", 2, "alice2", "a"), replication.WireMsgpack)
	require.NoError(t, err)
	unknownOp := []byte(`{"event":"record.changed","operation":"TRUNCATE","record":{"id":"1","version":9},"origin_instance":"a"}`)
	unknownEvent := []byte(`{"event":"user.changed","operation":"DELETE","record":{"id":"1","version":9},"origin_instance":"a"}`)

	// --- when ---
	recv.Handle(ctx, insert, false)
	recv.Handle(ctx, unknownOp, false)
	recv.Handle(ctx, []byte("{"), false)
	recv.Handle(ctx, update, true)
	recv.Handle(ctx, unknownEvent, false)

	// --- then ---
	// rejected messages don't affect the others
	got, err := s.Get(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
	assert.Equal(t, "alice2", got.Username)
	assert.Equal(t, "a", got.Origin)
}

func TestReceiver_DispatchesDeletes(t *testing.T) {
	t.Parallel()

	s := mock.NewStore("b")
	s.Seed(models.Record{ID: "1", Version: 3, Origin: "a", UpdatedAt: time.Now()})
	recv := replication.NewReceiver("b", replication.NewResolver(s, replication.DeleteUnconditional))

	outcome, err := recv.Apply(context.Background(), remoteEvent(models.OpDelete, "1", 3, "", "a"))

	require.NoError(t, err)
	assert.Equal(t, replication.OutcomeDeleted, outcome)
}
