package models_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpacahq/peersync/models"
)

const updatePayload = `{
	"operation": "UPDATE",
	"record": {"id": "6f1c", "username": "alice2", "email": "a@example.com", "version": 2,
		"origin": "users-a", "needs_sync": true,
		"created_at": "2024-03-01T10:00:00.123456+00:00", "updated_at": "2024-03-01T10:05:00+00:00",
		"last_synced_at": null},
	"old_record": {"id": "6f1c", "username": "alice", "email": "a@example.com", "version": 1,
		"origin": "users-a", "needs_sync": true,
		"created_at": "2024-03-01T10:00:00.123456+00:00", "updated_at": "2024-03-01T10:00:00.123456+00:00",
		"last_synced_at": null},
	"instance_id": "users-a",
	"emitted_at": "2024-03-01T10:05:00.5+00:00"
}`

func TestParseNotification(t *testing.T) {
	t.Parallel()

	// --- given ---
	received := time.Date(2024, 3, 1, 11, 0, 0, 0, time.UTC)

	// --- when ---
	ev, truncated, err := models.ParseNotification([]byte(updatePayload), received)

	// --- then ---
	require.NoError(t, err)
	assert.False(t, truncated)
	assert.Equal(t, models.OpUpdate, ev.Operation())
	assert.Equal(t, "users-a", ev.Origin())
	assert.Equal(t, "6f1c", ev.ID())
	assert.Equal(t, int64(2), ev.Version())
	assert.Equal(t, "alice2", ev.Record().Username)
	assert.Nil(t, ev.Record().LastSyncedAt)
	assert.True(t, ev.Record().CreatedAt.Equal(time.Date(2024, 3, 1, 10, 0, 0, 123456000, time.UTC)))
	assert.True(t, ev.EmittedAt().Equal(time.Date(2024, 3, 1, 10, 5, 0, 500000000, time.UTC)))

	old, ok := ev.OldRecord()
	require.True(t, ok)
	assert.Equal(t, "alice", old.Username)
	assert.Equal(t, int64(1), old.Version)
}

func TestParseNotification_InsertWithoutPreImage(t *testing.T) {
	t.Parallel()

	received := time.Now()
	payload := `{"operation":"INSERT","record":{"id":"1","username":"alice","version":1,"origin":"a"},` +
		`"old_record":null,"instance_id":"a"}`

	ev, truncated, err := models.ParseNotification([]byte(payload), received)

	require.NoError(t, err)
	assert.False(t, truncated)
	assert.Equal(t, models.OpInsert, ev.Operation())
	_, ok := ev.OldRecord()
	assert.False(t, ok)
	assert.Equal(t, received, ev.EmittedAt())
}

func TestParseNotification_Truncated(t *testing.T) {
	t.Parallel()

	payload := `{"operation":"UPDATE","record":{"id":"1","version":9,"origin":"a"},` +
		`"old_record":null,"instance_id":"a","truncated":true}`

	ev, truncated, err := models.ParseNotification([]byte(payload), time.Now())

	require.NoError(t, err)
	assert.True(t, truncated)
	assert.Equal(t, int64(9), ev.Version())
	assert.Empty(t, ev.Record().Username)
}

func TestParseNotification_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		payload string
		wantErr error
	}{
		{name: "not json", payload: `{oops`, wantErr: models.ErrMalformedPayload},
		{name: "missing operation", payload: `{"record":{"id":"1"},"instance_id":"a"}`, wantErr: models.ErrMalformedPayload},
		{
			name: "unknown operation", payload: `{"operation":"TRUNCATE","record":{"id":"1"},"instance_id":"a"}`,
			wantErr: models.ErrUnknownOperation,
		},
		{name: "missing record", payload: `{"operation":"INSERT","instance_id":"a"}`, wantErr: models.ErrMalformedPayload},
		{name: "record is not an object", payload: `{"operation":"INSERT","record":[1],"instance_id":"a"}`, wantErr: models.ErrMalformedPayload},
		{name: "record without id", payload: `{"operation":"INSERT","record":{"version":1},"instance_id":"a"}`, wantErr: models.ErrMalformedPayload},
		{
			name: "bad version type", payload: `{"operation":"INSERT","record":{"id":"1","version":"x"},"instance_id":"a"}`,
			wantErr: models.ErrMalformedPayload,
		},
		{name: "missing origin", payload: `{"operation":"DELETE","record":{"id":"1","version":1}}`, wantErr: models.ErrMalformedPayload},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, _, err := models.ParseNotification([]byte(tt.payload), time.Now())

			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}
