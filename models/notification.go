package models

import (
	"encoding/json"
	"time"

	"github.com/buger/jsonparser"
	"github.com/pkg/errors"
)

// ErrMalformedPayload is returned when a change notification can't be decoded.
var ErrMalformedPayload = errors.New("malformed change payload")

// ParseNotification decodes a payload emitted by the change capture trigger:
//
//	{"operation":"UPDATE","record":{...},"old_record":{...}|null,"instance_id":"a","emitted_at":"..."}
//
// truncated is true when the trigger replaced an oversize payload with the compact
// {id, version, origin} form, in which case Record() only carries those fields.
// receivedAt is used as the emission time when the payload has none.
func ParseNotification(payload []byte, receivedAt time.Time) (ev ChangeEvent, truncated bool, err error) {
	tag, err := jsonparser.GetString(payload, "operation")
	if err != nil {
		return ChangeEvent{}, false, errors.Wrapf(ErrMalformedPayload, "operation: %v", err)
	}
	op, err := ParseOperation(tag)
	if err != nil {
		return ChangeEvent{}, false, err
	}

	rec, err := recordField(payload, "record")
	if err != nil {
		return ChangeEvent{}, false, err
	}
	if rec == nil || rec.ID == "" {
		return ChangeEvent{}, false, errors.Wrap(ErrMalformedPayload, "record id is missing")
	}
	old, err := recordField(payload, "old_record")
	if err != nil {
		return ChangeEvent{}, false, err
	}

	origin, err := jsonparser.GetString(payload, "instance_id")
	if err != nil || origin == "" {
		return ChangeEvent{}, false, errors.Wrap(ErrMalformedPayload, "instance_id is missing")
	}

	truncated, _ = jsonparser.GetBoolean(payload, "truncated")

	emittedAt := receivedAt
	if s, err := jsonparser.GetString(payload, "emitted_at"); err == nil {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			emittedAt = t
		}
	}

	return NewChangeEvent(op, *rec, old, origin, emittedAt), truncated, nil
}

// recordField returns nil when the key is absent or null.
func recordField(payload []byte, key string) (*Record, error) {
	raw, typ, _, err := jsonparser.Get(payload, key)
	if errors.Is(err, jsonparser.KeyPathNotFoundError) || typ == jsonparser.Null {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(ErrMalformedPayload, "%s: %v", key, err)
	}
	if typ != jsonparser.Object {
		return nil, errors.Wrapf(ErrMalformedPayload, "%s is a %s, not an object", key, typ)
	}
	var r Record
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, errors.Wrapf(ErrMalformedPayload, "%s: %v", key, err)
	}
	return &r, nil
}
