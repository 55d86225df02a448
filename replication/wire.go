package replication

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack"

	"github.com/alpacahq/peersync/models"
)

// EventRecordChanged is the only event name peers exchange.
const EventRecordChanged = "record.changed"

var (
	ErrUnknownEvent  = errors.New("unknown wire event")
	ErrMalformedWire = errors.New("malformed wire message")
	ErrUnknownFormat = errors.New("unknown wire format")
)

// WireFormat selects the encoding of outbound peer messages.
// JSON travels in websocket text frames, msgpack in binary frames.
type WireFormat string

const (
	WireJSON    WireFormat = "json"
	WireMsgpack WireFormat = "msgpack"
)

// Binary returns true if messages of this format are sent as binary frames.
func (f WireFormat) Binary() bool {
	return f == WireMsgpack
}

// WireMessage is a change event as sent between peers.
type WireMessage struct {
	Event          string         `json:"event" msgpack:"event"`
	Operation      string         `json:"operation" msgpack:"operation"`
	Record         *models.Record `json:"record" msgpack:"record"`
	OldRecord      *models.Record `json:"old_record" msgpack:"old_record"`
	OriginInstance string         `json:"origin_instance" msgpack:"origin_instance"`
	EmittedAt      time.Time      `json:"emitted_at" msgpack:"emitted_at"`
}

// EncodeWire serializes ev for peers.
func EncodeWire(ev models.ChangeEvent, format WireFormat) ([]byte, error) {
	rec := ev.Record()
	msg := WireMessage{
		Event:          EventRecordChanged,
		Operation:      ev.Operation().String(),
		Record:         &rec,
		OriginInstance: ev.Origin(),
		EmittedAt:      ev.EmittedAt(),
	}
	if old, ok := ev.OldRecord(); ok {
		msg.OldRecord = &old
	}

	switch format {
	case WireJSON:
		return json.Marshal(msg)
	case WireMsgpack:
		return msgpack.Marshal(msg)
	default:
		return nil, errors.Wrapf(ErrUnknownFormat, "format=%q", format)
	}
}

// DecodeWire parses a peer message. binary tells whether it arrived in a binary frame.
func DecodeWire(data []byte, binary bool) (models.ChangeEvent, error) {
	var msg WireMessage
	var err error
	if binary {
		err = msgpack.Unmarshal(data, &msg)
	} else {
		err = json.Unmarshal(data, &msg)
	}
	if err != nil {
		return models.ChangeEvent{}, errors.Wrapf(ErrMalformedWire, "%v", err)
	}

	if msg.Event != EventRecordChanged {
		return models.ChangeEvent{}, errors.Wrapf(ErrUnknownEvent, "event=%q", msg.Event)
	}
	op, err := models.ParseOperation(msg.Operation)
	if err != nil {
		return models.ChangeEvent{}, err
	}
	if msg.Record == nil || msg.Record.ID == "" {
		return models.ChangeEvent{}, errors.Wrap(ErrMalformedWire, "record id is missing")
	}
	if msg.OriginInstance == "" {
		return models.ChangeEvent{}, errors.Wrap(ErrMalformedWire, "origin_instance is missing")
	}
	return models.NewChangeEvent(op, *msg.Record, msg.OldRecord, msg.OriginInstance, msg.EmittedAt), nil
}
