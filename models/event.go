package models

import (
	"time"
)

// ChangeEvent describes one committed mutation of a record.
// It is immutable: fields are only set by NewChangeEvent and read through accessors
// that return copies.
type ChangeEvent struct {
	operation    Operation
	record       Record
	oldRecord    Record
	hasOldRecord bool
	origin       string
	emittedAt    time.Time
}

// NewChangeEvent builds a ChangeEvent. old may be nil when no pre-image exists.
func NewChangeEvent(op Operation, record Record, old *Record, origin string, emittedAt time.Time) ChangeEvent {
	ev := ChangeEvent{
		operation: op,
		record:    copyRecord(record),
		origin:    origin,
		emittedAt: emittedAt,
	}
	if old != nil {
		ev.oldRecord = copyRecord(*old)
		ev.hasOldRecord = true
	}
	return ev
}

func (e ChangeEvent) Operation() Operation { return e.operation }

// Record returns the post-image. For deletes it is the last state of the row.
func (e ChangeEvent) Record() Record { return copyRecord(e.record) }

// OldRecord returns the pre-image, if any.
func (e ChangeEvent) OldRecord() (Record, bool) {
	if !e.hasOldRecord {
		return Record{}, false
	}
	return copyRecord(e.oldRecord), true
}

func (e ChangeEvent) Origin() string { return e.origin }

func (e ChangeEvent) EmittedAt() time.Time { return e.emittedAt }

// ID is a shortcut for Record().ID.
func (e ChangeEvent) ID() string { return e.record.ID }

// Version is a shortcut for Record().Version.
func (e ChangeEvent) Version() int64 { return e.record.Version }

func copyRecord(r Record) Record {
	if r.LastSyncedAt != nil {
		t := *r.LastSyncedAt
		r.LastSyncedAt = &t
	}
	return r
}
