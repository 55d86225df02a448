package models

import (
	"time"
)

// Record is the replicated entity stored in the records table.
// Version and Origin are owned by the replication layer: Version starts at 1
// and is advanced only by the instance mutating the row locally, Origin names
// the instance that produced the current version.
type Record struct {
	ID           string     `json:"id" msgpack:"id"`
	Username     string     `json:"username" msgpack:"username"`
	Email        string     `json:"email" msgpack:"email"`
	Version      int64      `json:"version" msgpack:"version"`
	Origin       string     `json:"origin" msgpack:"origin"`
	NeedsSync    bool       `json:"needs_sync" msgpack:"needs_sync"`
	CreatedAt    time.Time  `json:"created_at" msgpack:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" msgpack:"updated_at"`
	LastSyncedAt *time.Time `json:"last_synced_at" msgpack:"last_synced_at"`
}

// RecordPatch holds the mutable fields of a local update. Nil fields are left untouched.
type RecordPatch struct {
	Username *string `json:"username,omitempty"`
	Email    *string `json:"email,omitempty"`
}

// Empty returns true if the patch doesn't change anything.
func (p RecordPatch) Empty() bool {
	return p.Username == nil && p.Email == nil
}

// Apply returns a copy of r with the patch fields overwritten.
func (p RecordPatch) Apply(r Record) Record {
	if p.Username != nil {
		r.Username = *p.Username
	}
	if p.Email != nil {
		r.Email = *p.Email
	}
	return r
}
