package replication

import (
	"context"

	"github.com/pkg/errors"

	"github.com/alpacahq/peersync/models"
	"github.com/alpacahq/peersync/store"
	"github.com/alpacahq/peersync/utils/log"
)

// Outcome is the result of applying a remote change event.
type Outcome string

const (
	// OutcomeApplied means the remote version was written to the local store.
	OutcomeApplied Outcome = "applied"
	// OutcomeStale means the local version is the same or newer, nothing changed.
	OutcomeStale Outcome = "stale"
	// OutcomeDeleted means the local record was removed.
	OutcomeDeleted Outcome = "deleted"
	// OutcomeMissing means a delete referenced a record that doesn't exist locally.
	OutcomeMissing Outcome = "missing"
)

// DeletePolicy decides whether a remote delete is checked against the local version.
type DeletePolicy string

const (
	// DeleteUnconditional removes the local record whatever its version.
	// An out-of-order delete destroys a record that was updated to a newer version meanwhile.
	DeleteUnconditional DeletePolicy = "unconditional"
	// DeleteVersionGated removes the local record only if the delete refers to
	// the same or a newer version than the local one.
	DeleteVersionGated DeletePolicy = "version_gated"
)

// Store is the transactional store remote changes are applied to.
type Store interface {
	InTx(ctx context.Context, fn func(tx store.Tx) error) error
}

// Resolver applies remote change events to the local store using the version rule.
type Resolver struct {
	store        Store
	deletePolicy DeletePolicy
}

func NewResolver(s Store, deletePolicy DeletePolicy) *Resolver {
	if deletePolicy == "" {
		deletePolicy = DeleteUnconditional
	}
	return &Resolver{store: s, deletePolicy: deletePolicy}
}

// Upsert applies an insert or update event if its version is strictly greater than
// the local one (0 when the record is absent). The read-decide-write runs under the
// record lock, so a concurrent local write can't be lost.
func (r *Resolver) Upsert(ctx context.Context, ev models.ChangeEvent) (Outcome, error) {
	incoming := ev.Record()
	outcome := OutcomeStale

	err := r.store.InTx(ctx, func(tx store.Tx) error {
		local, found, err := tx.LockRecord(ctx, incoming.ID)
		if err != nil {
			return errors.Wrap(err, "lock record")
		}
		var localVersion int64
		if found {
			localVersion = local.Version
		}
		if incoming.Version <= localVersion {
			log.Debug("ignoring stale change id=%s version=%d local_version=%d origin=%s",
				incoming.ID, incoming.Version, localVersion, ev.Origin())
			return nil
		}

		// the re-fired local trigger must carry the remote origin
		incoming.Origin = ev.Origin()
		// only an acknowledgement clears needs_sync
		incoming.NeedsSync = false
		incoming.LastSyncedAt = nil
		if found {
			incoming.NeedsSync = local.NeedsSync
			incoming.LastSyncedAt = local.LastSyncedAt
			if incoming.CreatedAt.IsZero() {
				incoming.CreatedAt = local.CreatedAt
			}
		}
		if err := tx.PutRecord(ctx, incoming); err != nil {
			return errors.Wrap(err, "put record")
		}
		outcome = OutcomeApplied
		return nil
	})
	if err != nil {
		return "", errors.Wrapf(err, "apply %s id=%s version=%d", ev.Operation(), incoming.ID, incoming.Version)
	}
	return outcome, nil
}

// Delete applies a delete event according to the delete policy.
func (r *Resolver) Delete(ctx context.Context, ev models.ChangeEvent) (Outcome, error) {
	id := ev.ID()
	var outcome Outcome

	err := r.store.InTx(ctx, func(tx store.Tx) error {
		local, found, err := tx.LockRecord(ctx, id)
		if err != nil {
			return errors.Wrap(err, "lock record")
		}
		if !found {
			outcome = OutcomeMissing
			return nil
		}
		if r.deletePolicy == DeleteVersionGated && ev.Version() < local.Version {
			log.Info("ignoring delete of an older version id=%s version=%d local_version=%d origin=%s",
				id, ev.Version(), local.Version, ev.Origin())
			outcome = OutcomeStale
			return nil
		}
		deleted, err := tx.DeleteRecord(ctx, id, ev.Origin())
		if err != nil {
			return errors.Wrap(err, "delete record")
		}
		outcome = OutcomeDeleted
		if !deleted {
			outcome = OutcomeMissing
		}
		return nil
	})
	if err != nil {
		return "", errors.Wrapf(err, "apply DELETE id=%s version=%d", id, ev.Version())
	}
	return outcome, nil
}
