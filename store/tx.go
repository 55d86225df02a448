package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/alpacahq/peersync/models"
)

// Tx is the view of a store transaction the conflict resolver works with.
type Tx interface {
	// LockRecord takes the per-record lock and returns the current row.
	// found is false when no row exists; the lock is still held until the transaction ends.
	LockRecord(ctx context.Context, id string) (r models.Record, found bool, err error)
	// PutRecord inserts or overwrites r as given, including version and origin.
	// Overwriting keeps the needs_sync and last_synced_at of the existing row.
	PutRecord(ctx context.Context, r models.Record) error
	// DeleteRecord removes the row, tagging the change event with origin.
	DeleteRecord(ctx context.Context, id, origin string) (deleted bool, err error)
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) LockRecord(ctx context.Context, id string) (models.Record, bool, error) {
	// the advisory lock also covers ids that don't exist yet, FOR UPDATE alone would not
	if _, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, id); err != nil {
		return models.Record{}, false, err
	}
	r, err := scanRecord(t.tx.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM records WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Record{}, false, nil
	}
	if err != nil {
		return models.Record{}, false, err
	}
	return r, true, nil
}

func (t *pgTx) PutRecord(ctx context.Context, r models.Record) error {
	createdAt := r.CreatedAt
	if createdAt.IsZero() {
		createdAt = r.UpdatedAt
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO records (id, username, email, version, origin, needs_sync, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, now()), COALESCE($8, now()))
		ON CONFLICT (id) DO UPDATE
		SET username = EXCLUDED.username, email = EXCLUDED.email,
		    version = EXCLUDED.version, origin = EXCLUDED.origin,
		    updated_at = EXCLUDED.updated_at`,
		r.ID, r.Username, r.Email, r.Version, r.Origin, r.NeedsSync, nullTime(createdAt), nullTime(r.UpdatedAt))
	return err
}

func (t *pgTx) DeleteRecord(ctx context.Context, id, origin string) (bool, error) {
	if _, err := t.tx.Exec(ctx, `SELECT set_config($1, $2, true)`, OriginSetting, origin); err != nil {
		return false, err
	}
	tag, err := t.tx.Exec(ctx, `DELETE FROM records WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
