package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/alpacahq/peersync/models"
)

const recordColumns = `id, username, email, version, origin, needs_sync, created_at, updated_at, last_synced_at`

// Postgres is the local persistence adapter for records.
// Every local mutation is tagged with the instance identity self.
type Postgres struct {
	pool *pgxpool.Pool
	self string
}

// NewPool opens a query pool. The notification listener uses its own connection, see DialListener.
func NewPool(ctx context.Context, url string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse database url")
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "connect to database")
	}
	return pool, nil
}

func New(pool *pgxpool.Pool, self string) *Postgres {
	return &Postgres{pool: pool, self: self}
}

func (p *Postgres) Ping(ctx context.Context) error {
	return errors.Wrap(p.pool.Ping(ctx), "ping database")
}

func (p *Postgres) Close() {
	p.pool.Close()
}

// Create inserts a new record with version 1 and origin self.
func (p *Postgres) Create(ctx context.Context, username, email string) (models.Record, error) {
	row := p.pool.QueryRow(ctx, `
		INSERT INTO records (id, username, email, version, origin, needs_sync)
		VALUES ($1, $2, $3, 1, $4, TRUE)
		RETURNING `+recordColumns,
		uuid.NewString(), username, email, p.self)
	r, err := scanRecord(row)
	return r, translate(err, "create record")
}

func (p *Postgres) Get(ctx context.Context, id string) (models.Record, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM records WHERE id = $1`, id)
	r, err := scanRecord(row)
	return r, translate(err, "get record "+id)
}

// List returns all records, newest first.
func (p *Postgres) List(ctx context.Context) ([]models.Record, error) {
	return p.query(ctx, "list records", `SELECT `+recordColumns+` FROM records ORDER BY created_at DESC`)
}

// GetUnsynced returns the records whose current version wasn't acknowledged yet, oldest update first.
func (p *Postgres) GetUnsynced(ctx context.Context) ([]models.Record, error) {
	return p.query(ctx, "get unsynced records",
		`SELECT `+recordColumns+` FROM records WHERE needs_sync ORDER BY updated_at ASC`)
}

// CountUnsynced returns the number of records with needs_sync set.
func (p *Postgres) CountUnsynced(ctx context.Context) (int64, error) {
	var n int64
	err := p.pool.QueryRow(ctx, `SELECT count(*) FROM records WHERE needs_sync`).Scan(&n)
	return n, translate(err, "count unsynced records")
}

// Update applies patch under the record lock and advances the version by exactly one.
func (p *Postgres) Update(ctx context.Context, id string, patch models.RecordPatch) (models.Record, error) {
	if patch.Empty() {
		return models.Record{}, ErrNoChanges
	}

	var updated models.Record
	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		// same per-record lock as remote applies
		current, found, err := (&pgTx{tx: tx}).LockRecord(ctx, id)
		if err != nil {
			return err
		}
		if !found {
			return pgx.ErrNoRows
		}
		next := patch.Apply(current)
		updated, err = scanRecord(tx.QueryRow(ctx, `
			UPDATE records
			SET username = $2, email = $3, version = version + 1, origin = $4,
			    needs_sync = TRUE, updated_at = now()
			WHERE id = $1
			RETURNING `+recordColumns,
			id, next.Username, next.Email, p.self))
		return err
	})
	return updated, translate(err, "update record "+id)
}

// Delete removes a record. The change event carries origin self.
func (p *Postgres) Delete(ctx context.Context, id string) error {
	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		deleted, err := (&pgTx{tx: tx}).DeleteRecord(ctx, id, p.self)
		if err != nil {
			return err
		}
		if !deleted {
			return pgx.ErrNoRows
		}
		return nil
	})
	return translate(err, "delete record "+id)
}

// MarkSynced clears needs_sync and stamps last_synced_at. It doesn't produce a change event.
func (p *Postgres) MarkSynced(ctx context.Context, id string) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE records SET needs_sync = FALSE, last_synced_at = now() WHERE id = $1`, id)
	if err != nil {
		return translate(err, "mark record synced "+id)
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrap(ErrNotFound, "mark record synced "+id)
	}
	return nil
}

// InTx runs fn in a single transaction. fn's error rolls the transaction back.
func (p *Postgres) InTx(ctx context.Context, fn func(tx Tx) error) error {
	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		return fn(&pgTx{tx: tx})
	})
	return translate(err, "apply transaction")
}

func (p *Postgres) query(ctx context.Context, op, sql string, args ...any) ([]models.Record, error) {
	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, translate(err, op)
	}
	defer rows.Close()

	var out []models.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, translate(err, op)
		}
		out = append(out, r)
	}
	return out, translate(rows.Err(), op)
}

func scanRecord(row pgx.Row) (models.Record, error) {
	var r models.Record
	err := row.Scan(&r.ID, &r.Username, &r.Email, &r.Version, &r.Origin, &r.NeedsSync,
		&r.CreatedAt, &r.UpdatedAt, &r.LastSyncedAt)
	return r, err
}
