package store

import (
	"context"
	"io/fs"
	"sort"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/alpacahq/peersync/store/migrations"
	"github.com/alpacahq/peersync/utils/log"
)

// migrationLockID serializes concurrent Migrate calls against one database.
const migrationLockID = 0x70656572 // "peer"

const createMigrationsTable = `
CREATE TABLE IF NOT EXISTS peersync_migrations (
    version    INTEGER PRIMARY KEY,
    name       TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Migrate brings the schema up to date and (re)installs the change capture trigger
// notifying on channel. It is safe to run on every start.
func (p *Postgres) Migrate(ctx context.Context, channel string) error {
	ddl, err := TriggerDDL(RecordsTable, channel)
	if err != nil {
		return err
	}

	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", int64(migrationLockID)); err != nil {
			return errors.Wrap(err, "lock migrations")
		}
		if _, err := tx.Exec(ctx, createMigrationsTable); err != nil {
			return errors.Wrap(err, "create migrations table")
		}
		if err := upMigrations(ctx, tx, migrations.All); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, ddl); err != nil {
			return errors.Wrap(err, "install change capture trigger")
		}
		log.Info("change capture trigger installed on table=%s channel=%s", RecordsTable, channel)
		return nil
	})
}

func upMigrations(ctx context.Context, tx pgx.Tx, source fs.ReadDirFS) error {
	list, err := source.ReadDir(".")
	if err != nil {
		return errors.Wrap(err, "list migrations")
	}
	// apply in version order
	sort.Slice(list, func(i, j int) bool {
		return list[i].Name() < list[j].Name()
	})

	var current int
	if err := tx.QueryRow(ctx, "SELECT COALESCE(MAX(version), 0) FROM peersync_migrations").Scan(&current); err != nil {
		return errors.Wrap(err, "read schema version")
	}

	for _, f := range list {
		n := f.Name()
		if !strings.HasSuffix(n, ".sql") {
			continue
		}
		v, err := scriptVersion(n)
		if err != nil {
			return err
		}
		if v <= current {
			continue
		}

		log.Info("executing migration %s", n)
		script, err := fs.ReadFile(source, n)
		if err != nil {
			return errors.Wrapf(err, "read migration %s", n)
		}
		if _, err := tx.Exec(ctx, string(script)); err != nil {
			return errors.Wrapf(err, "migration %s", n)
		}
		if _, err := tx.Exec(ctx,
			"INSERT INTO peersync_migrations (version, name) VALUES ($1, $2)", v, n); err != nil {
			return errors.Wrapf(err, "record migration %s", n)
		}
		current = v
	}
	return nil
}

// scriptVersion extracts the version from a file named like "0002_migration_name.sql".
func scriptVersion(filename string) (int, error) {
	v, err := strconv.Atoi(strings.Split(filename, "_")[0])
	if err != nil {
		return 0, errors.Wrapf(err, "migration file name %s", filename)
	}
	return v, nil
}
