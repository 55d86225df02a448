package store

import (
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrNoChanges = errors.New("no changes provided")
	ErrConflict  = errors.New("record already exists")
)

const uniqueViolation = "23505"

// translate is the single place driver errors are mapped to store errors.
func translate(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return errors.Wrap(ErrNotFound, op)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return errors.Wrapf(ErrConflict, "%s: %s", op, pgErr.ConstraintName)
	}
	return errors.Wrap(err, op)
}
