package store

import (
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict marks lock contention or a violated unique constraint. The
	// whole command is safe to retry.
	ErrConflict = errors.New("concurrent modification")
)

const (
	sqlStateForeignKeyViolation  = "23503"
	sqlStateUniqueViolation      = "23505"
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
	sqlStateLockNotAvailable     = "55P03"
)

func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case sqlStateForeignKeyViolation:
			return errors.Join(ErrNotFound, err)
		case sqlStateUniqueViolation, sqlStateSerializationFailure, sqlStateDeadlockDetected, sqlStateLockNotAvailable:
			return errors.Join(ErrConflict, err)
		}
	}
	return err
}
