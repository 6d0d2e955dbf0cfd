package storage

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound is returned when a requested row does not exist or is outside
// the caller's client scope. Callers must not be able to distinguish the two.
var ErrNotFound = errors.New("storage: not found")

// ErrConflict is returned for duplicate-key violations on paths that are not
// treated as idempotent (e.g. a client slug collision).
var ErrConflict = errors.New("storage: conflict")

// isUniqueViolation reports whether err is a Postgres unique_violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
