package storage

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Transient Postgres failures are safe to replay here because every
// multi-row write is a self-contained transaction with caller-supplied IDs.
const (
	txMaxReplays = 3
	txBaseDelay  = 25 * time.Millisecond
)

// isTransient reports whether err is a Postgres conflict worth replaying.
func isTransient(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	// serialization_failure or deadlock_detected
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

// withTxRetry runs fn, replaying it on transient conflicts with jittered
// exponential backoff. Success and non-transient errors return immediately.
func withTxRetry(ctx context.Context, fn func() error) error {
	delay := txBaseDelay
	var err error
	for replay := 0; ; replay++ {
		err = fn()
		if err == nil || !isTransient(err) || replay == txMaxReplays {
			return err
		}
		jitter := time.Duration(rand.Int64N(int64(delay))) //nolint:gosec // jitter doesn't need crypto-strength randomness
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay + jitter):
		}
		delay *= 2
	}
}
