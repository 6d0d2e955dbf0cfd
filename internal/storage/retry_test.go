package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithTxRetryReplaysSerializationFailure(t *testing.T) {
	calls := 0
	err := withTxRetry(context.Background(), func() error {
		calls++
		if calls < 3 {
			return &pgconn.PgError{Code: "40001"}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithTxRetryReplaysDeadlock(t *testing.T) {
	calls := 0
	err := withTxRetry(context.Background(), func() error {
		calls++
		if calls == 1 {
			return &pgconn.PgError{Code: "40P01"}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestWithTxRetryStopsOnOtherErrors(t *testing.T) {
	calls := 0
	wantErr := errors.New("constraint violated")
	err := withTxRetry(context.Background(), func() error {
		calls++
		return wantErr
	})
	require.ErrorIs(t, err, wantErr)
	assert.Equal(t, 1, calls)

	// ErrNotFound in particular must surface untouched: a missing row is
	// not a conflict.
	calls = 0
	err = withTxRetry(context.Background(), func() error {
		calls++
		return ErrNotFound
	})
	require.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, calls)
}

func TestWithTxRetryGivesUpAfterMaxReplays(t *testing.T) {
	calls := 0
	pgErr := &pgconn.PgError{Code: "40001"}
	err := withTxRetry(context.Background(), func() error {
		calls++
		return pgErr
	})
	var got *pgconn.PgError
	require.ErrorAs(t, err, &got)
	assert.Equal(t, "40001", got.Code)
	assert.Equal(t, txMaxReplays+1, calls)
}

func TestWithTxRetryHonorsContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := withTxRetry(ctx, func() error {
		calls++
		cancel()
		return &pgconn.PgError{Code: "40001"}
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestIsTransient(t *testing.T) {
	assert.True(t, isTransient(&pgconn.PgError{Code: "40001"}))
	assert.True(t, isTransient(&pgconn.PgError{Code: "40P01"}))
	assert.False(t, isTransient(&pgconn.PgError{Code: "23505"}))
	assert.False(t, isTransient(errors.New("plain")))
	assert.False(t, isTransient(nil))
}
