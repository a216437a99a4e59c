package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// TxStarter is satisfied by *pgxpool.Pool and *pgxpool.Conn.
type TxStarter interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

const (
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
	sqlStateUniqueViolation      = "23505"
)

// DefaultTxAttempts bounds how often WithTx re-runs a transaction that lost a
// serialization race.
const DefaultTxAttempts = 3

// WithTx runs fn inside a transaction on the hospital-scoped connection from
// ctx, falling back to starter. fn is retried when Postgres reports a
// serialization failure or deadlock; any other error rolls back and returns.
func WithTx(ctx context.Context, starter TxStarter, opts pgx.TxOptions, fn func(pgx.Tx) error) error {
	if c := ConnFromContext(ctx); c != nil {
		starter = c
	}
	if starter == nil {
		return errors.New("no database connection available")
	}

	var err error
	for attempt := 1; attempt <= DefaultTxAttempts; attempt++ {
		err = pgx.BeginTxFunc(ctx, starter, opts, fn)
		if err == nil || !IsRetryable(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * 10 * time.Millisecond):
		}
	}
	return fmt.Errorf("transaction failed after %d attempts: %w", DefaultTxAttempts, err)
}

// IsRetryable reports whether err is a transient transaction conflict.
func IsRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == sqlStateSerializationFailure || pgErr.Code == sqlStateDeadlockDetected
	}
	return false
}

// IsUniqueViolation reports whether err is a unique constraint violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == sqlStateUniqueViolation
}
