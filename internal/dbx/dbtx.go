// Package dbx provides tiny DB abstractions shared by the SQL backend:
// a minimal interface (DBTX) implemented by both *sql.DB and *sql.Tx,
// and helpers to run functions inside a (retried) transaction.
package dbx

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sethvargo/go-retry"
)

// DBTX is the subset of database/sql used by our repos.
// Both *sql.DB and *sql.Tx satisfy this interface.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// WithTx begins a transaction, runs fn with a transactional handle, and then
// commits on success or rolls back on error/panic. Panics are rethrown.
//
// Typical use:
//
//	err := dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
//	    // use tx instead of db
//	    _, err := tx.ExecContext(ctx, "UPDATE ...")
//	    return err
//	})
func WithTx(ctx context.Context, db *sql.DB, opts *sql.TxOptions, fn func(ctx context.Context, tx DBTX) error) (err error) {
	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	err = fn(ctx, tx)
	return err
}

// SQLSTATE codes Postgres uses when a serializable transaction lost a race.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

// IsSerializationFailure reports whether err means the transaction may
// succeed if run again.
func IsSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == codeSerializationFailure || pgErr.Code == codeDeadlockDetected
}

// ErrRetriesExhausted wraps the last serialization failure once every
// attempt has been used.
var ErrRetriesExhausted = errors.New("transaction retries exhausted")

// RetryPolicy bounds WithRetryTx.
type RetryPolicy struct {
	Attempts uint64
	Base     time.Duration
	Cap      time.Duration
}

// DefaultRetryPolicy gives five attempts starting at 10ms.
var DefaultRetryPolicy = RetryPolicy{Attempts: 5, Base: 10 * time.Millisecond, Cap: 200 * time.Millisecond}

func (p RetryPolicy) backoff() retry.Backoff {
	attempts := p.Attempts
	if attempts == 0 {
		attempts = 1
	}
	b := retry.NewExponential(p.Base)
	if p.Cap > 0 {
		b = retry.WithCappedDuration(p.Cap, b)
	}
	return retry.WithMaxRetries(attempts-1, b)
}

// WithRetryTx runs fn in a serializable transaction, starting over while
// Postgres reports a serialization failure. onAttempt, when non-nil, sees
// every attempt number starting at 1. Errors other than serialization
// failures are returned as-is after the first attempt that produced them.
func WithRetryTx(ctx context.Context, db *sql.DB, p RetryPolicy, onAttempt func(int), fn func(ctx context.Context, tx DBTX) error) error {
	opts := &sql.TxOptions{Isolation: sql.LevelSerializable}
	attempt := 0
	var last error

	err := retry.Do(ctx, p.backoff(), func(ctx context.Context) error {
		attempt++
		if onAttempt != nil {
			onAttempt(attempt)
		}
		err := WithTx(ctx, db, opts, fn)
		if IsSerializationFailure(err) {
			last = err
			return retry.RetryableError(err)
		}
		return err
	})

	if err != nil && last != nil && IsSerializationFailure(err) {
		return errors.Join(ErrRetriesExhausted, last)
	}
	return err
}
