package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/leitbox/internal/platform/logger"
	"github.com/sethvargo/go-retry"
)

// TxFn is a function that executes within a database transaction.
// The transaction is committed if the function returns nil and rolled
// back otherwise.
type TxFn func(ctx context.Context, tx *sql.Tx) error

// RunInTransaction executes fn within a single database transaction.
// A panic inside fn rolls the transaction back before being re-raised.
func RunInTransaction(ctx context.Context, db *sql.DB, fn TxFn) error {
	log := logger.FromContext(ctx)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		log.Error("failed to begin transaction", slog.String("error", err.Error()))
		return fmt.Errorf("%w: begin: %w", ErrTransactionFailed, err)
	}

	defer func() {
		p := recover()
		if p == nil {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Error("rollback after panic failed",
				slog.String("error", rbErr.Error()),
				slog.Any("panic", p))
		} else {
			log.Error("rolled back transaction after panic", slog.Any("panic", p))
		}
		panic(p)
	}()

	if err := fn(ctx, tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Error("failed to roll back transaction",
				slog.String("rollback_error", rbErr.Error()),
				slog.String("original_error", err.Error()))
			return fmt.Errorf("error rolling back transaction: %v (original error: %w)", rbErr, err)
		}
		log.Debug("rolled back transaction", slog.String("error", err.Error()))
		return err
	}

	if err := tx.Commit(); err != nil {
		log.Error("failed to commit transaction", slog.String("error", err.Error()))
		return fmt.Errorf("%w: commit: %w", ErrTransactionFailed, err)
	}

	log.Debug("transaction committed")
	return nil
}

// RetryPolicy bounds how often a failed transaction is re-attempted.
type RetryPolicy struct {
	MaxAttempts uint64
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy is used when a caller does not supply one.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 5,
	BaseDelay:   20 * time.Millisecond,
	MaxDelay:    500 * time.Millisecond,
}

func (p RetryPolicy) backoff() retry.Backoff {
	if p.MaxAttempts == 0 {
		p = DefaultRetryPolicy
	}
	b := retry.NewExponential(p.BaseDelay)
	b = retry.WithJitterPercent(10, b)
	b = retry.WithCappedDuration(p.MaxDelay, b)
	// MaxRetries counts re-attempts, not the first try.
	return retry.WithMaxRetries(p.MaxAttempts-1, b)
}

// RetryInTransaction runs fn in a fresh transaction and, when the failure
// is retryable, runs the whole transaction again under policy. Partial
// work from a failed attempt is always rolled back before the next one.
func RetryInTransaction(ctx context.Context, db *sql.DB, policy RetryPolicy, fn TxFn) error {
	log := logger.FromContext(ctx)
	attempt := 0

	return retry.Do(ctx, policy.backoff(), func(ctx context.Context) error {
		attempt++
		err := RunInTransaction(ctx, db, fn)
		if err != nil && IsRetryable(err) {
			log.Warn("retrying transaction",
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()))
			return retry.RetryableError(err)
		}
		return err
	})
}
