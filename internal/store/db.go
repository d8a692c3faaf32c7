package store

import (
	"context"
	"database/sql"
)

// DBTX is the subset of *sql.DB and *sql.Tx the stores use.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// InTransaction runs fn inside a transaction. When db is already a
// transaction, fn joins it; when db is a *sql.DB a new transaction is
// opened and committed through RunInTransaction.
func InTransaction(ctx context.Context, db DBTX, fn func(ctx context.Context, tx DBTX) error) error {
	switch conn := db.(type) {
	case *sql.DB:
		return RunInTransaction(ctx, conn, func(ctx context.Context, tx *sql.Tx) error {
			return fn(ctx, tx)
		})
	default:
		return fn(ctx, db)
	}
}
