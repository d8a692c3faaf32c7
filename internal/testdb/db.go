package testdb

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/phrazzld/leitbox/internal/config"
	"github.com/phrazzld/leitbox/internal/platform/sqlstore"
	"github.com/stretchr/testify/require"
)

// TestTimeout defines a default timeout for test database operations.
const TestTimeout = 5 * time.Second

// GetTestDatabaseURL returns the PostgreSQL URL for integration tests.
// It checks LEITBOX_TEST_DATABASE_URL and DATABASE_URL in that order.
func GetTestDatabaseURL() string {
	if url := os.Getenv("LEITBOX_TEST_DATABASE_URL"); url != "" {
		return url
	}
	return os.Getenv("DATABASE_URL")
}

// IsIntegrationTestEnvironment reports whether a PostgreSQL database is configured.
func IsIntegrationTestEnvironment() bool {
	return GetTestDatabaseURL() != ""
}

// Env bundles a migrated database with stores bound to it.
type Env struct {
	DB      *sql.DB
	Dialect sqlstore.Dialect
	Boxes   *sqlstore.BoxStore
	Cards   *sqlstore.CardStore
}

// New returns a migrated database and its stores. The database is closed
// when the test finishes.
func New(t *testing.T) *Env {
	t.Helper()
	db, dialect := Open(t)
	return &Env{
		DB:      db,
		Dialect: dialect,
		Boxes:   sqlstore.NewBoxStore(db, dialect, nil),
		Cards:   sqlstore.NewCardStore(db, dialect, nil),
	}
}

// Open returns a migrated database connection, PostgreSQL when configured
// and in-memory SQLite otherwise.
func Open(t *testing.T) (*sql.DB, sqlstore.Dialect) {
	t.Helper()

	cfg := config.DatabaseConfig{Driver: "sqlite", URL: "file::memory:"}
	if url := GetTestDatabaseURL(); url != "" {
		cfg = config.DatabaseConfig{Driver: "postgres", URL: url, MaxOpenConns: 10, MaxIdleConns: 5}
	}

	ctx, cancel := context.WithTimeout(context.Background(), TestTimeout)
	defer cancel()

	db, dialect, err := sqlstore.Open(ctx, cfg, nil)
	require.NoError(t, err, "Failed to open test database")
	t.Cleanup(func() {
		CleanupDB(t, db)
	})

	require.NoError(t, sqlstore.Migrate(ctx, db, dialect, nil), "Failed to run migrations")
	return db, dialect
}

// CleanupDB properly closes a database connection, logging any errors.
func CleanupDB(t *testing.T, db *sql.DB) {
	t.Helper()
	if db == nil {
		return
	}
	if err := db.Close(); err != nil {
		t.Logf("Warning: failed to close database connection: %v", err)
	}
}

// WithTx executes a test function within a transaction, automatically rolling back
// after the test completes.
func WithTx(t *testing.T, db *sql.DB, fn func(t *testing.T, tx *sql.Tx)) {
	t.Helper()

	tx, err := db.BeginTx(context.Background(), nil)
	require.NoError(t, err, "Failed to begin transaction")

	// Ensure rollback happens after test completes or fails
	defer func() {
		err := tx.Rollback()
		// sql.ErrTxDone is expected if tx is already committed or rolled back
		if err != nil && !errors.Is(err, sql.ErrTxDone) {
			t.Logf("Warning: failed to rollback transaction: %v", err)
		}
	}()

	fn(t, tx)
}
