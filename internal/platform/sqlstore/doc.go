// Package sqlstore provides SQL implementations of the storage interfaces
// defined in internal/store. One implementation serves both PostgreSQL
// (through pgx) and SQLite (through modernc.org/sqlite); the Dialect value
// hides placeholder syntax, schema differences and driver error codes.
package sqlstore
