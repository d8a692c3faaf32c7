// Package store defines interfaces for data persistence operations.
// These interfaces abstract the underlying data storage mechanism from
// the application's core logic, allowing scheduling and import rules to
// remain independent of specific database technologies.
//
// Multi-row mutations (batch updates, batch deletes, box deletion) are
// atomic: either every row changes or none does.
package store
