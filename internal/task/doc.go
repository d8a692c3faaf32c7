// Package task runs long operations such as box export and import in the
// background. Jobs are queued in memory, processed by a fixed pool of
// workers, and can be polled and cancelled by the user who submitted them.
package task
