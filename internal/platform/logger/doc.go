// Package logger configures the application's structured JSON logging and
// carries request-scoped loggers through context.Context.
package logger
