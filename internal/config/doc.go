// Package config handles configuration loading, parsing, and validation
// from environment variables and an optional config file. It provides
// type-safe access to the settings needed by the scheduler, the stores,
// media storage and the transfer jobs.
package config
