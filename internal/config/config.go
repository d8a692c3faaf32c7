package config

import (
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server" validate:"required"`
	Database  DatabaseConfig  `mapstructure:"database" validate:"required"`
	Auth      AuthConfig      `mapstructure:"auth" validate:"required"`
	Storage   StorageConfig   `mapstructure:"storage" validate:"required"`
	Archive   ArchiveConfig   `mapstructure:"archive" validate:"required"`
	Tasks     TaskConfig      `mapstructure:"tasks" validate:"required"`
	Scheduler SchedulerConfig `mapstructure:"scheduler" validate:"required"`
	Review    ReviewConfig    `mapstructure:"review" validate:"required"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel        string        `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// DatabaseConfig selects the SQL backend.
// For postgres URL is a connection string; for sqlite it is a file DSN.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver" validate:"required,oneof=postgres sqlite"`
	URL             string        `mapstructure:"url" validate:"required"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" validate:"gte=0"`
}

// AuthConfig contains all authentication and authorization settings.
type AuthConfig struct {
	JWTSecret     string        `mapstructure:"jwt_secret" validate:"required,min=32"`
	TokenLifetime time.Duration `mapstructure:"token_lifetime" validate:"gt=0"`
}

// StorageConfig configures where media files and export archives live.
type StorageConfig struct {
	Backend string `mapstructure:"backend" validate:"required,oneof=local gcs"`

	// LocalDir and PublicBaseURL are used by the local backend.
	LocalDir      string `mapstructure:"local_dir" validate:"required_if=Backend local"`
	PublicBaseURL string `mapstructure:"public_base_url" validate:"omitempty,url"`

	// Bucket is used by the gcs backend.
	Bucket string `mapstructure:"bucket" validate:"required_if=Backend gcs"`

	// ExportURLTTL is the lifetime of download links for exported archives.
	ExportURLTTL time.Duration `mapstructure:"export_url_ttl" validate:"gt=0"`

	// MediaURLTTL is the lifetime of the durable links stored in card configs.
	MediaURLTTL time.Duration `mapstructure:"media_url_ttl" validate:"gt=0"`
}

// ArchiveConfig bounds the export and import pipelines.
type ArchiveConfig struct {
	StagingDir      string        `mapstructure:"staging_dir"`
	MaxBytes        int64         `mapstructure:"max_bytes" validate:"gt=0"`
	MaxMediaBytes   int64         `mapstructure:"max_media_bytes" validate:"gt=0"`
	DownloadTimeout time.Duration `mapstructure:"download_timeout" validate:"gt=0"`
}

// TaskConfig sizes the background worker pool.
type TaskConfig struct {
	WorkerCount  int           `mapstructure:"worker_count" validate:"gt=0"`
	QueueSize    int           `mapstructure:"queue_size" validate:"gt=0"`
	StopTimeout  time.Duration `mapstructure:"stop_timeout" validate:"gt=0"`
	JobRetention time.Duration `mapstructure:"job_retention" validate:"gt=0"`
}

// SchedulerConfig configures the review schedule.
type SchedulerConfig struct {
	// Timezone is an IANA name used for calendar days when spreading new
	// cards. "Local" uses the host's zone.
	Timezone string `mapstructure:"timezone" validate:"required"`
}

// Location resolves Timezone.
func (c SchedulerConfig) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// ReviewConfig configures in-memory review sessions.
type ReviewConfig struct {
	SessionTTL time.Duration `mapstructure:"session_ttl" validate:"gt=0"`
}
