package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. LEITBOX_DATABASE_URL.
const EnvPrefix = "LEITBOX"

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.url", "")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 25)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_lifetime", 24*time.Hour)

	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.local_dir", "./data/media")
	v.SetDefault("storage.public_base_url", "http://localhost:8080/media")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.export_url_ttl", 15*time.Minute)
	v.SetDefault("storage.media_url_ttl", 10*365*24*time.Hour)

	v.SetDefault("archive.staging_dir", "")
	v.SetDefault("archive.max_bytes", int64(512<<20))
	v.SetDefault("archive.max_media_bytes", int64(50<<20))
	v.SetDefault("archive.download_timeout", 30*time.Second)

	v.SetDefault("tasks.worker_count", 2)
	v.SetDefault("tasks.queue_size", 64)
	v.SetDefault("tasks.stop_timeout", 30*time.Second)
	v.SetDefault("tasks.job_retention", time.Hour)

	v.SetDefault("scheduler.timezone", "Local")

	v.SetDefault("review.session_ttl", 2*time.Hour)
}

// Load reads configuration from defaults, an optional config.yaml in the
// working directory, and LEITBOX_ environment variables, in increasing
// order of precedence.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit config file. An empty path searches
// the working directory for config.yaml and tolerates its absence.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks struct constraints and values that need resolving.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	if _, err := cfg.Scheduler.Location(); err != nil {
		return fmt.Errorf("config validation failed: scheduler.timezone: %w", err)
	}
	return nil
}
