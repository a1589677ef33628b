// Package config loads the taskctl configuration file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"
)

var (
	ErrConfigNotFound   = errors.New("configuration file not found")
	ErrInvalidFormat    = errors.New("invalid configuration format")
	ErrValidationFailed = errors.New("configuration validation failed")
	ErrMissingEnvVar    = errors.New("missing environment variable")
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverFile     = "file"
	DriverSQLite   = "sqlite"
	DriverBadger   = "badger"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// Log formats. "logrus" selects the logrus text formatter instead of slog.
const (
	FormatText   = "text"
	FormatJSON   = "json"
	FormatLogrus = "logrus"
)

// Config is the complete application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store"`
	Log       LogConfig       `yaml:"log"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Retry     RetryConfig     `yaml:"retry"`
}

// StoreConfig selects and configures the event store backend.
type StoreConfig struct {
	// Driver is one of memory, file, sqlite, badger, postgres or redis.
	Driver string `yaml:"driver"`

	// DSN is the sqlite data source name, the postgres connection string or
	// the redis address.
	DSN string `yaml:"dsn"`

	// Dir is the data directory of the file and badger drivers.
	Dir string `yaml:"dir"`

	// KeyPrefix namespaces badger and redis keys.
	KeyPrefix string `yaml:"key_prefix"`

	// Schema is the postgres schema holding the tables.
	Schema string `yaml:"schema"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SlogLevel maps Level to a slog level, defaulting to info.
func (c LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(c.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type TelemetryConfig struct {
	// Enabled writes spans of every store operation to stderr.
	Enabled bool `yaml:"enabled"`
}

// RetryConfig controls how often an update is retried after losing a race
// against another writer.
type RetryConfig struct {
	MaxAttempts     int           `yaml:"max_attempts"`
	InitialInterval time.Duration `yaml:"initial_interval"`
}

// Default returns the configuration used for every field the file leaves out.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Driver: DriverFile,
			Dir:    ".taskctl",
			Schema: "public",
		},
		Log: LogConfig{
			Level:  "info",
			Format: FormatText,
		},
		Retry: RetryConfig{
			MaxAttempts:     3,
			InitialInterval: 50 * time.Millisecond,
		},
	}
}

var (
	drivers = []string{DriverMemory, DriverFile, DriverSQLite, DriverBadger, DriverPostgres, DriverRedis}
	levels  = []string{"debug", "info", "warn", "warning", "error"}
	formats = []string{FormatText, FormatJSON, FormatLogrus}
)

// Validate reports every problem found in c.
func (c *Config) Validate() error {
	var errs []error

	switch c.Store.Driver {
	case DriverFile, DriverBadger:
		if c.Store.Dir == "" {
			errs = append(errs, fmt.Errorf("store.dir is required for driver %q", c.Store.Driver))
		}
	case DriverSQLite, DriverPostgres, DriverRedis:
		if c.Store.DSN == "" {
			errs = append(errs, fmt.Errorf("store.dsn is required for driver %q", c.Store.Driver))
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("store.driver %q is not one of %s", c.Store.Driver, strings.Join(drivers, ", ")))
	}

	if !slices.Contains(levels, strings.ToLower(c.Log.Level)) {
		errs = append(errs, fmt.Errorf("log.level %q is not one of %s", c.Log.Level, strings.Join(levels, ", ")))
	}
	if !slices.Contains(formats, c.Log.Format) {
		errs = append(errs, fmt.Errorf("log.format %q is not one of %s", c.Log.Format, strings.Join(formats, ", ")))
	}

	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("retry.max_attempts must be at least 1, got %d", c.Retry.MaxAttempts))
	}
	if c.Retry.InitialInterval < 0 {
		errs = append(errs, fmt.Errorf("retry.initial_interval must not be negative, got %s", c.Retry.InitialInterval))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrValidationFailed, errors.Join(errs...))
	}
	return nil
}
