// Package config loads the docpipeline service configuration.
//
// Values come from defaults, an optional TOML/YAML file and DOCPIPELINE_*
// environment variables, in increasing precedence. Nested keys map to
// environment names with "." replaced by "_", e.g. worker.concurrency is
// DOCPIPELINE_WORKER_CONCURRENCY.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "DOCPIPELINE"

// Config is the full service configuration.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Retry    RetryConfig    `mapstructure:"retry"`
	Jobs     JobsConfig     `mapstructure:"jobs"`
	Cleanup  CleanupConfig  `mapstructure:"cleanup"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
}

// DatabaseConfig selects the job and domain database.
type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"` // sqlite or postgres
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

// StorageConfig locates uploaded and converted files.
type StorageConfig struct {
	UploadPath string `mapstructure:"upload_path"`
	PdfPath    string `mapstructure:"pdf_path"`
}

// WorkerConfig sizes the worker pool and dispatcher.
type WorkerConfig struct {
	ID                string        `mapstructure:"id"`
	Concurrency       int           `mapstructure:"concurrency"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	BatchSize         int           `mapstructure:"batch_size"`
	VisibilityTimeout time.Duration `mapstructure:"visibility_timeout"`
	ShutdownGrace     time.Duration `mapstructure:"shutdown_grace"`
}

// RetryConfig is the handler retry schedule.
type RetryConfig struct {
	Delays      []time.Duration `mapstructure:"delays"`
	MaxAttempts int             `mapstructure:"max_attempts"` // 0 means len(Delays)
}

// JobsConfig tunes the job handlers.
type JobsConfig struct {
	ConversionDelay   time.Duration `mapstructure:"conversion_delay"`
	ConversionTimeout time.Duration `mapstructure:"conversion_timeout"`
	NoticeTimeout     time.Duration `mapstructure:"notice_timeout"`
	MissingDocument   string        `mapstructure:"missing_document"` // succeed or fail
}

// CleanupConfig drives the nightly cleanup rule.
type CleanupConfig struct {
	Schedule      string        `mapstructure:"schedule"`
	Timezone      string        `mapstructure:"timezone"`
	RetentionDays int           `mapstructure:"retention_days"`
	FailedOnly    bool          `mapstructure:"failed_only"`
	SweepOrphans  bool          `mapstructure:"sweep_orphans"`
	TickInterval  time.Duration `mapstructure:"tick_interval"`
}

// NotifyConfig rate limits outgoing notices.
type NotifyConfig struct {
	PerSecond float64 `mapstructure:"per_second"`
	Burst     int     `mapstructure:"burst"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr           string `mapstructure:"addr"`
	MaxUploadBytes int64  `mapstructure:"max_upload_bytes"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// Retention returns the cleanup retention window.
func (c CleanupConfig) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// Location resolves the cleanup timezone. "Local" and "" mean the host zone.
func (c CleanupConfig) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("cleanup.timezone: %w", err)
	}
	return loc, nil
}

// SetDefaults configures default values for all configuration options.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "docpipeline.db")
	v.SetDefault("database.max_open_conns", 0) // 0 keeps the pool default
	v.SetDefault("database.max_idle_conns", 0)

	v.SetDefault("storage.upload_path", "uploads")
	v.SetDefault("storage.pdf_path", "uploads/pdfs")

	v.SetDefault("worker.id", "") // generated when empty
	v.SetDefault("worker.concurrency", 5)
	v.SetDefault("worker.poll_interval", time.Second)
	v.SetDefault("worker.batch_size", 10)
	v.SetDefault("worker.visibility_timeout", 5*time.Minute)
	v.SetDefault("worker.shutdown_grace", 30*time.Second)

	v.SetDefault("retry.delays", []string{"5m", "10m"})
	v.SetDefault("retry.max_attempts", 0)

	v.SetDefault("jobs.conversion_delay", 30*time.Second)
	v.SetDefault("jobs.conversion_timeout", 5*time.Minute)
	v.SetDefault("jobs.notice_timeout", time.Minute)
	v.SetDefault("jobs.missing_document", "succeed")

	v.SetDefault("cleanup.schedule", "0 0 * * *") // midnight
	v.SetDefault("cleanup.timezone", "Local")
	v.SetDefault("cleanup.retention_days", 7)
	v.SetDefault("cleanup.failed_only", true)
	v.SetDefault("cleanup.sweep_orphans", false)
	v.SetDefault("cleanup.tick_interval", 30*time.Second)

	v.SetDefault("notify.per_second", 5.0)
	v.SetDefault("notify.burst", 5)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.max_upload_bytes", 10<<20)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)
}

// New returns a viper instance with defaults and environment binding set up.
// When path is non-empty the file is read as well.
func New(path string) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}
	return v, nil
}

// Load reads the configuration from path (optional) and the environment.
func Load(path string) (*Config, error) {
	v, err := New(path)
	if err != nil {
		return nil, err
	}
	return FromViper(v)
}

// FromViper unmarshals and validates the configuration held by v.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("database.driver: unsupported driver %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.Storage.UploadPath == "" || c.Storage.PdfPath == "" {
		return fmt.Errorf("storage.upload_path and storage.pdf_path are required")
	}
	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("worker.concurrency must be at least 1")
	}
	if c.Worker.PollInterval < 0 {
		return fmt.Errorf("worker.poll_interval must not be negative")
	}
	if len(c.Retry.Delays) == 0 {
		return fmt.Errorf("retry.delays must not be empty")
	}
	for _, d := range c.Retry.Delays {
		if d < 0 {
			return fmt.Errorf("retry.delays must not be negative")
		}
	}
	switch c.Jobs.MissingDocument {
	case "succeed", "fail":
	default:
		return fmt.Errorf("jobs.missing_document must be succeed or fail, got %q", c.Jobs.MissingDocument)
	}
	if c.Cleanup.RetentionDays < 0 {
		return fmt.Errorf("cleanup.retention_days must not be negative")
	}
	if _, err := c.Cleanup.Location(); err != nil {
		return err
	}
	if c.Notify.PerSecond <= 0 || c.Notify.Burst < 1 {
		return fmt.Errorf("notify.per_second and notify.burst must be positive")
	}
	return nil
}
