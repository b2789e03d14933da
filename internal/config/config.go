// Package config provides configuration management for the CrossRef
// ingestion service.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// SSL mode constants for database connections.
const (
	// SSLModeDisable disables SSL (use only for local development).
	SSLModeDisable = "disable"
	// SSLModeRequire requires SSL but does not verify certificates.
	SSLModeRequire = "require"
	// SSLModeVerifyCA verifies the server certificate against a CA.
	SSLModeVerifyCA = "verify-ca"
	// SSLModeVerifyFull verifies the server certificate and hostname.
	SSLModeVerifyFull = "verify-full"
)

// Config holds all configuration for the ingestion service.
type Config struct {
	// Source contains CrossRef API client settings.
	Source SourceConfig `mapstructure:"source"`
	// RawStore contains raw page capture settings.
	RawStore RawStoreConfig `mapstructure:"raw_store"`
	// Database contains PostgreSQL connection settings.
	Database DatabaseConfig `mapstructure:"database"`
	// Pipeline contains stage sequencing and retry settings.
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	// Logging contains structured logging settings.
	Logging LoggingConfig `mapstructure:"logging"`
	// Metrics contains Prometheus metrics exposure settings.
	Metrics MetricsConfig `mapstructure:"metrics"`
	// Server contains the metrics/health HTTP server settings.
	Server ServerConfig `mapstructure:"server"`
}

// SourceConfig holds CrossRef API client settings.
type SourceConfig struct {
	// BaseURL is the CrossRef API base URL.
	BaseURL string `mapstructure:"base_url" validate:"required,url"`
	// Email is the contact email for the polite pool. CrossRef grants
	// better service to requests that identify their operator.
	Email string `mapstructure:"email" validate:"omitempty,email"`
	// APIKey is an optional Crossref Metadata Plus token
	// (loaded from CRINGEST_SOURCE_API_KEY).
	APIKey string `mapstructure:"-"`
	// Rows is the page size requested per API call.
	Rows int `mapstructure:"rows" validate:"min=1,max=1000"`
	// Sort is the sort field for the works listing.
	Sort string `mapstructure:"sort"`
	// Order is the sort direction (asc, desc).
	Order string `mapstructure:"order" validate:"oneof=asc desc"`
	// Filter is an optional CrossRef filter expression (e.g. "type:journal-article").
	Filter string `mapstructure:"filter"`
	// Timeout is the per-request timeout.
	Timeout time.Duration `mapstructure:"timeout"`
	// RateLimit is the maximum requests per second.
	RateLimit float64 `mapstructure:"rate_limit" validate:"gt=0"`
	// BurstSize is the maximum burst of requests allowed.
	BurstSize int `mapstructure:"burst_size" validate:"min=1"`
	// MaxRetries is the maximum retry attempts per page fetch.
	MaxRetries int `mapstructure:"max_retries" validate:"min=0,max=10"`
	// RetryDelay is the base delay between retries.
	RetryDelay time.Duration `mapstructure:"retry_delay"`
}

// RawStoreConfig holds raw page capture settings.
type RawStoreConfig struct {
	// Backend selects the raw store implementation (fs, memory).
	Backend string `mapstructure:"backend" validate:"oneof=fs memory"`
	// Path is the root directory for the filesystem backend.
	Path string `mapstructure:"path"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	// Host is the PostgreSQL server hostname.
	Host string `mapstructure:"host" validate:"required"`
	// Port is the PostgreSQL server port (default: 5432).
	Port int `mapstructure:"port" validate:"min=1,max=65535"`
	// User is the database username.
	User string `mapstructure:"user"`
	// Password is the database password (use environment variable in production).
	Password string `mapstructure:"password"`
	// Name is the database name.
	Name string `mapstructure:"name" validate:"required"`
	// SSLMode controls SSL connection security (require, verify-ca, verify-full, disable).
	// Default is "require" for production security. Use "disable" only for local development.
	SSLMode string `mapstructure:"ssl_mode"`
	// MaxConns is the maximum number of connections in the pool.
	MaxConns int32 `mapstructure:"max_conns"`
	// MinConns is the minimum number of connections to keep open.
	MinConns int32 `mapstructure:"min_conns"`
	// MaxConnLifetime is the maximum lifetime of a connection before it's closed.
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	// MaxConnIdleTime is the maximum time a connection can be idle before it's closed.
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	// HealthCheckPeriod is the interval between health checks of idle connections.
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
	// ConnectTimeout is the maximum time to wait for a connection.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	// MigrationPath is the path to migration files (relative or absolute).
	MigrationPath string `mapstructure:"migration_path"`
	// MigrationAutoRun enables automatic migration on startup (default: false).
	MigrationAutoRun bool `mapstructure:"migration_auto_run"`
}

// PipelineConfig holds stage sequencing and retry settings.
type PipelineConfig struct {
	// MaxPages bounds the number of pages fetched per run. 0 means fetch
	// until the API reports no further results.
	MaxPages int `mapstructure:"max_pages" validate:"min=0"`
	// BatchSize is the number of records per load transaction.
	BatchSize int `mapstructure:"batch_size" validate:"min=1"`
	// AllowPartial treats a partial extraction (retry-exhausted page with
	// earlier pages captured) as success-with-warning instead of failure.
	AllowPartial bool `mapstructure:"allow_partial"`
	// NormalizeWorkers is the number of concurrent normalization workers.
	NormalizeWorkers int `mapstructure:"normalize_workers" validate:"min=1"`
	// StageMaxRetries is the retry budget for a transient stage failure.
	StageMaxRetries int `mapstructure:"stage_max_retries" validate:"min=0,max=10"`
	// StageInitialBackoff is the delay before the first stage retry.
	StageInitialBackoff time.Duration `mapstructure:"stage_initial_backoff"`
	// StageBackoffMultiplier controls exponential growth of the backoff interval.
	StageBackoffMultiplier float64 `mapstructure:"stage_backoff_multiplier" validate:"gte=1"`
	// StageMaxBackoff caps the stage retry backoff interval.
	StageMaxBackoff time.Duration `mapstructure:"stage_max_backoff"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level (trace, debug, info, warn, error, fatal, panic).
	Level string `mapstructure:"level"`
	// Format is the log format (json, console).
	Format string `mapstructure:"format"`
	// Output is the log output destination (stdout, stderr).
	Output string `mapstructure:"output"`
	// AddSource adds source file and line to log output.
	AddSource bool `mapstructure:"add_source"`
	// TimeFormat is the timestamp format.
	TimeFormat string `mapstructure:"time_format"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	// Enabled enables metrics collection and exposure.
	Enabled bool `mapstructure:"enabled"`
	// Path is the HTTP path for the metrics endpoint.
	Path string `mapstructure:"path"`
}

// ServerConfig holds the metrics/health HTTP server configuration.
type ServerConfig struct {
	// Host is the address to bind the server to (default: 0.0.0.0).
	Host string `mapstructure:"host"`
	// Port is the HTTP server port (default: 9091).
	Port int `mapstructure:"port" validate:"min=1,max=65535"`
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	params := url.Values{}
	params.Set("sslmode", c.SSLMode)
	if c.ConnectTimeout > 0 {
		params.Set("connect_timeout", fmt.Sprintf("%d", int(c.ConnectTimeout.Seconds())))
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?%s",
		url.QueryEscape(c.User),
		url.QueryEscape(c.Password),
		c.Host,
		c.Port,
		c.Name,
		params.Encode(),
	)
}

// Address returns the HTTP server listen address.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Load loads configuration from environment variables and config files.
func Load() (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Read from environment variables
	v.SetEnvPrefix("CRINGEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file if present
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/crossref-ingest")

	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK, we'll use env vars and defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Load secrets exclusively from environment variables.
	// These fields use mapstructure:"-" to prevent loading from config files.
	loadSecrets(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadSecrets populates secret fields exclusively from environment variables.
func loadSecrets(cfg *Config) {
	cfg.Source.APIKey = os.Getenv("CRINGEST_SOURCE_API_KEY")
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Source defaults. The API key is loaded exclusively from the
	// environment (see loadSecrets).
	v.SetDefault("source.base_url", "https://api.crossref.org")
	v.SetDefault("source.email", "")
	v.SetDefault("source.rows", 200)
	v.SetDefault("source.sort", "published")
	v.SetDefault("source.order", "desc")
	v.SetDefault("source.filter", "")
	v.SetDefault("source.timeout", "30s")
	v.SetDefault("source.rate_limit", 10.0)
	v.SetDefault("source.burst_size", 10)
	v.SetDefault("source.max_retries", 3)
	v.SetDefault("source.retry_delay", "1s")

	// Raw store defaults
	v.SetDefault("raw_store.backend", "fs")
	v.SetDefault("raw_store.path", "data/raw")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "cringest")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "crossref_ingest")
	// Default to "require" for production security. Use CRINGEST_DATABASE_SSL_MODE=disable for local development.
	v.SetDefault("database.ssl_mode", SSLModeRequire)
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")
	v.SetDefault("database.health_check_period", "30s")
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.migration_path", "migrations")
	v.SetDefault("database.migration_auto_run", false)

	// Pipeline defaults
	v.SetDefault("pipeline.max_pages", 5)
	v.SetDefault("pipeline.batch_size", 100)
	v.SetDefault("pipeline.allow_partial", false)
	v.SetDefault("pipeline.normalize_workers", 4)
	v.SetDefault("pipeline.stage_max_retries", 2)
	v.SetDefault("pipeline.stage_initial_backoff", "5s")
	v.SetDefault("pipeline.stage_backoff_multiplier", 2.0)
	v.SetDefault("pipeline.stage_max_backoff", "60s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 9091)
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.shutdown_timeout", "30s")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	// Struct-tag validation first.
	if err := validator.New().Struct(c); err != nil {
		var invalid *validator.InvalidValidationError
		if errors.As(err, &invalid) {
			return fmt.Errorf("validator setup: %w", err)
		}
		return err
	}

	// Cross-field checks the tags cannot express.
	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("max_conns (%d) must be >= min_conns (%d)", c.Database.MaxConns, c.Database.MinConns)
	}

	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if c.RawStore.Backend == "fs" && c.RawStore.Path == "" {
		return fmt.Errorf("raw_store.path is required for the fs backend")
	}

	return nil
}
