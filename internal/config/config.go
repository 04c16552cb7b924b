// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Keep fields unexported where possible and use functional options.
// - Provide New(...Option) initializer to build a Config with defaults.
// - External errors must be wrapped via this package's error helpers.
package config

import (
	"runtime"
)

// Config contains process configuration. Extend as needed.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// ReadTimeoutS, WriteTimeoutS and IdleTimeoutS bound HTTP server I/O,
	// in seconds.
	ReadTimeoutS  int `koanf:"read_timeout_s"`
	WriteTimeoutS int `koanf:"write_timeout_s"`
	IdleTimeoutS  int `koanf:"idle_timeout_s"`

	// DBDriver selects the persistence backend: sqlite or postgres.
	DBDriver string `koanf:"db_driver"`

	// DBDSN is the driver-specific data source name.
	DBDSN string `koanf:"db_dsn"`

	// EventQueueSize bounds the in-memory raw event queue.
	EventQueueSize int `koanf:"queue_size"`

	// WorkerCount sets the number of normalization workers.
	WorkerCount int `koanf:"worker_count"`

	// IdentityCacheSize bounds the provider-identity cache.
	IdentityCacheSize int `koanf:"identity_cache_size"`

	// IdentityTimeoutMS caps the identity lookup on the ingest path, in
	// milliseconds. The webhook handler answers within this bound even
	// when the store is slow.
	IdentityTimeoutMS int `koanf:"identity_timeout_ms"`

	// MaxBodyBytes caps the accepted webhook body size.
	MaxBodyBytes int64 `koanf:"max_body_bytes"`

	// SignatureMaxSkewS bounds the accepted age of a signed webhook
	// timestamp, in seconds.
	SignatureMaxSkewS int `koanf:"signature_max_skew_s"`

	// WebhookSecrets maps provider names to their shared signing secret
	// or static token. A provider without a secret rejects everything.
	WebhookSecrets map[string]string `koanf:"webhook_secrets"`

	// PrioritiesFile names the YAML file holding source priorities. The
	// file is watched and reloaded without restart.
	PrioritiesFile string `koanf:"priorities_file"`

	// DefaultPriority ranks sources absent from the priorities file.
	DefaultPriority int `koanf:"default_priority"`

	// MaxListLimit caps GET /v1/rawevents?limit.
	MaxListLimit int `koanf:"max_list_limit"`

	// MaxRangeDays caps the span of timeline queries.
	MaxRangeDays int `koanf:"max_range_days"`

	// SentryDSN enables crash reporting when set.
	SentryDSN string `koanf:"sentry_dsn"`

	// Environment tags logs and crash reports, e.g. dev, staging, prod.
	Environment string `koanf:"environment"`
}

// New creates a Config populated with defaults.
func New() *Config {
	c := &Config{
		LogLevel:          "info",
		Addr:              ":9080",
		ReadTimeoutS:      15,
		WriteTimeoutS:     30,
		IdleTimeoutS:      60,
		DBDriver:          "sqlite",
		DBDSN:             "vitals.db",
		EventQueueSize:    100_000,
		WorkerCount:       runtime.NumCPU() * 4,
		IdentityCacheSize: 10_000,
		IdentityTimeoutMS: 2000,
		MaxBodyBytes:      1 << 20,
		SignatureMaxSkewS: 300,
		WebhookSecrets:    map[string]string{},
		PrioritiesFile:    "priorities.yaml",
		DefaultPriority:   0,
		MaxListLimit:      500,
		MaxRangeDays:      366,
		Environment:       "dev",
	}
	return c
}
