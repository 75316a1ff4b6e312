// Package config loads and validates the gateway's runtime configuration:
// worker pool bounds, session/task store tunables, and defaults applied
// when a request omits them.
package config

import "time"

// Config is the root configuration structure (spec §6).
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Pool    PoolConfig    `mapstructure:"pool"`
	Storage StorageConfig `mapstructure:"storage"`
	Session SessionConfig `mapstructure:"session"`
	Runner  RunnerConfig  `mapstructure:"runner"`
}

// ServerConfig configures the reference HTTP surface.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// PoolConfig configures the Worker Pool (spec §4.2, §6).
type PoolConfig struct {
	WorkerConcurrency    int           `mapstructure:"worker_concurrency"`
	MaxQueueSize         int           `mapstructure:"max_queue_size"`
	RequestTimeoutMillis int           `mapstructure:"request_timeout_millis"`
	QueueTimeoutMillis   int           `mapstructure:"queue_timeout_millis"`
}

// RequestTimeout returns the configured request timeout as a Duration.
func (c PoolConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMillis) * time.Millisecond
}

// QueueTimeout returns the configured queue timeout as a Duration.
func (c PoolConfig) QueueTimeout() time.Duration {
	return time.Duration(c.QueueTimeoutMillis) * time.Millisecond
}

// StorageConfig configures the single SQLite file backing both the Session
// Store and the Task Store (spec §6 "Persisted state": "a single local
// file containing two tables: sessions(...) and tasks(...)").
type StorageConfig struct {
	DBPath string `mapstructure:"db_path"`
}

// SessionConfig configures the Session Store (spec §4.3, §6).
type SessionConfig struct {
	TTLMillis             int `mapstructure:"ttl_millis"`
	MaxSessionsPerKey     int `mapstructure:"max_sessions_per_key"`
	CleanupIntervalMillis int `mapstructure:"cleanup_interval_millis"`
}

// TTL returns the configured session inactivity TTL as a Duration.
func (c SessionConfig) TTL() time.Duration {
	return time.Duration(c.TTLMillis) * time.Millisecond
}

// CleanupInterval returns the configured sweep cadence as a Duration.
func (c SessionConfig) CleanupInterval() time.Duration {
	return time.Duration(c.CleanupIntervalMillis) * time.Millisecond
}

// RunnerConfig holds the defaults applied when a request omits them
// (spec §6).
type RunnerConfig struct {
	DefaultModel        string `mapstructure:"default_model"`
	DefaultWorkspaceDir string `mapstructure:"default_workspace_dir"`
	CLIPath             string `mapstructure:"cli_path"`
}

// Defaults returns the configuration spec §6 specifies when a value is
// left unset, applied before Validate so a zero-value field never trips a
// bound check it wasn't meant to.
func Defaults() Config {
	return Config{
		Server: ServerConfig{Addr: ":8080"},
		Pool: PoolConfig{
			WorkerConcurrency:    2,
			MaxQueueSize:         100,
			RequestTimeoutMillis: 300_000,
			QueueTimeoutMillis:   60_000,
		},
		Storage: StorageConfig{
			DBPath: "gatewayd.db",
		},
		Session: SessionConfig{
			TTLMillis:             3_600_000,
			MaxSessionsPerKey:     10,
			CleanupIntervalMillis: 60_000,
		},
		Runner: RunnerConfig{
			CLIPath: "claude",
		},
	}
}

// applyDefaults fills any zero-valued field of cfg from Defaults(),
// field-by-field, so a partially-specified file or env override doesn't
// zero out the rest.
func applyDefaults(cfg *Config) {
	d := Defaults()

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = d.Server.Addr
	}
	if cfg.Pool.WorkerConcurrency == 0 {
		cfg.Pool.WorkerConcurrency = d.Pool.WorkerConcurrency
	}
	if cfg.Pool.MaxQueueSize == 0 {
		cfg.Pool.MaxQueueSize = d.Pool.MaxQueueSize
	}
	if cfg.Pool.RequestTimeoutMillis == 0 {
		cfg.Pool.RequestTimeoutMillis = d.Pool.RequestTimeoutMillis
	}
	if cfg.Pool.QueueTimeoutMillis == 0 {
		cfg.Pool.QueueTimeoutMillis = d.Pool.QueueTimeoutMillis
	}
	if cfg.Storage.DBPath == "" {
		cfg.Storage.DBPath = d.Storage.DBPath
	}
	if cfg.Session.TTLMillis == 0 {
		cfg.Session.TTLMillis = d.Session.TTLMillis
	}
	if cfg.Session.MaxSessionsPerKey == 0 {
		cfg.Session.MaxSessionsPerKey = d.Session.MaxSessionsPerKey
	}
	if cfg.Session.CleanupIntervalMillis == 0 {
		cfg.Session.CleanupIntervalMillis = d.Session.CleanupIntervalMillis
	}
	if cfg.Runner.CLIPath == "" {
		cfg.Runner.CLIPath = d.Runner.CLIPath
	}
}
