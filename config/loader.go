package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration from path (if non-empty) merged with
// GATEWAY_-prefixed environment variables, following CZERTAINLY-Seeker's
// internal/service.ParseConfig pattern of unmarshalling viper into a
// mapstructure-tagged struct. Defaults are applied before validation.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("GATEWAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Unmarshal only sees environment variables for keys viper already
	// knows, so every recognized key is bound explicitly.
	for _, key := range []string{
		"server.addr", "storage.db_path",
		"pool.worker_concurrency", "pool.max_queue_size", "pool.request_timeout_millis", "pool.queue_timeout_millis",
		"session.ttl_millis", "session.max_sessions_per_key", "session.cleanup_interval_millis",
		"runner.default_model", "runner.default_workspace_dir", "runner.cli_path",
	} {
		if err := v.BindEnv(key); err != nil {
			return Config{}, fmt.Errorf("config: bind env %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}

	applyDefaults(&cfg)

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
