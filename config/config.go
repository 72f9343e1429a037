// Package config loads the static configuration surface: endpoint URL,
// debounce window and the storage caps.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the full configuration of the picking terminal.
type Config struct {
	EndpointURL        string `mapstructure:"endpoint_url"`
	HTTPPort           string `mapstructure:"http_port"`
	DataDir            string `mapstructure:"data_dir"`
	DebounceWindowMs   int    `mapstructure:"debounce_window_ms"`
	OfflineQueueCap    int    `mapstructure:"offline_queue_cap"`
	AuditLogCap        int    `mapstructure:"audit_log_cap"`
	AuditLogMaxAgeDays int    `mapstructure:"audit_log_max_age_days"`
	AllowOverscan      bool   `mapstructure:"allow_overscan"`
}

// DebounceWindow returns the scan window as a duration.
func (c *Config) DebounceWindow() time.Duration {
	return time.Duration(c.DebounceWindowMs) * time.Millisecond
}

// AuditMaxAge returns the audit retention as a duration.
func (c *Config) AuditMaxAge() time.Duration {
	return time.Duration(c.AuditLogMaxAgeDays) * 24 * time.Hour
}

// Load reads configuration from the optional file at path, falling back
// to PICKING_* environment variables and the production defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetDefault("endpoint_url", "https://tritton.dev.br/webhook/picking-process")
	v.SetDefault("http_port", "8080")
	v.SetDefault("data_dir", "./picking-data")
	v.SetDefault("debounce_window_ms", 60)
	v.SetDefault("offline_queue_cap", 20)
	v.SetDefault("audit_log_cap", 50)
	v.SetDefault("audit_log_max_age_days", 7)
	v.SetDefault("allow_overscan", false)

	v.SetEnvPrefix("PICKING")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if cfg.EndpointURL == "" {
		return nil, fmt.Errorf("endpoint_url must not be empty")
	}
	return &cfg, nil
}
