// Package shipperconfig handles loading and validating the telemetry
// shipper's configuration.
//
// # Configuration sources
//
// Configuration is loaded from (in order of precedence):
//  1. Command-line flags (applied by the caller, not this package)
//  2. Environment variables (SHIPPER_*)
//  3. Config file (YAML)
//  4. Defaults
//
// # Example config file
//
//	enterprise:
//	  base_url: https://telemetry.example.com
//	  token: shp_xxx
//
//	targets:
//	  - address: https://collector.partner.example.com
//	    auth_token: partner_xxx
//
//	batching:
//	  max_batch_bytes: 614400
//	  tick_interval: 1s
//
//	logging:
//	  max_log_level: 30
package shipperconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete shipper configuration.
type Config struct {
	Enterprise EnterpriseConfig `yaml:"enterprise"`
	Targets    []TargetConfig   `yaml:"targets,omitempty"`
	Batching   BatchingConfig   `yaml:"batching"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// EnterpriseConfig configures the implicit enterprise target's session
// API client.
type EnterpriseConfig struct {
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token"`
}

// TargetConfig configures one additional external target.
type TargetConfig struct {
	Address   string `yaml:"address"`
	AuthToken string `yaml:"auth_token,omitempty"`
}

// BatchingConfig configures batch sizing and flush cadence.
type BatchingConfig struct {
	MaxBatchBytes int           `yaml:"max_batch_bytes,omitempty"`
	TickInterval  time.Duration `yaml:"tick_interval,omitempty"`
}

// LoggingConfig configures log-stream filtering.
type LoggingConfig struct {
	MaxLogLevel int  `yaml:"max_log_level"`
	StreamLogs  bool `yaml:"stream_logs"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Batching: BatchingConfig{
			MaxBatchBytes: 600 * 1024,
			TickInterval:  1 * time.Second,
		},
		Logging: LoggingConfig{
			StreamLogs: true,
		},
	}
}

// LoadFromFile loads configuration from a YAML file, starting from
// DefaultConfig so unset fields keep their defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Enterprise.BaseURL == "" {
		return fmt.Errorf("enterprise.base_url is required")
	}
	return nil
}

// ApplyEnvOverrides applies environment variable overrides. Environment
// variables use the SHIPPER_ prefix:
//   - SHIPPER_ENTERPRISE_BASE_URL
//   - SHIPPER_ENTERPRISE_TOKEN
//   - SHIPPER_MAX_BATCH_BYTES
//   - SHIPPER_TARGETS (JSON array, e.g. '[{"address":"https://x","auth_token":"y"}]')
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("SHIPPER_ENTERPRISE_BASE_URL"); v != "" {
		c.Enterprise.BaseURL = v
	}
	if v := os.Getenv("SHIPPER_ENTERPRISE_TOKEN"); v != "" {
		c.Enterprise.Token = v
	}
	if v := os.Getenv("SHIPPER_MAX_BATCH_BYTES"); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil && n > 0 {
			c.Batching.MaxBatchBytes = n
		}
	}
	if v := os.Getenv("SHIPPER_TARGETS"); v != "" {
		var targets []TargetConfig
		if err := json.Unmarshal([]byte(v), &targets); err == nil {
			c.Targets = targets
		}
	}
}
