// Package config loads dartrtctl's runtime configuration from a YAML file
// overlaid with environment variables, matching the precedence the tasking
// system this runtime is modeled on uses for its own DART_* settings:
// environment always wins over whatever the file says, so an operator can
// override one field without editing the file.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the complete dartrtctl configuration.
type Config struct {
	Runtime struct {
		NumaDomains      int    `yaml:"numa_domains"`
		WorkersPerDomain int    `yaml:"workers_per_domain"`
		Backoff          string `yaml:"backoff"` // "poll", "sleep", "condvar"
	} `yaml:"runtime"`

	Transport struct {
		Units int `yaml:"units"`
	} `yaml:"transport"`

	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Addr    string `yaml:"addr"`
	} `yaml:"metrics"`

	Log struct {
		Level string `yaml:"level"` // "debug", "info", "warn", "error"
	} `yaml:"log"`
}

// Default returns the configuration dartrtctl falls back to when no config
// file is given and no environment overrides are set.
func Default() *Config {
	cfg := &Config{}
	cfg.Runtime.NumaDomains = 1
	cfg.Runtime.WorkersPerDomain = 4
	cfg.Runtime.Backoff = "sleep"
	cfg.Transport.Units = 1
	cfg.Metrics.Enabled = false
	cfg.Metrics.Addr = ":9090"
	cfg.Log.Level = "info"
	return cfg
}

// Load reads path (if non-empty and present) as YAML over Default, then
// applies environment variable overrides, and returns the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

// applyEnv overrides cfg's fields with DARTRT_* environment variables,
// when set. This always takes precedence over the YAML file.
func applyEnv(cfg *Config) {
	if v := os.Getenv("DARTRT_NUMA_DOMAINS"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Runtime.NumaDomains)
	}
	if v := os.Getenv("DARTRT_WORKERS_PER_DOMAIN"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Runtime.WorkersPerDomain)
	}
	if v := os.Getenv("DARTRT_BACKOFF"); v != "" {
		cfg.Runtime.Backoff = v
	}
	if v := os.Getenv("DARTRT_UNITS"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Transport.Units)
	}
	if v := os.Getenv("DARTRT_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = v == "1" || v == "true"
	}
	if v := os.Getenv("DARTRT_METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}
	if v := os.Getenv("DARTRT_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}
