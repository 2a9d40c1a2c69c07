// Package config provides YAML configuration loading and validation for the
// bruteguard agent.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/bruteguard/bruteguard/internal/eventlog"
)

// Config is the top-level configuration structure for the bruteguard agent.
//
// Unknown YAML keys are ignored so that configuration files can be shared
// with newer or older agent builds.
type Config struct {
	// HostID uniquely identifies this host in the collector's registry.
	// Required.
	HostID string `yaml:"host_id"`

	// CollectorURL is the collector's event-ingest endpoint, e.g.
	// "https://collector.example.com:3000/api/v1/events". Required.
	CollectorURL string `yaml:"collector_url"`

	// PollInterval is the subscription wait timeout in seconds. It bounds
	// how stale a missed event can get before the safety-net pull recovers
	// it. Defaults to 10.
	PollInterval int `yaml:"poll_interval"`

	// EventID is the event code to subscribe to. Defaults to 4625
	// (failed logon).
	EventID int `yaml:"event_id"`

	// StateDir is the directory holding the agent's dedup state file
	// "<host_id>_seen.json". Defaults to the working directory.
	StateDir string `yaml:"state_dir"`

	// LogLevel sets the minimum log severity: "debug", "info", "warn", or
	// "error". Defaults to "info" when omitted.
	LogLevel string `yaml:"log_level"`

	// HealthAddr is the listen address for the /healthz and /metrics HTTP
	// server. Defaults to "127.0.0.1:9090".
	HealthAddr string `yaml:"health_addr"`
}

// SeenPath returns the path of the dedup fingerprint file for this host.
func (c *Config) SeenPath() string {
	return filepath.Join(c.StateDir, c.HostID+"_seen.json")
}

// LoadConfig reads the YAML file at path, applies defaults, and validates the
// resulting configuration.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %q: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML bytes, applies defaults, and validates the configuration.
// Callers who already have the YAML in memory (e.g. tests) should use this
// function directly.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in omitted fields with production values. It is called
// before validation so that validation can rely on defaults being present.
func applyDefaults(cfg *Config) {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 10
	}
	if cfg.EventID == 0 {
		cfg.EventID = eventlog.FailedLoginEventID
	}
	if cfg.StateDir == "" {
		cfg.StateDir = "."
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.HealthAddr == "" {
		cfg.HealthAddr = "127.0.0.1:9090"
	}
}

// validate checks cfg for semantic errors.
func validate(cfg *Config) error {
	if cfg.HostID == "" {
		return fmt.Errorf("host_id must not be empty")
	}
	if cfg.CollectorURL == "" {
		return fmt.Errorf("collector_url must not be empty")
	}
	u, err := url.Parse(cfg.CollectorURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("collector_url %q is not a valid URL", cfg.CollectorURL)
	}
	if cfg.PollInterval < 0 {
		return fmt.Errorf("poll_interval must not be negative")
	}
	if cfg.EventID < 0 {
		return fmt.Errorf("event_id must not be negative")
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level %q is invalid; must be one of debug, info, warn, error", cfg.LogLevel)
	}
	return nil
}
