// Package config handles process configuration loading for the smart-home
// control plane: broker connection settings, the HTTP listen address,
// the data directory, the log level, and the RBAC policy. Device and rule catalogues
// are loaded separately by internal/registry and internal/rules.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order. An explicit
// path (from -config) is checked first by FindConfig; these are the
// fallbacks.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "smarthouse", "config.yaml"))
	}

	paths = append(paths, "/config/config.yaml") // Container convention
	paths = append(paths, "/etc/smarthouse/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must
// exist. Otherwise, searches DefaultSearchPaths and returns the first
// path that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all process configuration.
type Config struct {
	Listen      ListenConfig `yaml:"listen"`
	Broker      BrokerConfig `yaml:"broker"`
	DataDir     string       `yaml:"data_dir"`
	DevicesFile string       `yaml:"devices_file"`
	RulesFile   string       `yaml:"rules_file"`
	LogLevel    string       `yaml:"log_level"`
	// RBACPolicy maps role name to allowed tool names ("*" for all). A
	// nil/empty map falls back to rbac.DefaultPolicy.
	RBACPolicy map[string][]string `yaml:"rbac_policy"`
	// CameraEndpoints maps a camera device ID to its HTTP snapshot URL.
	CameraEndpoints map[string]string `yaml:"camera_endpoints"`
}

// ListenConfig defines the HTTP API server's bind settings.
type ListenConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// BrokerConfig defines the MQTT broker connection. The control plane
// opens two independent sessions against this same configuration — one
// for Tools' request/response traffic, one for the Context Manager's
// wildcard ingest — so a wildcard subscription never steals an RPC reply.
type BrokerConfig struct {
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// KeepAliveSec is the MQTT keep-alive interval in seconds.
	KeepAliveSec int `yaml:"keep_alive_sec"`
	// InboundRateLimitPerSec throttles inbound message dispatch on the
	// Tools session (the Context Manager's session is not throttled); it
	// is an ambient connection safeguard, not a spec'd behavior like the
	// supervisor's critical window.
	InboundRateLimitPerSec int `yaml:"inbound_rate_limit_per_sec"`
}

// Load reads configuration from a YAML file, expands environment
// variables, applies defaults for any unset fields, and validates the
// result. After Load returns successfully, all fields are usable without
// additional nil/empty checks.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables (e.g., ${BROKER_PASSWORD}). Convenience
	// for container deployments; putting secrets directly in the config
	// file is also supported.
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 8080
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.DevicesFile == "" {
		c.DevicesFile = "devices.json"
	}
	if c.RulesFile == "" {
		c.RulesFile = "rules.json"
	}
	if c.Broker.URL == "" {
		c.Broker.URL = "tcp://localhost:1883"
	}
	if c.Broker.KeepAliveSec == 0 {
		c.Broker.KeepAliveSec = 30
	}
	if c.Broker.InboundRateLimitPerSec == 0 {
		c.Broker.InboundRateLimitPerSec = 200
	}
}

// Validate checks that the configuration is internally consistent. It
// runs after applyDefaults, so it can assume defaults are populated.
func (c *Config) Validate() error {
	if c.Listen.Port < 1 || c.Listen.Port > 65535 {
		return fmt.Errorf("listen.port %d out of range (1-65535)", c.Listen.Port)
	}
	if c.Broker.URL == "" {
		return fmt.Errorf("broker.url must not be empty")
	}
	if c.LogLevel != "" {
		if _, err := ParseLogLevel(c.LogLevel); err != nil {
			return err
		}
	}
	return nil
}

// Default returns a default configuration suitable for local development
// against a broker on localhost. All defaults are already applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}
