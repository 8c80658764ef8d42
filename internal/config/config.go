// ABOUTME: Configuration loading and parsing for helmsman
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete helmsman configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Registry RegistryConfig `yaml:"registry"`
	Database DatabaseConfig `yaml:"database"`
	Agents   AgentsConfig   `yaml:"agents"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// RegistryConfig holds the registry document configuration
type RegistryConfig struct {
	// Path to the persisted registry document (JSON, rewritten on every mutation)
	Path string `yaml:"path"`
}

// DatabaseConfig holds the delivery-history database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AgentsConfig holds agent-related timing configuration
type AgentsConfig struct {
	HeartbeatInterval time.Duration `yaml:"-"`
	HeartbeatTimeout  time.Duration `yaml:"-"`
	DispatchInterval  time.Duration `yaml:"-"`
	ConnectTimeout    time.Duration `yaml:"-"`
	ResponseTimeout   time.Duration `yaml:"-"`
	EntryMaxAge       time.Duration `yaml:"-"`
	EvictionInterval  time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	HeartbeatIntervalRaw string `yaml:"heartbeat_interval"`
	HeartbeatTimeoutRaw  string `yaml:"heartbeat_timeout"`
	DispatchIntervalRaw  string `yaml:"dispatch_interval"`
	ConnectTimeoutRaw    string `yaml:"connect_timeout"`
	ResponseTimeoutRaw   string `yaml:"response_timeout"`
	EntryMaxAgeRaw       string `yaml:"entry_max_age"`
	EvictionIntervalRaw  string `yaml:"eviction_interval"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults applied when the corresponding fields are absent from the file.
const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultHeartbeatTimeout  = 90 * time.Second
	DefaultDispatchInterval  = 500 * time.Millisecond
	DefaultConnectTimeout    = 2 * time.Second
	DefaultResponseTimeout   = 10 * time.Second
	DefaultEntryMaxAge       = 1 * time.Hour
	DefaultEvictionInterval  = 5 * time.Minute
)

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Registry.Path == "" {
		return fmt.Errorf("registry.path is required")
	}

	if c.Agents.HeartbeatTimeout <= c.Agents.HeartbeatInterval {
		return fmt.Errorf("agents.heartbeat_timeout (%s) must be greater than agents.heartbeat_interval (%s)",
			c.Agents.HeartbeatTimeout, c.Agents.HeartbeatInterval)
	}

	return nil
}

// applyDefaults fills in defaults for timing fields that were not configured.
func (c *Config) applyDefaults() {
	if c.Agents.HeartbeatInterval == 0 {
		c.Agents.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.Agents.HeartbeatTimeout == 0 {
		c.Agents.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if c.Agents.DispatchInterval == 0 {
		c.Agents.DispatchInterval = DefaultDispatchInterval
	}
	if c.Agents.ConnectTimeout == 0 {
		c.Agents.ConnectTimeout = DefaultConnectTimeout
	}
	if c.Agents.ResponseTimeout == 0 {
		c.Agents.ResponseTimeout = DefaultResponseTimeout
	}
	if c.Agents.EntryMaxAge == 0 {
		c.Agents.EntryMaxAge = DefaultEntryMaxAge
	}
	if c.Agents.EvictionInterval == 0 {
		c.Agents.EvictionInterval = DefaultEvictionInterval
	}
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		raw  string
		name string
		dst  *time.Duration
	}{
		{cfg.Agents.HeartbeatIntervalRaw, "heartbeat_interval", &cfg.Agents.HeartbeatInterval},
		{cfg.Agents.HeartbeatTimeoutRaw, "heartbeat_timeout", &cfg.Agents.HeartbeatTimeout},
		{cfg.Agents.DispatchIntervalRaw, "dispatch_interval", &cfg.Agents.DispatchInterval},
		{cfg.Agents.ConnectTimeoutRaw, "connect_timeout", &cfg.Agents.ConnectTimeout},
		{cfg.Agents.ResponseTimeoutRaw, "response_timeout", &cfg.Agents.ResponseTimeout},
		{cfg.Agents.EntryMaxAgeRaw, "entry_max_age", &cfg.Agents.EntryMaxAge},
		{cfg.Agents.EvictionIntervalRaw, "eviction_interval", &cfg.Agents.EvictionInterval},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
