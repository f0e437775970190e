// ABOUTME: Configuration loading and parsing for hub-relay
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete hub-relay configuration
type Config struct {
	Server   ServerConfig      `yaml:"server"`
	Database DatabaseConfig    `yaml:"database"`
	Peers    map[string]string `yaml:"peers"` // identity -> shared secret
	Relay    RelayConfig       `yaml:"relay"`
	Logging  LoggingConfig     `yaml:"logging"`
}

// ServerConfig holds the websocket listener configuration
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// DatabaseConfig holds the pending-message database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// RelayConfig holds the protocol timing configuration. Overriding the
// defaults does not change protocol semantics.
type RelayConfig struct {
	PingInterval       time.Duration `yaml:"-"`
	HeartbeatTimeout   time.Duration `yaml:"-"`
	RequestTimeout     time.Duration `yaml:"-"`
	SweepInterval      time.Duration `yaml:"-"`
	RedeliveryInterval time.Duration `yaml:"-"`
	PendingMaxAge      time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	PingIntervalRaw       string `yaml:"ping_interval"`
	HeartbeatTimeoutRaw   string `yaml:"heartbeat_timeout"`
	RequestTimeoutRaw     string `yaml:"request_timeout"`
	SweepIntervalRaw      string `yaml:"sweep_interval"`
	RedeliveryIntervalRaw string `yaml:"redelivery_interval"`
	PendingMaxAgeRaw      string `yaml:"pending_max_age"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Timing defaults. The heartbeat threshold is 2x the ping cadence so one
// missed round-trip does not cause a false eviction.
const (
	DefaultPingInterval       = 45 * time.Second
	DefaultHeartbeatTimeout   = 90 * time.Second
	DefaultRequestTimeout     = 20 * time.Second
	DefaultSweepInterval      = 20 * time.Second
	DefaultRedeliveryInterval = 20 * time.Second
	DefaultPendingMaxAge      = 7 * 24 * time.Hour
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

	// Parse duration fields and apply defaults
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

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
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if len(c.Peers) == 0 {
		return fmt.Errorf("at least one peer must be configured")
	}
	for identity, secret := range c.Peers {
		if secret == "" {
			return fmt.Errorf("peer %q has an empty secret", identity)
		}
	}

	if c.Relay.HeartbeatTimeout < c.Relay.PingInterval {
		return fmt.Errorf("relay.heartbeat_timeout (%s) must be at least relay.ping_interval (%s)",
			c.Relay.HeartbeatTimeout, c.Relay.PingInterval)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values,
// falling back to the defaults when unset.
func parseDurations(cfg *Config) error {
	fields := []struct {
		raw      string
		name     string
		dst      *time.Duration
		fallback time.Duration
	}{
		{cfg.Relay.PingIntervalRaw, "ping_interval", &cfg.Relay.PingInterval, DefaultPingInterval},
		{cfg.Relay.HeartbeatTimeoutRaw, "heartbeat_timeout", &cfg.Relay.HeartbeatTimeout, DefaultHeartbeatTimeout},
		{cfg.Relay.RequestTimeoutRaw, "request_timeout", &cfg.Relay.RequestTimeout, DefaultRequestTimeout},
		{cfg.Relay.SweepIntervalRaw, "sweep_interval", &cfg.Relay.SweepInterval, DefaultSweepInterval},
		{cfg.Relay.RedeliveryIntervalRaw, "redelivery_interval", &cfg.Relay.RedeliveryInterval, DefaultRedeliveryInterval},
		{cfg.Relay.PendingMaxAgeRaw, "pending_max_age", &cfg.Relay.PendingMaxAge, DefaultPendingMaxAge},
	}

	for _, f := range fields {
		if f.raw == "" {
			*f.dst = f.fallback
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
