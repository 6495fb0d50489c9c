// ABOUTME: Configuration loading and parsing for the mentorsync client library
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete mentorsync client configuration.
type Config struct {
	Realtime RealtimeConfig `yaml:"realtime"`
	API      APIConfig      `yaml:"api"`
	Cache    CacheConfig    `yaml:"cache"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// RealtimeConfig holds the websocket transport configuration.
type RealtimeConfig struct {
	URL string `yaml:"url"`

	// MaxReconnectAttempts bounds the backoff loop after a transport drop.
	// After this many failed attempts the connection is terminally closed.
	MaxReconnectAttempts int `yaml:"max_reconnect_attempts"`

	ReconnectBaseDelay time.Duration `yaml:"-"`
	HandshakeTimeout   time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	ReconnectBaseDelayRaw string `yaml:"reconnect_base_delay"`
	HandshakeTimeoutRaw   string `yaml:"handshake_timeout"`
}

// APIConfig holds the platform REST API configuration.
type APIConfig struct {
	BaseURL string `yaml:"base_url"`

	RequestTimeout time.Duration `yaml:"-"`

	RequestTimeoutRaw string `yaml:"request_timeout"`
}

// CacheConfig holds the local conversation cache configuration.
type CacheConfig struct {
	// Path is the sqlite file for the local message cache.
	// Empty disables on-disk caching; an in-memory cache is used instead.
	Path string `yaml:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults applied when the config file omits a value.
const (
	DefaultMaxReconnectAttempts = 5
	DefaultReconnectBaseDelay   = time.Second
	DefaultHandshakeTimeout     = 10 * time.Second
	DefaultRequestTimeout       = 15 * time.Second
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
	if c.Realtime.URL == "" {
		return fmt.Errorf("realtime.url is required")
	}
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}
	if c.Realtime.MaxReconnectAttempts < 0 {
		return fmt.Errorf("realtime.max_reconnect_attempts must not be negative")
	}
	return nil
}

// applyDefaults fills in zero-valued optional fields.
func (c *Config) applyDefaults() {
	if c.Realtime.MaxReconnectAttempts == 0 {
		c.Realtime.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.Realtime.ReconnectBaseDelay == 0 {
		c.Realtime.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Realtime.HandshakeTimeout == 0 {
		c.Realtime.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.API.RequestTimeout == 0 {
		c.API.RequestTimeout = DefaultRequestTimeout
	}
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Realtime.ReconnectBaseDelayRaw != "" {
		cfg.Realtime.ReconnectBaseDelay, err = time.ParseDuration(cfg.Realtime.ReconnectBaseDelayRaw)
		if err != nil {
			return fmt.Errorf("parsing reconnect_base_delay %q: %w", cfg.Realtime.ReconnectBaseDelayRaw, err)
		}
	}

	if cfg.Realtime.HandshakeTimeoutRaw != "" {
		cfg.Realtime.HandshakeTimeout, err = time.ParseDuration(cfg.Realtime.HandshakeTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing handshake_timeout %q: %w", cfg.Realtime.HandshakeTimeoutRaw, err)
		}
	}

	if cfg.API.RequestTimeoutRaw != "" {
		cfg.API.RequestTimeout, err = time.ParseDuration(cfg.API.RequestTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing request_timeout %q: %w", cfg.API.RequestTimeoutRaw, err)
		}
	}

	return nil
}
