// ABOUTME: Configuration loading and parsing for coven-console
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete coven-console configuration
type Config struct {
	API      APIConfig      `yaml:"api"`
	Stream   StreamConfig   `yaml:"stream"`
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// APIConfig holds gateway API connection settings
type APIConfig struct {
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token"`
}

// StreamConfig holds stream connection manager tuning
type StreamConfig struct {
	MaxConcurrentConnections int           `yaml:"max_concurrent_connections"`
	MaxRetries               int           `yaml:"max_retries"`
	InitialRetryDelay        time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	InitialRetryDelayRaw string `yaml:"initial_retry_delay"`
}

// DatabaseConfig holds local history database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults applied when fields are absent from the file.
const (
	DefaultMaxConcurrentConnections = 5
	DefaultMaxRetries               = 3
	DefaultInitialRetryDelay        = time.Second
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

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills unset tuning values.
func (c *Config) applyDefaults() {
	if c.Stream.MaxConcurrentConnections <= 0 {
		c.Stream.MaxConcurrentConnections = DefaultMaxConcurrentConnections
	}
	if c.Stream.MaxRetries <= 0 {
		c.Stream.MaxRetries = DefaultMaxRetries
	}
	if c.Stream.InitialRetryDelay <= 0 {
		c.Stream.InitialRetryDelay = DefaultInitialRetryDelay
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	if cfg.Stream.InitialRetryDelayRaw != "" {
		d, err := time.ParseDuration(cfg.Stream.InitialRetryDelayRaw)
		if err != nil {
			return fmt.Errorf("parsing initial_retry_delay %q: %w", cfg.Stream.InitialRetryDelayRaw, err)
		}
		cfg.Stream.InitialRetryDelay = d
	}
	return nil
}
