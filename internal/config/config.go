// ABOUTME: Configuration loading and parsing for funnel-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete funnel-gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Transport TransportConfig `yaml:"transport"`
	Bot       BotConfig       `yaml:"bot"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	Uploads   UploadsConfig   `yaml:"uploads"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// TransportConfig holds the connection settings for the chat-protocol sidecar
type TransportConfig struct {
	BridgeURL string `yaml:"bridge_url"`
}

// BotConfig holds auto-reply pacing and context-window configuration
type BotConfig struct {
	Cooldown       time.Duration `yaml:"-"`
	RequestTimeout time.Duration `yaml:"-"`
	MaxMessages    int           `yaml:"max_messages"`
	HistoryLimit   int           `yaml:"history_limit"`

	// Raw string values for YAML unmarshaling
	CooldownRaw       string `yaml:"cooldown"`
	RequestTimeoutRaw string `yaml:"request_timeout"`
}

// ReconnectConfig holds the backoff policy for transport reconnects
type ReconnectConfig struct {
	InitialBackoff time.Duration `yaml:"-"`
	MaxBackoff     time.Duration `yaml:"-"`
	MaxAttempts    int           `yaml:"max_attempts"`

	// Raw string values for YAML unmarshaling
	InitialBackoffRaw string `yaml:"initial_backoff"`
	MaxBackoffRaw     string `yaml:"max_backoff"`
}

// UploadsConfig holds outbound media upload configuration
type UploadsConfig struct {
	Dir          string `yaml:"dir"`
	MaxSizeBytes int64  `yaml:"max_size_bytes"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults applied when the corresponding fields are absent from the file.
const (
	DefaultCooldown       = time.Second
	DefaultRequestTimeout = 30 * time.Second
	DefaultMaxMessages    = 200
	DefaultHistoryLimit   = 10
	DefaultInitialBackoff = 2 * time.Second
	DefaultMaxBackoff     = time.Minute
	DefaultMaxAttempts    = 10
	DefaultMaxUploadBytes = 16 << 20
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

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Transport.BridgeURL == "" {
		return fmt.Errorf("transport.bridge_url is required")
	}
	if c.Bot.Cooldown < 0 {
		return fmt.Errorf("bot.cooldown must not be negative")
	}
	if c.Reconnect.MaxAttempts < 1 {
		return fmt.Errorf("reconnect.max_attempts must be at least 1")
	}
	return nil
}

// applyDefaults fills zero-valued optional fields
func (c *Config) applyDefaults() {
	if c.Bot.CooldownRaw == "" {
		c.Bot.Cooldown = DefaultCooldown
	}
	if c.Bot.RequestTimeoutRaw == "" {
		c.Bot.RequestTimeout = DefaultRequestTimeout
	}
	if c.Bot.MaxMessages == 0 {
		c.Bot.MaxMessages = DefaultMaxMessages
	}
	if c.Bot.HistoryLimit == 0 {
		c.Bot.HistoryLimit = DefaultHistoryLimit
	}
	if c.Reconnect.InitialBackoffRaw == "" {
		c.Reconnect.InitialBackoff = DefaultInitialBackoff
	}
	if c.Reconnect.MaxBackoffRaw == "" {
		c.Reconnect.MaxBackoff = DefaultMaxBackoff
	}
	if c.Reconnect.MaxAttempts == 0 {
		c.Reconnect.MaxAttempts = DefaultMaxAttempts
	}
	if c.Uploads.Dir == "" {
		c.Uploads.Dir = "uploads"
	}
	if c.Uploads.MaxSizeBytes == 0 {
		c.Uploads.MaxSizeBytes = DefaultMaxUploadBytes
	}
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Bot.CooldownRaw != "" {
		cfg.Bot.Cooldown, err = time.ParseDuration(cfg.Bot.CooldownRaw)
		if err != nil {
			return fmt.Errorf("parsing bot.cooldown %q: %w", cfg.Bot.CooldownRaw, err)
		}
	}

	if cfg.Bot.RequestTimeoutRaw != "" {
		cfg.Bot.RequestTimeout, err = time.ParseDuration(cfg.Bot.RequestTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing bot.request_timeout %q: %w", cfg.Bot.RequestTimeoutRaw, err)
		}
	}

	if cfg.Reconnect.InitialBackoffRaw != "" {
		cfg.Reconnect.InitialBackoff, err = time.ParseDuration(cfg.Reconnect.InitialBackoffRaw)
		if err != nil {
			return fmt.Errorf("parsing reconnect.initial_backoff %q: %w", cfg.Reconnect.InitialBackoffRaw, err)
		}
	}

	if cfg.Reconnect.MaxBackoffRaw != "" {
		cfg.Reconnect.MaxBackoff, err = time.ParseDuration(cfg.Reconnect.MaxBackoffRaw)
		if err != nil {
			return fmt.Errorf("parsing reconnect.max_backoff %q: %w", cfg.Reconnect.MaxBackoffRaw, err)
		}
	}

	return nil
}
