// Package config provides configuration structures and loading logic for the RPC server.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/polisai/polis-rpc/pkg/domain"
)

// Default values applied before the config file and environment are read.
const (
	DefaultSocket          = "tmp/socket_file"
	DefaultReadTimeout     = 5 * time.Second
	DefaultWriteTimeout    = 5 * time.Second
	DefaultMaxRequestBytes = 1 << 20
	DefaultMetricsAddr     = ":9464"
	DefaultMetricsPath     = "/metrics"
	DefaultServiceName     = "polis-rpc"
	DefaultChatAddr        = "0.0.0.0:9001"
	DefaultChatTimeout     = time.Second
)

// Config holds the complete server configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Policy    PolicyConfig    `yaml:"policy"`
	Chat      ChatConfig      `yaml:"chat"`

	// RateLimits maps method names to token bucket limits. Methods not
	// listed are unlimited.
	RateLimits map[string]RateLimitConfig `yaml:"rate_limits"`
}

// ServerConfig holds socket listener settings.
type ServerConfig struct {
	Socket          string        `yaml:"socket" env:"POLIS_RPC_SOCKET"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"POLIS_RPC_READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"POLIS_RPC_WRITE_TIMEOUT"`
	MaxRequestBytes int64         `yaml:"max_request_bytes" env:"POLIS_RPC_MAX_REQUEST_BYTES"`
}

// LoggingConfig holds configuration for logging.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"POLIS_RPC_LOG_LEVEL"`
	Format string `yaml:"format" env:"POLIS_RPC_LOG_FORMAT"` // "json", "text"
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" env:"POLIS_RPC_METRICS_ENABLED"`
	Addr    string `yaml:"addr" env:"POLIS_RPC_METRICS_ADDR"`
	Path    string `yaml:"path" env:"POLIS_RPC_METRICS_PATH"`
}

// TelemetryConfig holds configuration for OpenTelemetry tracing.
type TelemetryConfig struct {
	Endpoint    string `yaml:"endpoint" env:"POLIS_RPC_OTLP_ENDPOINT"`
	Insecure    bool   `yaml:"insecure" env:"POLIS_RPC_OTLP_INSECURE"`
	ServiceName string `yaml:"service_name" env:"POLIS_RPC_SERVICE_NAME"`
	Environment string `yaml:"environment" env:"POLIS_RPC_ENVIRONMENT"`
}

// PolicyConfig points at the Rego policy gating calls. An empty path disables the gate.
type PolicyConfig struct {
	Path       string `yaml:"path" env:"POLIS_RPC_POLICY_PATH"`
	Entrypoint string `yaml:"entrypoint" env:"POLIS_RPC_POLICY_ENTRYPOINT"`
}

// ChatConfig holds the UDP chat relay settings used by serve-chat.
type ChatConfig struct {
	Addr         string        `yaml:"addr" env:"POLIS_RPC_CHAT_ADDR"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"POLIS_RPC_CHAT_WRITE_TIMEOUT"`
}

// RateLimitConfig defines the token bucket for one method. A zero burst
// defaults to the rate.
type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second"`
	Burst             int `yaml:"burst"`
}

// Default returns a configuration populated with defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Socket:          DefaultSocket,
			ReadTimeout:     DefaultReadTimeout,
			WriteTimeout:    DefaultWriteTimeout,
			MaxRequestBytes: DefaultMaxRequestBytes,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Addr: DefaultMetricsAddr,
			Path: DefaultMetricsPath,
		},
		Telemetry: TelemetryConfig{
			ServiceName: DefaultServiceName,
		},
		Chat: ChatConfig{
			Addr:         DefaultChatAddr,
			WriteTimeout: DefaultChatTimeout,
		},
	}
}

// Load reads configuration from a file, expands ${VAR} references, and
// applies environment variable overrides. An empty path yields defaults
// plus environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		//nolint:gosec // Config file path is controlled by admin/operator
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := Parse(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := ParseEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Parse expands environment references in data and decodes it over cfg.
func Parse(data []byte, cfg *Config) error {
	expanded := os.ExpandEnv(string(data))
	return yaml.Unmarshal([]byte(expanded), cfg)
}

// ParseEnv loads overrides from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Validate performs validation of the entire configuration and normalizes
// case-insensitive fields.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server configuration: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging configuration: %w", err)
	}
	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("metrics configuration: %w", err)
	}
	if err := c.Chat.Validate(); err != nil {
		return fmt.Errorf("chat configuration: %w", err)
	}
	for method, limit := range c.RateLimits {
		if err := limit.Validate(); err != nil {
			return fmt.Errorf("rate limit for %s: %w", method, err)
		}
	}
	return nil
}

// Validate performs validation of server configuration.
func (c *ServerConfig) Validate() error {
	if strings.TrimSpace(c.Socket) == "" {
		return fmt.Errorf("%w: socket path is required", domain.ErrConfigInvalid)
	}
	if c.ReadTimeout <= 0 {
		return fmt.Errorf("%w: read_timeout must be positive", domain.ErrConfigInvalid)
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("%w: write_timeout must be positive", domain.ErrConfigInvalid)
	}
	if c.MaxRequestBytes <= 0 {
		return fmt.Errorf("%w: max_request_bytes must be positive", domain.ErrConfigInvalid)
	}
	return nil
}

// Validate performs validation of logging configuration.
func (c *LoggingConfig) Validate() error {
	if strings.TrimSpace(c.Level) == "" {
		c.Level = "info"
	}
	level := strings.TrimSpace(strings.ToLower(c.Level))
	switch level {
	case "debug", "info", "warn", "error":
		c.Level = level
	default:
		return fmt.Errorf("%w: invalid log level %q, supported levels: debug, info, warn, error", domain.ErrConfigInvalid, c.Level)
	}

	if strings.TrimSpace(c.Format) == "" {
		c.Format = "json"
	}
	format := strings.TrimSpace(strings.ToLower(c.Format))
	switch format {
	case "json", "text":
		c.Format = format
	default:
		return fmt.Errorf("%w: invalid log format %q, supported formats: json, text", domain.ErrConfigInvalid, c.Format)
	}
	return nil
}

// Validate performs validation of metrics configuration.
func (c *MetricsConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if strings.TrimSpace(c.Addr) == "" {
		return fmt.Errorf("%w: metrics addr is required when metrics are enabled", domain.ErrConfigInvalid)
	}
	if !strings.HasPrefix(c.Path, "/") {
		return fmt.Errorf("%w: metrics path %q must start with /", domain.ErrConfigInvalid, c.Path)
	}
	return nil
}

// Validate performs validation of chat relay configuration.
func (c *ChatConfig) Validate() error {
	if strings.TrimSpace(c.Addr) == "" {
		return fmt.Errorf("%w: chat addr is required", domain.ErrConfigInvalid)
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("%w: chat write_timeout must be positive", domain.ErrConfigInvalid)
	}
	return nil
}

// Validate performs validation of a rate limit.
func (c RateLimitConfig) Validate() error {
	if c.RequestsPerSecond <= 0 {
		return fmt.Errorf("%w: requests_per_second must be positive", domain.ErrConfigInvalid)
	}
	if c.Burst < 0 {
		return fmt.Errorf("%w: burst must not be negative", domain.ErrConfigInvalid)
	}
	return nil
}
