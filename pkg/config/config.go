// Package config provides configuration structures and loading logic for
// the entity processing service.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/polisai/polis-entities/pkg/engine"
	"github.com/polisai/polis-entities/pkg/recognizer"
)

// Config holds the global configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" json:"server"`
	Telemetry TelemetryConfig `yaml:"telemetry" json:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
	Processor engine.Config   `yaml:"processor" json:"processor"`
	Storage   StorageConfig   `yaml:"storage" json:"storage"`
	Runner    RunnerConfig    `yaml:"runner" json:"runner"`
	Local     LocalConfig     `yaml:"local" json:"local"`
}

// ServerConfig holds configuration for the HTTP ingress.
type ServerConfig struct {
	Address         string          `yaml:"address" json:"address"`
	TLS             *TLSConfig      `yaml:"tls,omitempty" json:"tls,omitempty"`
	RateLimit       RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout,omitempty" json:"shutdown_timeout,omitempty"`
	MaxBodyBytes    int64           `yaml:"max_body_bytes,omitempty" json:"max_body_bytes,omitempty"`
}

// TLSConfig enables HTTPS on the ingress listener.
type TLSConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	CertFile   string `yaml:"cert_file" json:"cert_file"`
	KeyFile    string `yaml:"key_file" json:"key_file"`
	MinVersion string `yaml:"min_version,omitempty" json:"min_version,omitempty"`
}

// RateLimitConfig bounds ingress throughput. A zero rate disables limiting.
type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second" json:"requests_per_second"`
	Burst             int `yaml:"burst" json:"burst"`
}

// TelemetryConfig holds configuration for OpenTelemetry.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint" json:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure" json:"insecure"`
	ServiceName  string `yaml:"service_name,omitempty" json:"service_name,omitempty"`
}

// LoggingConfig holds configuration for logging.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Pretty bool   `yaml:"pretty" json:"pretty"`
}

// StorageConfig selects the document store and provenance journal backend.
type StorageConfig struct {
	Driver string `yaml:"driver" json:"driver"`
	DSN    string `yaml:"dsn,omitempty" json:"dsn,omitempty"`
}

// RunnerConfig configures batch runs.
type RunnerConfig struct {
	Workers int    `yaml:"workers" json:"workers"`
	OutDir  string `yaml:"out_dir" json:"out_dir"`
}

// LocalConfig configures the rule-based local engine.
type LocalConfig struct {
	// Enabled names the builtin rules to load. Empty loads all of them.
	Enabled []string          `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Rules   []recognizer.Rule `yaml:"rules,omitempty" json:"rules,omitempty"`
}

// Defaults returns the configuration used when no file is given.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Address:         ":8090",
			ShutdownTimeout: 10 * time.Second,
			MaxBodyBytes:    10 << 20,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Storage: StorageConfig{
			Driver: "memory",
		},
		Runner: RunnerConfig{
			Workers: 4,
			OutDir:  "out",
		},
	}
}

// Load reads configuration from a file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		//nolint:gosec // Config file path is controlled by the operator
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := Parse(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Parse checks data against the configuration schema and decodes it over cfg.
func Parse(data []byte, cfg *Config) error {
	if err := ValidateDocument(data); err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return err
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("ENTITIES_ADDR"); val != "" {
		cfg.Server.Address = val
	}
	if val := os.Getenv("ENTITIES_RATE_LIMIT"); val != "" {
		if rps, err := strconv.Atoi(val); err == nil {
			cfg.Server.RateLimit.RequestsPerSecond = rps
		}
	}

	if val := os.Getenv("ENTITIES_OTLP_ENDPOINT"); val != "" {
		cfg.Telemetry.OTLPEndpoint = val
	}
	if val := os.Getenv("ENTITIES_OTLP_INSECURE"); val == "true" {
		cfg.Telemetry.Insecure = true
	}

	if val := os.Getenv("ENTITIES_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := os.Getenv("ENTITIES_LOG_PRETTY"); val == "true" {
		cfg.Logging.Pretty = true
	}

	if val := os.Getenv("ENTITIES_ACTION"); val != "" {
		cfg.Processor.Action = val
	}
	if val := os.Getenv("ENTITIES_QUERY"); val != "" {
		cfg.Processor.Query = val
	}
	if val := os.Getenv("ENTITIES_QUERY_LANGUAGE"); val != "" {
		cfg.Processor.QueryLanguage = val
	}
	if val := os.Getenv("ENTITIES_ENGINE"); val != "" {
		cfg.Processor.Engine = val
	}
	if val := os.Getenv("ENTITIES_ENDPOINT"); val != "" {
		cfg.Processor.Endpoint = val
	}
	if val := os.Getenv("ENTITIES_API_KEY"); val != "" {
		cfg.Processor.APIKey = val
	}
	if val := os.Getenv("ENTITIES_CONFIDENCE_THRESHOLD"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Processor.ConfidenceThreshold = n
		}
	}
	if val := os.Getenv("ENTITIES_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Processor.Timeout = d
		}
	}

	if val := os.Getenv("ENTITIES_STORAGE_DRIVER"); val != "" {
		cfg.Storage.Driver = val
	}
	if val := os.Getenv("ENTITIES_STORAGE_DSN"); val != "" {
		cfg.Storage.DSN = val
	}

	if val := os.Getenv("ENTITIES_TLS_ENABLED"); val == "true" {
		if cfg.Server.TLS == nil {
			cfg.Server.TLS = &TLSConfig{}
		}
		cfg.Server.TLS.Enabled = true
	}
	if val := os.Getenv("ENTITIES_TLS_CERT_FILE"); val != "" {
		if cfg.Server.TLS == nil {
			cfg.Server.TLS = &TLSConfig{}
		}
		cfg.Server.TLS.CertFile = val
	}
	if val := os.Getenv("ENTITIES_TLS_KEY_FILE"); val != "" {
		if cfg.Server.TLS == nil {
			cfg.Server.TLS = &TLSConfig{}
		}
		cfg.Server.TLS.KeyFile = val
	}
}

// Validate performs validation of the entire configuration.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server configuration: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging configuration: %w", err)
	}
	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage configuration: %w", err)
	}
	if err := c.Runner.Validate(); err != nil {
		return fmt.Errorf("runner configuration: %w", err)
	}
	if err := c.Processor.Validate(); err != nil {
		return fmt.Errorf("processor configuration: %w", err)
	}
	return nil
}

// Validate performs validation of server configuration.
func (c *ServerConfig) Validate() error {
	if strings.TrimSpace(c.Address) == "" {
		c.Address = ":8090"
	}
	if c.RateLimit.RequestsPerSecond < 0 {
		return fmt.Errorf("rate_limit.requests_per_second must not be negative")
	}
	if c.RateLimit.RequestsPerSecond > 0 && c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = c.RateLimit.RequestsPerSecond
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	if c.TLS != nil && c.TLS.Enabled {
		if c.TLS.CertFile == "" || c.TLS.KeyFile == "" {
			return fmt.Errorf("TLS configuration: cert_file and key_file are required")
		}
		switch c.TLS.MinVersion {
		case "", "1.2", "1.3":
		default:
			return fmt.Errorf("TLS configuration: unsupported min_version %q", c.TLS.MinVersion)
		}
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
		return nil
	default:
		return fmt.Errorf("invalid log level %q, supported levels: debug, info, warn, error", c.Level)
	}
}

// Validate performs validation of storage configuration.
func (c *StorageConfig) Validate() error {
	driver := strings.ToLower(strings.TrimSpace(c.Driver))
	switch driver {
	case "", "memory":
		c.Driver = "memory"
	case "sqlite":
		c.Driver = driver
		if c.DSN == "" {
			return fmt.Errorf("sqlite driver requires a dsn")
		}
	default:
		return fmt.Errorf("unsupported driver %q, supported drivers: memory, sqlite", c.Driver)
	}
	return nil
}

// Validate performs validation of runner configuration.
func (c *RunnerConfig) Validate() error {
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if strings.TrimSpace(c.OutDir) == "" {
		c.OutDir = "out"
	}
	return nil
}
