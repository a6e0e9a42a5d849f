// Package config handles configuration management with validation
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration structure. Operational levers
// that must work without a config file (passphrases, broker credentials,
// trading mode) are read straight from the environment; see env.go and
// credentials.go.
type Config struct {
	Ingress   IngressConfig   `yaml:"ingress"`
	Worker    WorkerConfig    `yaml:"worker"`
	Store     StoreConfig     `yaml:"store"`
	Broker    BrokerConfig    `yaml:"broker"`
	Alerts    AlertsConfig    `yaml:"alerts"`
	Report    ReportConfig    `yaml:"report"`
	LiveFeed  LiveFeedConfig  `yaml:"live_feed"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	System    SystemConfig    `yaml:"system"`
}

// IngressConfig contains the webhook server settings
type IngressConfig struct {
	Port            int   `yaml:"port"`
	ReadTimeoutSec  int   `yaml:"read_timeout_sec"`
	WriteTimeoutSec int   `yaml:"write_timeout_sec"`
	MaxBodyBytes    int64 `yaml:"max_body_bytes"`
}

// WorkerConfig contains the queue worker settings
type WorkerConfig struct {
	Port            int `yaml:"port"`
	PollIntervalSec int `yaml:"poll_interval_sec"`
	BatchSize       int `yaml:"batch_size"`
	PoolSize        int `yaml:"pool_size"`
	PoolCapacity    int `yaml:"pool_capacity"`
	SweepAfterSec   int `yaml:"sweep_after_sec"`
	SweepBatch      int `yaml:"sweep_batch"`
}

// StoreConfig contains queue store settings
type StoreConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// BrokerConfig contains broker client settings
type BrokerConfig struct {
	DataBaseURL      string  `yaml:"data_base_url"`
	SubmitTimeoutSec int     `yaml:"submit_timeout_sec"`
	PingTimeoutSec   int     `yaml:"ping_timeout_sec"`
	EquityTTLSec     int     `yaml:"equity_ttl_sec"`
	RatePerSec       float64 `yaml:"rate_per_sec"`
	RateBurst        int     `yaml:"rate_burst"`
}

// AlertsConfig contains alert channel settings
type AlertsConfig struct {
	DiscordWebhookURL      Secret `yaml:"discord_webhook_url"`
	DiscordStudyWebhookURL Secret `yaml:"discord_study_webhook_url"`
	TelegramBotToken       Secret `yaml:"telegram_bot_token"`
	TelegramChatID         string `yaml:"telegram_chat_id"`
}

// ReportConfig contains daily report settings
type ReportConfig struct {
	Schedule string `yaml:"schedule"`
}

// LiveFeedConfig contains websocket status feed settings
type LiveFeedConfig struct {
	Enabled        bool     `yaml:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	MaxConnections int      `yaml:"max_connections"`
	RatePerSec     float64  `yaml:"rate_per_sec"`
	RateBurst      int      `yaml:"rate_burst"`
}

// TelemetryConfig contains telemetry settings
type TelemetryConfig struct {
	MetricsPort   int  `yaml:"metrics_port"`
	EnableMetrics bool `yaml:"enable_metrics"`
}

// SystemConfig contains system settings
type SystemConfig struct {
	LogLevel string `yaml:"log_level"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// LoadConfig loads configuration from a YAML file with environment variable expansion
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables in the YAML content
	expandedData := expandEnvVars(string(data))

	config := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expandedData), config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	var errors []string

	if err := c.validateServers(); err != nil {
		errors = append(errors, err.Error())
	}

	if err := c.validateStore(); err != nil {
		errors = append(errors, err.Error())
	}

	if err := c.validateBroker(); err != nil {
		errors = append(errors, err.Error())
	}

	if err := c.validateSystem(); err != nil {
		errors = append(errors, err.Error())
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errors, "\n"))
	}

	return nil
}

func (c *Config) validateServers() error {
	if c.Ingress.Port <= 0 || c.Ingress.Port > 65535 {
		return ValidationError{
			Field:   "ingress.port",
			Value:   c.Ingress.Port,
			Message: "must be a valid TCP port",
		}
	}
	if c.Worker.Port <= 0 || c.Worker.Port > 65535 {
		return ValidationError{
			Field:   "worker.port",
			Value:   c.Worker.Port,
			Message: "must be a valid TCP port",
		}
	}
	if c.Worker.PollIntervalSec <= 0 {
		return ValidationError{
			Field:   "worker.poll_interval_sec",
			Value:   c.Worker.PollIntervalSec,
			Message: "must be positive",
		}
	}
	if c.Worker.BatchSize <= 0 || c.Worker.BatchSize > 1000 {
		return ValidationError{
			Field:   "worker.batch_size",
			Value:   c.Worker.BatchSize,
			Message: "must be in 1..1000",
		}
	}
	if c.Worker.SweepAfterSec < 0 {
		return ValidationError{
			Field:   "worker.sweep_after_sec",
			Value:   c.Worker.SweepAfterSec,
			Message: "must be zero (disabled) or positive",
		}
	}
	return nil
}

func (c *Config) validateStore() error {
	validDrivers := []string{"sqlite", "memory"}
	if !contains(validDrivers, c.Store.Driver) {
		return ValidationError{
			Field:   "store.driver",
			Value:   c.Store.Driver,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validDrivers, ", ")),
		}
	}
	if c.Store.Driver == "sqlite" && c.Store.DSN == "" {
		return ValidationError{
			Field:   "store.dsn",
			Message: "sqlite driver requires a database path",
		}
	}
	return nil
}

func (c *Config) validateBroker() error {
	if c.Broker.DataBaseURL == "" {
		return ValidationError{
			Field:   "broker.data_base_url",
			Message: "data API base URL is required",
		}
	}
	if c.Broker.EquityTTLSec <= 0 {
		return ValidationError{
			Field:   "broker.equity_ttl_sec",
			Value:   c.Broker.EquityTTLSec,
			Message: "must be positive",
		}
	}
	if c.Broker.RatePerSec <= 0 {
		return ValidationError{
			Field:   "broker.rate_per_sec",
			Value:   c.Broker.RatePerSec,
			Message: "must be positive",
		}
	}
	return nil
}

func (c *Config) validateSystem() error {
	validLevels := []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}
	if !contains(validLevels, strings.ToUpper(c.System.LogLevel)) {
		return ValidationError{
			Field:   "system.log_level",
			Value:   c.System.LogLevel,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validLevels, ", ")),
		}
	}
	return nil
}

// String returns a string representation of the configuration. Secret fields
// redact themselves through their YAML marshaler.
func (c *Config) String() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}

// Helper functions

func expandEnvVars(s string) string {
	return os.Expand(s, func(key string) string {
		return os.Getenv(key)
	})
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

func maskString(s string) string {
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}

// DefaultConfig returns the baseline configuration. LoadConfig overlays the
// YAML file on top of it, so omitted sections keep working defaults.
func DefaultConfig() *Config {
	return &Config{
		Ingress: IngressConfig{
			Port:            8080,
			ReadTimeoutSec:  10,
			WriteTimeoutSec: 15,
			MaxBodyBytes:    1 << 20,
		},
		Worker: WorkerConfig{
			Port:            8091,
			PollIntervalSec: 2,
			BatchSize:       25,
			PoolSize:        4,
			PoolCapacity:    100,
			SweepAfterSec:   600,
			SweepBatch:      50,
		},
		Store: StoreConfig{
			Driver: "sqlite",
			DSN:    "signal_relay.db",
		},
		Broker: BrokerConfig{
			DataBaseURL:      "https://data.alpaca.markets",
			SubmitTimeoutSec: 10,
			PingTimeoutSec:   2,
			EquityTTLSec:     60,
			RatePerSec:       3,
			RateBurst:        5,
		},
		Report: ReportConfig{
			Schedule: "10 0 * * *",
		},
		LiveFeed: LiveFeedConfig{
			Enabled:        false,
			AllowedOrigins: []string{"http://localhost:3000"},
			MaxConnections: 50,
			RatePerSec:     5,
			RateBurst:      10,
		},
		Telemetry: TelemetryConfig{
			MetricsPort:   9100,
			EnableMetrics: true,
		},
		System: SystemConfig{
			LogLevel: "INFO",
		},
	}
}
