package config

import (
	"encoding/json"
	"time"
)

// Config represents the main StoreForge configuration
type Config struct {
	// Server holds the HTTP API settings
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Provision holds session state machine tuning
	Provision ProvisionConfig `json:"provision" mapstructure:"provision"`

	// Storefront holds automation agent settings
	Storefront StorefrontConfig `json:"storefront" mapstructure:"storefront"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// History holds the finished-attempts archive settings
	History HistoryConfig `json:"history" mapstructure:"history"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host               string `json:"host" mapstructure:"host"`
	Port               int    `json:"port" mapstructure:"port"`
	RateLimitPerMinute int    `json:"rate_limit_per_minute" mapstructure:"rate_limit_per_minute"`
	ShutdownTimeout    int    `json:"shutdown_timeout" mapstructure:"shutdown_timeout"` // seconds
	LiveFrameInterval  int    `json:"live_frame_interval" mapstructure:"live_frame_interval"` // milliseconds
}

// ProvisionConfig holds session lifecycle configuration. Durations are in
// seconds.
type ProvisionConfig struct {
	SessionTTL      int    `json:"session_ttl" mapstructure:"session_ttl"`
	MaxCodeAttempts int    `json:"max_code_attempts" mapstructure:"max_code_attempts"`
	AgentTimeout    int    `json:"agent_timeout" mapstructure:"agent_timeout"`
	GracePeriod     int    `json:"grace_period" mapstructure:"grace_period"`
	SweepSchedule   string `json:"sweep_schedule" mapstructure:"sweep_schedule"` // cron spec
}

// StorefrontConfig holds automation agent configuration
type StorefrontConfig struct {
	Email             string `json:"email" mapstructure:"email"`
	Password          string `json:"password" mapstructure:"password"`
	LoginURL          string `json:"login_url" mapstructure:"login_url"`
	CreateURL         string `json:"create_url" mapstructure:"create_url"`
	StoreDomainSuffix string `json:"store_domain_suffix" mapstructure:"store_domain_suffix"`
	Headless          bool   `json:"headless" mapstructure:"headless"`
	NoSandbox         bool   `json:"no_sandbox" mapstructure:"no_sandbox"`
	ChromePath        string `json:"chrome_path" mapstructure:"chrome_path"`
	NavigationTimeout int    `json:"navigation_timeout" mapstructure:"navigation_timeout"` // seconds
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// HistoryConfig holds the finished-attempts archive configuration
type HistoryConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Path    string `json:"path" mapstructure:"path"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:               "0.0.0.0",
			Port:               3001,
			RateLimitPerMinute: 100,
			ShutdownTimeout:    10,
			LiveFrameInterval:  1000,
		},
		Provision: ProvisionConfig{
			SessionTTL:      300,
			MaxCodeAttempts: 3,
			AgentTimeout:    90,
			GracePeriod:     600,
			SweepSchedule:   "@every 30s",
		},
		Storefront: StorefrontConfig{
			StoreDomainSuffix: ".myshopify.com",
			Headless:          true,
			NoSandbox:         false,
			NavigationTimeout: 30,
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
		History: HistoryConfig{
			Enabled: true,
		},
		DataDir: "",
	}
}

// SessionTTLDuration returns the session TTL as a duration.
func (c ProvisionConfig) SessionTTLDuration() time.Duration {
	return time.Duration(c.SessionTTL) * time.Second
}

// AgentTimeoutDuration returns the agent timeout as a duration.
func (c ProvisionConfig) AgentTimeoutDuration() time.Duration {
	return time.Duration(c.AgentTimeout) * time.Second
}

// GracePeriodDuration returns the grace period as a duration.
func (c ProvisionConfig) GracePeriodDuration() time.Duration {
	return time.Duration(c.GracePeriod) * time.Second
}

// String returns a JSON representation of the config with credentials
// masked.
func (c *Config) String() string {
	masked := *c
	if masked.Storefront.Password != "" {
		masked.Storefront.Password = "[REDACTED]"
	}
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}
