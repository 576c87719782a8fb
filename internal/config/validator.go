package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/robfig/cron/v3"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidatePort validates a TCP port
func (v *Validator) ValidatePort(port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("invalid port: %d", port)
	}
	return nil
}

// ValidateURL validates an absolute http(s) URL
func (v *Validator) ValidateURL(raw string) error {
	if raw == "" {
		return nil // Use default
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL %q: %w", raw, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("invalid URL %q: scheme must be http or https", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("invalid URL %q: host is required", raw)
	}
	return nil
}

// ValidateSweepSchedule validates the reaper cron spec
func (v *Validator) ValidateSweepSchedule(spec string) error {
	if spec == "" {
		return nil // Use default
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(spec); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", spec, err)
	}
	return nil
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	if err := v.ValidatePort(cfg.Server.Port); err != nil {
		errors = append(errors, fmt.Errorf("server: %w", err))
	}
	if cfg.Server.RateLimitPerMinute < 0 {
		errors = append(errors, fmt.Errorf("server: rate_limit_per_minute must be >= 0"))
	}

	if cfg.Provision.SessionTTL <= 0 {
		errors = append(errors, fmt.Errorf("provision: session_ttl must be > 0"))
	}
	if cfg.Provision.MaxCodeAttempts <= 0 {
		errors = append(errors, fmt.Errorf("provision: max_code_attempts must be > 0"))
	}
	if cfg.Provision.AgentTimeout <= 0 {
		errors = append(errors, fmt.Errorf("provision: agent_timeout must be > 0"))
	}
	if cfg.Provision.GracePeriod < 0 {
		errors = append(errors, fmt.Errorf("provision: grace_period must be >= 0"))
	}
	if err := v.ValidateSweepSchedule(cfg.Provision.SweepSchedule); err != nil {
		errors = append(errors, fmt.Errorf("provision: %w", err))
	}

	if cfg.Storefront.Email == "" {
		errors = append(errors, fmt.Errorf("storefront: email is required"))
	}
	if cfg.Storefront.Password == "" {
		errors = append(errors, fmt.Errorf("storefront: password is required"))
	}
	if err := v.ValidateURL(cfg.Storefront.LoginURL); err != nil {
		errors = append(errors, fmt.Errorf("storefront: %w", err))
	}
	if err := v.ValidateURL(cfg.Storefront.CreateURL); err != nil {
		errors = append(errors, fmt.Errorf("storefront: %w", err))
	}

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}

	if cfg.History.Enabled && cfg.History.Path == "" {
		errors = append(errors, fmt.Errorf("history: path is required when enabled"))
	}

	return errors
}
