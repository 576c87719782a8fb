package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Storefront.Email = "owner@example.com"
	cfg.Storefront.Password = "secret"
	cfg.History.Path = "/tmp/history.db"
	return cfg
}

func TestValidator_ValidConfig(t *testing.T) {
	v := NewValidator()
	assert.Empty(t, v.ValidateConfig(validConfig()))
}

func TestValidator_MissingCredentials(t *testing.T) {
	v := NewValidator()

	cfg := validConfig()
	cfg.Storefront.Email = ""
	cfg.Storefront.Password = ""

	errs := v.ValidateConfig(cfg)
	assert.Len(t, errs, 2)
}

func TestValidator_LogLevel(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateLogLevel("debug"))
	assert.NoError(t, v.ValidateLogLevel("info"))
	assert.Error(t, v.ValidateLogLevel("verbose"))
}

func TestValidator_Port(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidatePort(3001))
	assert.Error(t, v.ValidatePort(0))
	assert.Error(t, v.ValidatePort(70000))
}

func TestValidator_URL(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateURL(""))
	assert.NoError(t, v.ValidateURL("https://accounts.example.com/lookup"))
	assert.Error(t, v.ValidateURL("ftp://example.com"))
	assert.Error(t, v.ValidateURL("not a url"))
}

func TestValidator_SweepSchedule(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateSweepSchedule(""))
	assert.NoError(t, v.ValidateSweepSchedule("@every 30s"))
	assert.NoError(t, v.ValidateSweepSchedule("*/5 * * * *"))
	assert.Error(t, v.ValidateSweepSchedule("whenever"))
}

func TestValidator_ProvisionBounds(t *testing.T) {
	v := NewValidator()

	cfg := validConfig()
	cfg.Provision.SessionTTL = 0
	cfg.Provision.MaxCodeAttempts = -1
	cfg.Provision.AgentTimeout = 0

	errs := v.ValidateConfig(cfg)
	assert.Len(t, errs, 3)
}
