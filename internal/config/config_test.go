package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 3001, cfg.Server.Port)
	assert.Equal(t, 100, cfg.Server.RateLimitPerMinute)

	assert.Equal(t, 300, cfg.Provision.SessionTTL)
	assert.Equal(t, 3, cfg.Provision.MaxCodeAttempts)
	assert.Equal(t, 90, cfg.Provision.AgentTimeout)
	assert.Equal(t, 600, cfg.Provision.GracePeriod)
	assert.Equal(t, "@every 30s", cfg.Provision.SweepSchedule)

	assert.True(t, cfg.Storefront.Headless)
	assert.Equal(t, ".myshopify.com", cfg.Storefront.StoreDomainSuffix)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Redaction)
	assert.True(t, cfg.History.Enabled)
}

func TestProvisionConfig_Durations(t *testing.T) {
	cfg := ProvisionConfig{SessionTTL: 300, AgentTimeout: 90, GracePeriod: 600}

	assert.Equal(t, 5*time.Minute, cfg.SessionTTLDuration())
	assert.Equal(t, 90*time.Second, cfg.AgentTimeoutDuration())
	assert.Equal(t, 10*time.Minute, cfg.GracePeriodDuration())
}

func TestConfig_StringMasksPassword(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Storefront.Email = "owner@example.com"
	cfg.Storefront.Password = "hunter2"

	out := cfg.String()
	assert.False(t, strings.Contains(out, "hunter2"))
	assert.True(t, strings.Contains(out, "[REDACTED]"))
}
