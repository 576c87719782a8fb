package daemon

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storeforge/storeforge/internal/config"
	"github.com/storeforge/storeforge/internal/logger"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.History.Path = filepath.Join(cfg.DataDir, "history.db")
	cfg.Storefront.Email = "owner@example.com"
	cfg.Storefront.Password = "secret"
	return cfg
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(logger.Config{Level: "error", Console: false})
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })
	return log
}

func TestNew_WiresComponents(t *testing.T) {
	d, err := New(testConfig(t), testLogger(t), "")
	require.NoError(t, err)
	t.Cleanup(func() { d.Stop() })

	assert.NotNil(t, d.Orchestrator())
	assert.NotNil(t, d.server)
	assert.NotNil(t, d.historyStore)
	assert.NotNil(t, d.sweeper)
}

func TestNew_HistoryDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.History.Enabled = false

	d, err := New(cfg, testLogger(t), "")
	require.NoError(t, err)
	t.Cleanup(func() { d.Stop() })

	assert.Nil(t, d.historyStore)
}

func TestNew_RejectsMissingCredentials(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storefront.Email = ""

	_, err := New(cfg, testLogger(t), "")
	assert.Error(t, err)
}

func TestNew_RejectsBadSweepSchedule(t *testing.T) {
	cfg := testConfig(t)
	cfg.Provision.SweepSchedule = "whenever"

	_, err := New(cfg, testLogger(t), "")
	assert.Error(t, err)
}

func TestStatus_NotRunning(t *testing.T) {
	d, err := New(testConfig(t), testLogger(t), "")
	require.NoError(t, err)
	t.Cleanup(func() { d.Stop() })

	status := d.Status()
	assert.False(t, status.Running)
	assert.Equal(t, 0, status.ActiveSessions)
}

func TestReadPID(t *testing.T) {
	dataDir := t.TempDir()

	_, err := ReadPID(dataDir)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(
		filepath.Join(dataDir, "storeforge.pid"),
		[]byte(strconv.Itoa(1234)), 0644))

	pid, err := ReadPID(dataDir)
	require.NoError(t, err)
	assert.Equal(t, 1234, pid)
}
