// Package daemon wires the service together: config, logging, metrics, the
// session orchestrator, the automation agent factory, the TTL reaper and
// the HTTP API, with graceful startup and shutdown.
package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/storeforge/storeforge/internal/config"
	"github.com/storeforge/storeforge/internal/history"
	"github.com/storeforge/storeforge/internal/logger"
	"github.com/storeforge/storeforge/internal/metrics"
	"github.com/storeforge/storeforge/pkg/httpapi"
	"github.com/storeforge/storeforge/pkg/provision"
	"github.com/storeforge/storeforge/pkg/storefront"
)

// Daemon is the long-running provisioning service.
type Daemon struct {
	config *config.Config
	logger *logger.Logger

	metrics      *metrics.Metrics
	store        *provision.Store
	orchestrator *provision.Orchestrator
	historyStore *history.Store
	server       *httpapi.Server
	sweeper      *cron.Cron
	watcher      *config.Watcher

	configPath string
	pidFile    string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startTime time.Time
	running   bool
	stopped   bool
	mu        sync.RWMutex
}

// Status describes the daemon's runtime state.
type Status struct {
	Running        bool          `json:"running"`
	PID            int           `json:"pid"`
	Uptime         time.Duration `json:"uptime"`
	ActiveSessions int           `json:"active_sessions"`
}

// New creates a daemon instance. configPath may be empty; it is only used
// for config hot reload.
func New(cfg *config.Config, log *logger.Logger, configPath string) (*Daemon, error) {
	ctx, cancel := context.WithCancel(context.Background())

	d := &Daemon{
		config:     cfg,
		logger:     log,
		metrics:    metrics.New(),
		configPath: configPath,
		pidFile:    filepath.Join(cfg.DataDir, "storeforge.pid"),
		ctx:        ctx,
		cancel:     cancel,
	}

	if err := d.initialize(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize daemon: %w", err)
	}

	return d, nil
}

// initialize builds the component graph in dependency order.
func (d *Daemon) initialize() error {
	zlog := d.logger.GetZerolog()

	// Finished-attempts archive
	var recorder provision.Recorder
	var historyReader httpapi.HistoryReader
	if d.config.History.Enabled {
		store, err := history.Open(d.config.History.Path, zlog)
		if err != nil {
			return fmt.Errorf("failed to open history store: %w", err)
		}
		d.historyStore = store
		recorder = store
		historyReader = store
	}

	// Automation agent factory
	agentCfg := storefront.Config{
		Email:             d.config.Storefront.Email,
		Password:          d.config.Storefront.Password,
		LoginURL:          d.config.Storefront.LoginURL,
		CreateURL:         d.config.Storefront.CreateURL,
		StoreDomainSuffix: d.config.Storefront.StoreDomainSuffix,
		Headless:          d.config.Storefront.Headless,
		NoSandbox:         d.config.Storefront.NoSandbox,
		ChromePath:        d.config.Storefront.ChromePath,
		NavigationTimeout: time.Duration(d.config.Storefront.NavigationTimeout) * time.Second,
	}
	if err := agentCfg.Validate(); err != nil {
		return fmt.Errorf("invalid storefront config: %w", err)
	}

	// Orchestrator
	d.store = provision.NewStore()
	d.orchestrator = provision.New(
		d.store,
		storefront.Factory(agentCfg, zlog),
		provision.Config{
			SessionTTL:      d.config.Provision.SessionTTLDuration(),
			MaxCodeAttempts: d.config.Provision.MaxCodeAttempts,
			AgentTimeout:    d.config.Provision.AgentTimeoutDuration(),
			GracePeriod:     d.config.Provision.GracePeriodDuration(),
		},
		recorder,
		d.metrics,
		zlog,
	)

	// HTTP API
	server, err := httpapi.NewServer(httpapi.ServerOptions{
		Host:               d.config.Server.Host,
		Port:               d.config.Server.Port,
		RateLimitPerMinute: d.config.Server.RateLimitPerMinute,
		ShutdownTimeout:    time.Duration(d.config.Server.ShutdownTimeout) * time.Second,
		LiveFrameInterval:  time.Duration(d.config.Server.LiveFrameInterval) * time.Millisecond,
	}, d.orchestrator, historyReader, d.metrics, zlog)
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}
	d.server = server

	// TTL reaper
	d.sweeper = cron.New()
	schedule := d.config.Provision.SweepSchedule
	if schedule == "" {
		schedule = "@every 30s"
	}
	if _, err := d.sweeper.AddFunc(schedule, d.orchestrator.Sweep); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}

	return nil
}

// Start starts all components and blocks until a shutdown signal arrives.
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	if err := d.writePIDFile(); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	// Config hot reload (log level only; everything else needs a restart)
	if d.configPath != "" {
		watcher, err := config.NewWatcher(d.configPath, d.logger.GetZerolog(), func(cfg *config.Config) {
			d.logger.SetLevel(cfg.Logging.Level)
		})
		if err != nil {
			d.logger.Warn().Err(err).Msg("Config watcher unavailable, hot reload disabled")
		} else {
			d.watcher = watcher
		}
	}

	d.sweeper.Start()

	d.wg.Add(1)
	serverErr := make(chan error, 1)
	go func() {
		defer d.wg.Done()
		if err := d.server.Start(); err != nil {
			serverErr <- err
		}
	}()

	d.logger.Info().
		Int("pid", os.Getpid()).
		Str("addr", fmt.Sprintf("%s:%d", d.config.Server.Host, d.config.Server.Port)).
		Msg("Daemon started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		d.logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	case err := <-serverErr:
		d.logger.Error().Err(err).Msg("HTTP server failed")
		d.Stop()
		return err
	case <-d.ctx.Done():
	}

	return d.Stop()
}

// Stop shuts everything down in reverse dependency order. Safe to call
// whether or not Start was reached; subsequent calls are no-ops.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil
	}
	d.stopped = true
	d.running = false
	d.mu.Unlock()

	d.logger.Info().Msg("Stopping daemon")

	if d.watcher != nil {
		_ = d.watcher.Stop()
	}

	// Stop the reaper; wait for an in-flight sweep to finish.
	<-d.sweeper.Stop().Done()

	// Stop accepting requests, then cancel sessions so browsers die.
	if err := d.server.Stop(); err != nil {
		d.logger.Error().Err(err).Msg("HTTP server shutdown reported error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	d.orchestrator.Shutdown(shutdownCtx)

	if d.historyStore != nil {
		if err := d.historyStore.Close(); err != nil {
			d.logger.Error().Err(err).Msg("History store close reported error")
		}
	}

	d.cancel()
	d.wg.Wait()

	if err := os.Remove(d.pidFile); err != nil && !os.IsNotExist(err) {
		d.logger.Warn().Err(err).Msg("Failed to remove PID file")
	}

	d.logger.Info().Msg("Daemon stopped")
	return nil
}

// Status returns the daemon's runtime state.
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{
		Running: d.running,
		PID:     os.Getpid(),
	}
	if d.running {
		status.Uptime = time.Since(d.startTime)
		status.ActiveSessions = d.orchestrator.ActiveSessions()
	}
	return status
}

// Orchestrator exposes the session orchestrator, mainly for tests.
func (d *Daemon) Orchestrator() *provision.Orchestrator {
	return d.orchestrator
}

func (d *Daemon) writePIDFile() error {
	if err := os.MkdirAll(d.config.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	return os.WriteFile(d.pidFile, []byte(strconv.Itoa(os.Getpid())), 0644)
}

// ReadPID returns the PID recorded by a running daemon, if any.
func ReadPID(dataDir string) (int, error) {
	data, err := os.ReadFile(filepath.Join(dataDir, "storeforge.pid"))
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(string(data))
}
