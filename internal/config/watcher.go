package config

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher reloads the config file on change so settings like the log level
// can be adjusted without a restart.
type Watcher struct {
	watcher    *fsnotify.Watcher
	loader     *Loader
	logger     zerolog.Logger
	onReload   func(*Config)
	debounce   time.Duration
	timer      *time.Timer
	configPath string
	stopCh     chan struct{}
}

// NewWatcher creates a watcher for the given config path. onReload is
// invoked with the freshly loaded config after each change.
func NewWatcher(configPath string, logger zerolog.Logger, onReload func(*Config)) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		watcher:    watcher,
		loader:     NewLoader(configPath),
		logger:     logger.With().Str("component", "config_watcher").Logger(),
		onReload:   onReload,
		debounce:   500 * time.Millisecond,
		configPath: configPath,
		stopCh:     make(chan struct{}),
	}

	// Watch the directory; editors often replace the file on save, which
	// would drop a watch on the file itself.
	if err := watcher.Add(filepath.Dir(configPath)); err != nil {
		watcher.Close()
		return nil, err
	}

	go w.run()

	return w, nil
}

// Stop stops the watcher
func (w *Watcher) Stop() error {
	close(w.stopCh)
	return w.watcher.Close()
}

// run processes file system events
func (w *Watcher) run() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			if filepath.Clean(event.Name) != filepath.Clean(w.configPath) {
				continue
			}

			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				w.logger.Debug().
					Str("op", event.Op.String()).
					Msg("Config file change detected")
				w.scheduleReload()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Config watcher error")

		case <-w.stopCh:
			return
		}
	}
}

// scheduleReload debounces the reload
func (w *Watcher) scheduleReload() {
	if w.timer != nil {
		w.timer.Stop()
	}

	w.timer = time.AfterFunc(w.debounce, func() {
		cfg, err := w.loader.Load()
		if err != nil {
			w.logger.Error().Err(err).Msg("Failed to reload config")
			return
		}

		w.logger.Info().Str("level", cfg.Logging.Level).Msg("Config reloaded")
		w.onReload(cfg)
	})
}
