package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// ReloadCallback is called with the freshly loaded config after a change
type ReloadCallback func(cfg *Config)

// Watcher monitors the config file and reloads it on change
type Watcher struct {
	loader        *Loader
	watcher       *fsnotify.Watcher
	configPath    string
	onReload      ReloadCallback
	logger        zerolog.Logger
	done          chan struct{}
	debounceTimer *time.Timer
	debounceMu    sync.Mutex
	stopOnce      sync.Once
}

// NewWatcher creates a config file watcher
func NewWatcher(loader *Loader, onReload ReloadCallback, logger zerolog.Logger) (*Watcher, error) {
	if loader == nil {
		return nil, fmt.Errorf("loader is required")
	}
	if onReload == nil {
		return nil, fmt.Errorf("reload callback is required")
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	configPath, err := loader.resolvePath()
	if err != nil {
		fw.Close()
		return nil, err
	}

	return &Watcher{
		loader:     loader,
		watcher:    fw,
		configPath: configPath,
		onReload:   onReload,
		logger:     logger,
		done:       make(chan struct{}),
	}, nil
}

// Start begins watching the config file's directory. Watching the
// directory rather than the file survives atomic rename-style saves.
func (w *Watcher) Start() error {
	if err := w.watcher.Add(filepath.Dir(w.configPath)); err != nil {
		return fmt.Errorf("failed to watch config directory: %w", err)
	}

	go w.run()

	w.logger.Info().Str("path", w.configPath).Msg("Config watcher started")
	return nil
}

// Stop stops the watcher
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.watcher.Close()
	})
}

func (w *Watcher) run() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.configPath) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.debounceReload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("Config watcher error")
		}
	}
}

// debounceReload coalesces bursts of write events into one reload
func (w *Watcher) debounceReload() {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(100*time.Millisecond, func() {
		cfg, err := w.loader.Load()
		if err != nil {
			w.logger.Warn().Err(err).Msg("Config reload failed, keeping previous config")
			return
		}
		if err := cfg.Validate(); err != nil {
			w.logger.Warn().Err(err).Msg("Reloaded config invalid, keeping previous config")
			return
		}
		w.logger.Info().Msg("Config reloaded")
		w.onReload(cfg)
	})
}
