package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatcherConfig controls reload behavior.
type WatcherConfig struct {
	// DebounceDuration collapses rapid write bursts into one reload.
	DebounceDuration time.Duration
	// OnChange receives the newly loaded configuration.
	OnChange func(newConfig *Config) error
	// OnError receives reload failures.
	OnError func(error)
}

// DefaultWatcherConfig returns the default watcher configuration.
func DefaultWatcherConfig() *WatcherConfig {
	return &WatcherConfig{
		DebounceDuration: 500 * time.Millisecond,
	}
}

// Watcher reloads configuration when the file changes on disk.
type Watcher struct {
	loader     *Loader
	configPath string
	config     *WatcherConfig
	watcher    *fsnotify.Watcher
	logger     *slog.Logger
	mu         sync.Mutex
	stopCh     chan struct{}
	wg         sync.WaitGroup
	debouncer  *time.Timer
}

// NewWatcher creates a watcher over the loader's config file.
func NewWatcher(loader *Loader, config *WatcherConfig, logger *slog.Logger) (*Watcher, error) {
	if loader.Path() == "" {
		return nil, fmt.Errorf("cannot watch: loader has no config file")
	}
	if config == nil {
		config = DefaultWatcherConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	absPath, err := filepath.Abs(loader.Path())
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}

	w := &Watcher{
		loader:     loader,
		configPath: absPath,
		config:     config,
		watcher:    fsWatcher,
		logger:     logger.With("component", "config_watcher"),
		stopCh:     make(chan struct{}),
	}

	if err := fsWatcher.Add(absPath); err != nil {
		fsWatcher.Close()
		return nil, fmt.Errorf("watch config file: %w", err)
	}

	// Watch the directory too; editors and orchestrators often replace
	// the file atomically via rename.
	dir := filepath.Dir(absPath)
	if err := fsWatcher.Add(dir); err != nil {
		w.logger.Warn("Failed to watch config directory", "dir", dir, "error", err)
	}

	return w, nil
}

// Start begins watching for changes.
func (w *Watcher) Start() {
	w.wg.Add(1)
	go w.watchLoop()
	w.logger.Info("Configuration watcher started", "file", w.configPath)
}

// Stop halts the watcher and cancels any pending reload.
func (w *Watcher) Stop() error {
	close(w.stopCh)
	w.wg.Wait()

	w.mu.Lock()
	if w.debouncer != nil {
		w.debouncer.Stop()
	}
	w.mu.Unlock()

	return w.watcher.Close()
}

func (w *Watcher) watchLoop() {
	defer w.wg.Done()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("File watcher error", "error", err)
			if w.config.OnError != nil {
				w.config.OnError(fmt.Errorf("watcher error: %w", err))
			}

		case <-w.stopCh:
			return
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Name != w.configPath {
		return
	}

	switch {
	case event.Op&fsnotify.Write == fsnotify.Write:
		w.scheduleReload()

	case event.Op&fsnotify.Create == fsnotify.Create:
		w.scheduleReload()

	case event.Op&fsnotify.Remove == fsnotify.Remove:
		w.logger.Warn("Config file removed", "file", event.Name)
		// Re-add so recreation is picked up.
		w.watcher.Add(event.Name)

	case event.Op&fsnotify.Rename == fsnotify.Rename:
		w.watcher.Add(w.configPath)
		w.scheduleReload()
	}
}

func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.debouncer != nil {
		w.debouncer.Stop()
	}
	w.debouncer = time.AfterFunc(w.config.DebounceDuration, func() {
		if err := w.reload(); err != nil {
			w.logger.Error("Config reload failed", "error", err)
			if w.config.OnError != nil {
				w.config.OnError(err)
			}
		}
	})
}

func (w *Watcher) reload() error {
	w.logger.Info("Reloading configuration", "file", w.configPath)

	newConfig, err := w.loader.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if w.config.OnChange != nil {
		if err := w.config.OnChange(newConfig); err != nil {
			return fmt.Errorf("apply config: %w", err)
		}
	}

	w.logger.Info("Configuration reloaded")
	return nil
}
