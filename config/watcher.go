package config

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ReloadFunc is invoked after a successful reload with the previous
// and the freshly loaded configuration.
type ReloadFunc func(old, updated *Config)

// Watcher polls a configuration file and reloads it through its
// Loader when the file changes. A reload that fails to parse or
// validate keeps the previous configuration and logs the problem, so
// a bad edit never takes down a running process.
type Watcher struct {
	mu sync.RWMutex

	loader       *Loader
	path         string
	pollInterval time.Duration
	debounce     time.Duration

	running  bool
	stopChan chan struct{}
	modChan  chan time.Time

	current   *Config
	lastMod   time.Time
	callbacks []ReloadFunc

	logger *zap.Logger
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithPollInterval sets how often the file is checked for changes.
func WithPollInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.pollInterval = d
		}
	}
}

// WithDebounce sets how long to wait after the last detected change
// before reloading. Editors often write a file several times in a row.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithWatcherLogger sets the logger.
func WithWatcherLogger(logger *zap.Logger) WatcherOption {
	return func(w *Watcher) {
		w.logger = logger.With(zap.String("component", "config_watcher"))
	}
}

// NewWatcher creates a watcher over the loader's config file. The
// initial configuration seeds Current so callers can read settings
// before the first reload.
func NewWatcher(loader *Loader, initial *Config, opts ...WatcherOption) (*Watcher, error) {
	if loader == nil || loader.configPath == "" {
		return nil, fmt.Errorf("watcher requires a loader with a config file path")
	}

	w := &Watcher{
		loader:       loader,
		path:         loader.configPath,
		pollInterval: time.Second,
		debounce:     100 * time.Millisecond,
		stopChan:     make(chan struct{}),
		modChan:      make(chan time.Time, 16),
		current:      initial,
		callbacks:    make([]ReloadFunc, 0),
		logger:       zap.NewNop(),
	}

	for _, opt := range opts {
		opt(w)
	}

	if info, err := os.Stat(w.path); err == nil {
		w.lastMod = info.ModTime()
	} else if os.IsNotExist(err) {
		w.logger.Warn("Config file does not exist, will watch for creation",
			zap.String("path", w.path))
	} else {
		return nil, fmt.Errorf("failed to stat config file %s: %w", w.path, err)
	}

	return w, nil
}

// OnReload registers a callback invoked after every successful reload.
func (w *Watcher) OnReload(cb ReloadFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, cb)
}

// Current returns the most recently loaded configuration.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Start begins polling. It returns immediately; watching stops when
// ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("watcher already running")
	}
	w.running = true
	w.mu.Unlock()

	go w.pollLoop(ctx)
	go w.reloadLoop(ctx)

	w.logger.Info("Config watcher started",
		zap.String("path", w.path),
		zap.Duration("poll_interval", w.pollInterval))

	return nil
}

// Stop stops the watcher. Safe to call more than once.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}

	close(w.stopChan)
	w.running = false

	w.logger.Info("Config watcher stopped")
}

// IsRunning reports whether the watcher is active.
func (w *Watcher) IsRunning() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

func (w *Watcher) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case <-ticker.C:
			w.checkFile()
		}
	}
}

// checkFile emits a change notification when the file's modification
// time moves past the last one seen. A deleted file is ignored; the
// running process keeps its current configuration.
func (w *Watcher) checkFile() {
	info, err := os.Stat(w.path)
	if err != nil {
		if os.IsNotExist(err) {
			w.mu.Lock()
			if !w.lastMod.IsZero() {
				w.lastMod = time.Time{}
				w.logger.Warn("Config file removed, keeping current configuration",
					zap.String("path", w.path))
			}
			w.mu.Unlock()
		}
		return
	}

	w.mu.Lock()
	changed := w.lastMod.IsZero() || info.ModTime().After(w.lastMod)
	if changed {
		w.lastMod = info.ModTime()
	}
	w.mu.Unlock()

	if changed {
		select {
		case w.modChan <- info.ModTime():
		default:
		}
	}
}

// reloadLoop debounces change notifications and performs the reload.
func (w *Watcher) reloadLoop(ctx context.Context) {
	var timer *time.Timer

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case <-w.modChan:
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, w.reload)
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := w.loader.Load()
	if err != nil {
		w.logger.Warn("Config reload failed, keeping previous configuration",
			zap.String("path", w.path),
			zap.Error(err))
		return
	}

	w.mu.Lock()
	old := w.current
	w.current = cfg
	callbacks := make([]ReloadFunc, len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.Unlock()

	w.logger.Info("Configuration reloaded", zap.String("path", w.path))

	for _, cb := range callbacks {
		cb(old, cfg)
	}
}
