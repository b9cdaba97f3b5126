// Package watch notices out-of-process changes to the token file, such as a
// login or logout run from another terminal, so in-memory caches can be
// reconciled with what is on disk.
package watch

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"kimiauth/pkg/logging"
)

const (
	// DefaultDebounceInterval is the quiet period after the last event
	// before callbacks fire.
	DefaultDebounceInterval = 500 * time.Millisecond
	// DefaultPollInterval is the fallback polling period when fsnotify is
	// unavailable.
	DefaultPollInterval = 5 * time.Second
)

// Config holds configuration for the token watcher.
type Config struct {
	// Dir is the storage directory containing the file.
	Dir string

	// File is the watched file name.
	File string

	// PollInterval is the fallback polling interval.
	PollInterval time.Duration

	// Debounce collapses bursts of events, e.g. the create and rename of an
	// atomic replace.
	Debounce time.Duration

	// ForcePolling skips fsnotify.
	ForcePolling bool

	// OnChange is called when the file was written or replaced.
	OnChange func()

	// OnRemove is called when the file disappeared.
	OnRemove func()
}

// TokenWatcher monitors a single file in a directory. It uses fsnotify with
// a fallback to polling for environments where fsnotify is not available.
type TokenWatcher struct {
	mu sync.Mutex

	config Config

	fsWatcher *fsnotify.Watcher
	stopCh    chan struct{}
	running   bool

	// last observed state, used by polling
	lastModTime time.Time
	lastExists  bool

	debounceTimer *time.Timer
	debounceMu    sync.Mutex
}

// New creates a new token watcher.
func New(config Config) (*TokenWatcher, error) {
	if config.Dir == "" || config.File == "" {
		return nil, fmt.Errorf("watch directory and file are required")
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.Debounce <= 0 {
		config.Debounce = DefaultDebounceInterval
	}
	return &TokenWatcher{config: config}, nil
}

func (w *TokenWatcher) path() string {
	return filepath.Join(w.config.Dir, w.config.File)
}

// Start begins watching. Starting a running watcher is a no-op.
func (w *TokenWatcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}

	if err := os.MkdirAll(w.config.Dir, 0700); err != nil {
		return fmt.Errorf("failed to create watch directory: %w", err)
	}

	w.stopCh = make(chan struct{})
	w.running = true
	w.snapshot()

	if w.config.ForcePolling {
		go w.pollForChanges(w.stopCh)
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logging.Warn("TokenWatcher", "fsnotify not available, falling back to polling: %v", err)
		go w.pollForChanges(w.stopCh)
		return nil
	}

	if err := watcher.Add(w.config.Dir); err != nil {
		logging.Warn("TokenWatcher", "Failed to watch directory %s, falling back to polling: %v",
			w.config.Dir, err)
		watcher.Close()
		go w.pollForChanges(w.stopCh)
		return nil
	}
	w.fsWatcher = watcher

	go w.processEvents(w.stopCh, watcher.Events, watcher.Errors)

	logging.Info("TokenWatcher", "Started watching %s", w.path())
	return nil
}

func (w *TokenWatcher) processEvents(stopCh <-chan struct{}, eventsCh <-chan fsnotify.Event, errorsCh <-chan error) {
	for {
		select {
		case <-stopCh:
			return

		case event, ok := <-eventsCh:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != w.config.File {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			logging.Debug("TokenWatcher", "Token file event: %s", event.Op)
			w.triggerDebounced()

		case err, ok := <-errorsCh:
			if !ok {
				return
			}
			logging.Error("TokenWatcher", err, "fsnotify error")
		}
	}
}

// triggerDebounced fires the matching callback once events settle. Whether
// the file still exists decides between OnChange and OnRemove.
func (w *TokenWatcher) triggerDebounced() {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}

	w.debounceTimer = time.AfterFunc(w.config.Debounce, func() {
		w.mu.Lock()
		running := w.running
		w.mu.Unlock()
		if !running {
			return
		}

		if _, err := os.Stat(w.path()); err == nil {
			if w.config.OnChange != nil {
				w.config.OnChange()
			}
		} else if os.IsNotExist(err) && w.config.OnRemove != nil {
			w.config.OnRemove()
		}
	})
}

func (w *TokenWatcher) pollForChanges(stopCh <-chan struct{}) {
	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if w.checkForChanges() {
				logging.Debug("TokenWatcher", "Token file change detected via polling")
				w.triggerDebounced()
			}
		}
	}
}

// snapshot records the current file state. Callers hold w.mu.
func (w *TokenWatcher) snapshot() {
	info, err := os.Stat(w.path())
	w.lastExists = err == nil
	if err == nil {
		w.lastModTime = info.ModTime()
	}
}

func (w *TokenWatcher) checkForChanges() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	info, err := os.Stat(w.path())
	exists := err == nil

	changed := exists != w.lastExists
	if exists && !changed {
		changed = !info.ModTime().Equal(w.lastModTime)
	}

	w.lastExists = exists
	if exists {
		w.lastModTime = info.ModTime()
	}
	return changed
}

// Stop stops the watcher.
func (w *TokenWatcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return nil
	}

	w.running = false
	close(w.stopCh)

	w.debounceMu.Lock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
		w.debounceTimer = nil
	}
	w.debounceMu.Unlock()

	if w.fsWatcher != nil {
		if err := w.fsWatcher.Close(); err != nil {
			logging.Warn("TokenWatcher", "Error closing fsnotify watcher: %v", err)
		}
		w.fsWatcher = nil
	}

	logging.Info("TokenWatcher", "Stopped token watcher")
	return nil
}

// IsRunning returns whether the watcher is currently active.
func (w *TokenWatcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}
