package source

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatcherConfig configures a Watcher.
type WatcherConfig struct {
	// Path is the file or directory to watch.
	Path string

	// DebounceInterval is the quiet period after the last change before a
	// reload fires (default: 100ms).
	DebounceInterval time.Duration

	// Extensions lists the file extensions that trigger a reload.
	Extensions []string
}

// DefaultWatcherConfig returns the default watcher configuration for path.
func DefaultWatcherConfig(path string) *WatcherConfig {
	return &WatcherConfig{
		Path:             path,
		DebounceInterval: 100 * time.Millisecond,
		Extensions:       []string{".yaml", ".yml"},
	}
}

// Watcher watches rule files and invokes a callback after changes settle.
type Watcher struct {
	watcher  *fsnotify.Watcher
	logger   *slog.Logger
	config   *WatcherConfig
	debounce *Debouncer

	mu      sync.Mutex
	running bool
}

// NewWatcher creates a watcher. Close must be called to release it.
func NewWatcher(config *WatcherConfig, logger *slog.Logger) (*Watcher, error) {
	if config == nil || config.Path == "" {
		return nil, fmt.Errorf("watch path is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	return &Watcher{
		watcher:  w,
		logger:   logger.With("component", "policy.watcher"),
		config:   config,
		debounce: NewDebouncer(config.DebounceInterval),
	}, nil
}

// Watch blocks until ctx is cancelled, calling onChange once per burst of
// relevant file events.
func (w *Watcher) Watch(ctx context.Context, onChange func()) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("watcher already running")
	}
	w.running = true
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}()

	if err := w.addPath(w.config.Path); err != nil {
		return fmt.Errorf("failed to watch path: %w", err)
	}

	w.logger.Info("rule watcher started",
		"path", w.config.Path,
		"debounce_ms", w.config.DebounceInterval.Milliseconds(),
	)

	for {
		select {
		case <-ctx.Done():
			w.debounce.Stop()
			w.logger.Info("rule watcher stopped")
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if event.Op&fsnotify.Create != 0 {
				// New subdirectories must be watched too.
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = w.addDirectory(event.Name)
				}
			}
			if !w.relevant(event) {
				continue
			}
			w.logger.Debug("rule file event",
				"path", event.Name,
				"op", event.Op.String(),
			)
			w.debounce.Trigger(onChange)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			w.logger.Error("rule watcher error", "error", err)
		}
	}
}

// Close releases the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	w.debounce.Stop()
	if err := w.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

func (w *Watcher) addPath(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return w.addDirectory(path)
	}
	// Editors replace files by rename, so watch the parent directory.
	return w.watcher.Add(filepath.Dir(path))
}

func (w *Watcher) addDirectory(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			return fmt.Errorf("failed to watch directory %q: %w", path, err)
		}
		return nil
	})
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Op == fsnotify.Chmod {
		return false
	}
	base := filepath.Base(event.Name)
	if strings.HasPrefix(base, ".") {
		return false
	}
	if info, err := os.Stat(w.config.Path); err == nil && !info.IsDir() {
		return filepath.Clean(event.Name) == filepath.Clean(w.config.Path)
	}
	ext := strings.ToLower(filepath.Ext(event.Name))
	for _, want := range w.config.Extensions {
		if ext == strings.ToLower(want) {
			return true
		}
	}
	return false
}

// Debouncer collects rapid triggers and runs the latest callback once the
// interval passes without a new trigger.
type Debouncer struct {
	interval time.Duration

	mu       sync.Mutex
	timer    *time.Timer
	callback func()
	stopped  bool
}

// NewDebouncer creates a debouncer.
func NewDebouncer(interval time.Duration) *Debouncer {
	return &Debouncer{interval: interval}
}

// Trigger schedules callback, replacing any pending one.
func (d *Debouncer) Trigger(callback func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.callback = callback
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.interval, d.fire)
}

func (d *Debouncer) fire() {
	d.mu.Lock()
	cb := d.callback
	d.callback = nil
	stopped := d.stopped
	d.mu.Unlock()
	if cb != nil && !stopped {
		cb()
	}
}

// Stop cancels any pending callback. Later triggers are ignored.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.callback = nil
}
