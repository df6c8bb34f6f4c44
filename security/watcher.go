package security

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultReloadDebounce = 100 * time.Millisecond

// PolicyWatcher keeps a DefinitionSource in sync with a policy file. A file
// that fails to load leaves the previous rules in effect.
type PolicyWatcher struct {
	path     string
	source   *DefinitionSource
	watcher  *fsnotify.Watcher
	logger   *slog.Logger
	metrics  *Metrics
	debounce time.Duration

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	done    chan struct{}
}

// WatcherOption configures the PolicyWatcher
type WatcherOption func(*PolicyWatcher)

// WithWatcherLogger sets the logger
func WithWatcherLogger(logger *slog.Logger) WatcherOption {
	return func(w *PolicyWatcher) {
		w.logger = logger
	}
}

// WithWatcherMetrics records reload outcomes
func WithWatcherMetrics(metrics *Metrics) WatcherOption {
	return func(w *PolicyWatcher) {
		w.metrics = metrics
	}
}

// WithReloadDebounce sets how long to wait for writes to settle
func WithReloadDebounce(d time.Duration) WatcherOption {
	return func(w *PolicyWatcher) {
		w.debounce = d
	}
}

// NewPolicyWatcher creates a watcher for the policy file at path
func NewPolicyWatcher(path string, source *DefinitionSource, options ...WatcherOption) (*PolicyWatcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, &ConfigurationError{Name: path, Reason: "failed to resolve policy path", Err: err}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &PolicyWatcher{
		path:     absPath,
		source:   source,
		watcher:  watcher,
		logger:   slog.Default(),
		debounce: defaultReloadDebounce,
	}

	for _, opt := range options {
		opt(w)
	}

	return w, nil
}

// Load reads the policy file into the source
func (w *PolicyWatcher) Load() error {
	file, err := LoadPolicyFile(w.path)
	if err == nil {
		err = w.source.SetRules(file.Rules())
	}

	if err != nil {
		w.metrics.recordReload("error")
		w.logger.Error("failed to load channel security policy", "path", w.path, "error", err)
		return err
	}

	w.metrics.recordReload("success")
	w.logger.Info("channel security policy loaded", "path", w.path, "rules", len(file.Channels))
	return nil
}

// Start watches the policy file's directory; editors often replace files by
// renaming, so the file itself cannot be watched
func (w *PolicyWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}

	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}

	w.running = true
	w.stopCh = make(chan struct{})
	w.done = make(chan struct{})

	go w.watchLoop(ctx)
	return nil
}

// Stop stops watching and releases the underlying watcher
func (w *PolicyWatcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return w.watcher.Close()
	}
	w.running = false
	close(w.stopCh)
	done := w.done
	w.mu.Unlock()

	<-done
	return w.watcher.Close()
}

func (w *PolicyWatcher) watchLoop(ctx context.Context) {
	defer close(w.done)

	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(w.debounce, func() {
				_ = w.Load()
			})

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("policy watcher error", "error", err)

		case <-w.stopCh:
			return

		case <-ctx.Done():
			return
		}
	}
}
