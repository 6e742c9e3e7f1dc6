// control/watcher.go
// Author: momentics <momentics@gmail.com>
//
// Hot reload: watches the config file and re-applies it to a ConfigStore.

package control

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultDebounce = 200 * time.Millisecond

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets how long the watcher waits for writes to settle.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithWatcherLogger sets the logger.
func WithWatcherLogger(l *zap.Logger) WatcherOption {
	return func(w *Watcher) {
		if l != nil {
			w.log = l
		}
	}
}

// Watcher reloads the loader's file into the store on change.
type Watcher struct {
	loader   *Loader
	store    *ConfigStore
	debounce time.Duration
	log      *zap.Logger

	fs     *fsnotify.Watcher
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	timer *time.Timer
}

// NewWatcher builds a watcher for loader's config file.
func NewWatcher(loader *Loader, store *ConfigStore, opts ...WatcherOption) (*Watcher, error) {
	if loader.Path() == "" {
		return nil, errors.New("watcher: loader has no config path")
	}
	w := &Watcher{
		loader:   loader,
		store:    store,
		debounce: defaultDebounce,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.log = w.log.With(zap.String("component", "config-watcher"), zap.String("path", loader.Path()))
	return w, nil
}

// Start watches the directory holding the file, so editors that replace the
// file by rename are seen too.
func (w *Watcher) Start(ctx context.Context) error {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watcher: %w", err)
	}
	if err := fs.Add(filepath.Dir(w.loader.Path())); err != nil {
		_ = fs.Close()
		return fmt.Errorf("watcher: %w", err)
	}
	ctx, w.cancel = context.WithCancel(ctx)
	w.fs = fs
	w.wg.Add(1)
	go w.loop(ctx)
	w.log.Info("config watcher started", zap.Duration("debounce", w.debounce))
	return nil
}

// Stop ends watching and waits for the event goroutine.
func (w *Watcher) Stop() error {
	if w.fs == nil {
		return nil
	}
	w.cancel()
	err := w.fs.Close()
	w.wg.Wait()
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	w.log.Info("config watcher stopped")
	return err
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()
	target := filepath.Clean(w.loader.Path())
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			w.schedule()
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.log.Warn("watch error", zap.Error(err))
		}
	}
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.Reload)
}

// Reload loads the file and installs it. A bad file keeps the current config.
func (w *Watcher) Reload() {
	cfg, err := w.loader.Load()
	if err == nil {
		err = w.store.SetConfig(cfg)
	}
	if err != nil {
		w.log.Warn("config reload rejected", zap.Error(err))
		return
	}
	w.log.Info("config reloaded")
}
