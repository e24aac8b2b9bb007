// Package watcher monitors the snapshot cache file for writes made by
// other processes. When a concurrent session persists a newer snapshot,
// the watching session refreshes from the server so both converge.
package watcher

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	// DefaultDebounce is the window for batching rapid cache writes.
	DefaultDebounce = 1 * time.Second

	// DefaultSuppressWindow is how long the watcher ignores events
	// after Suppress is called. Our own cache flushes land within it.
	DefaultSuppressWindow = 2 * time.Second
)

// Config holds cache watcher settings.
type Config struct {
	Path     string        // Cache file to watch
	Debounce time.Duration // Window to batch rapid writes
	OnChange func()        // Callback when a foreign write settles
	OnError  func(error)   // Optional, called on watch errors
}

// Watcher observes the cache file and invokes OnChange when another
// process modifies it.
type Watcher struct {
	cfg      Config
	fsw      *fsnotify.Watcher
	stopCh   chan struct{}
	stopped  bool
	suppress time.Time
	mu       sync.Mutex
}

// New creates a Watcher for the configured cache path.
func New(cfg Config) (*Watcher, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("watcher requires a cache path")
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &Watcher{
		cfg:    cfg,
		fsw:    fsw,
		stopCh: make(chan struct{}),
	}, nil
}

// Start begins watching. The parent directory is watched rather than
// the file itself so recreation (SQLite checkpoint, first write) is
// still observed.
func (w *Watcher) Start() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return fmt.Errorf("watcher has been stopped and cannot be restarted")
	}
	w.mu.Unlock()

	dir := filepath.Dir(w.cfg.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create watch directory: %w", err)
	}
	if err := w.fsw.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %q: %w", dir, err)
	}

	go w.eventLoop()

	return nil
}

// Stop stops the watcher and cleans up resources.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return
	}
	w.stopped = true
	close(w.stopCh)
	_ = w.fsw.Close()
}

// Suppress marks the near future as self-inflicted. Events arriving
// within the suppress window are dropped, so our own cache flushes do
// not trigger a refresh loop.
func (w *Watcher) Suppress() {
	w.mu.Lock()
	w.suppress = time.Now().Add(DefaultSuppressWindow)
	w.mu.Unlock()
}

func (w *Watcher) suppressed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return time.Now().Before(w.suppress)
}

// eventLoop batches writes to the cache file and fires OnChange once
// they settle.
func (w *Watcher) eventLoop() {
	var debounceTimer *time.Timer

	fireCh := make(chan struct{}, 1)

	resetDebounce := func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
		debounceTimer = time.AfterFunc(w.cfg.Debounce, func() {
			select {
			case fireCh <- struct{}{}:
			default:
			}
		})
	}

	base := filepath.Base(w.cfg.Path)

	for {
		select {
		case <-w.stopCh:
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			// SQLite writes touch the db file and its -wal sidecar.
			name := filepath.Base(event.Name)
			if name != base && name != base+"-wal" {
				continue
			}
			if w.suppressed() {
				continue
			}
			resetDebounce()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			if w.cfg.OnError != nil {
				w.cfg.OnError(err)
			}

		case <-fireCh:
			if w.suppressed() {
				continue
			}
			if w.cfg.OnChange != nil {
				w.cfg.OnChange()
			}
		}
	}
}
