package cache

import (
	"context"
	"sync"
	"time"

	"taskflow/gateway"
)

// DefaultDebounce is the default write-coalescing window.
const DefaultDebounce = 300 * time.Millisecond

// Writer coalesces snapshot writes: rapid successive saves collapse to
// a single write of the newest state after the debounce window. Write
// failures are reported through warn and never propagate.
type Writer struct {
	store *Store
	delay time.Duration
	warn  func(error)

	mu      sync.Mutex
	pending map[string][]gateway.Task
	timer   *time.Timer
	closed  bool
}

// NewWriter creates a debounced Writer over the given store. A nil
// warn silently drops cache errors.
func NewWriter(store *Store, delay time.Duration, warn func(error)) *Writer {
	if delay <= 0 {
		delay = DefaultDebounce
	}
	if warn == nil {
		warn = func(error) {}
	}
	return &Writer{
		store:   store,
		delay:   delay,
		warn:    warn,
		pending: make(map[string][]gateway.Task),
	}
}

// Save queues the newest snapshot for a user. Earlier unwritten
// snapshots for the same user are superseded.
func (w *Writer) Save(userID string, tasks []gateway.Task) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}

	w.pending[userID] = tasks

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.delay, w.flushPending)
}

// flushPending writes all queued snapshots.
func (w *Writer) flushPending() {
	w.mu.Lock()
	pending := w.pending
	w.pending = make(map[string][]gateway.Task)
	w.mu.Unlock()

	for userID, tasks := range pending {
		if err := w.store.Save(context.Background(), userID, tasks); err != nil {
			w.warn(err)
		}
	}
}

// Flush writes any queued snapshots immediately.
func (w *Writer) Flush() {
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.mu.Unlock()

	w.flushPending()
}

// Close flushes queued snapshots and stops the writer. Calling Close
// twice is not an error.
func (w *Writer) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.mu.Unlock()

	w.flushPending()
}
