package engine

import (
	"context"
	"sync"
	"time"

	"taskflow/gateway"
	"taskflow/internal/cache"
	"taskflow/internal/notify"
)

// Config holds the engine's collaborators. Gateway is required; the
// rest degrade gracefully when nil.
type Config struct {
	Gateway  gateway.TaskGateway
	Store    *cache.Store  // local snapshot store; nil disables caching
	Writer   *cache.Writer // debounced cache writer; nil disables caching
	Notifier notify.Notifier
	Now      func() time.Time // injectable clock for tests
}

// Engine owns the reconciled task list for one signed-in user. All
// mutations are serialized through its operation handlers; collaborators
// never touch the state directly.
type Engine struct {
	gw       gateway.TaskGateway
	store    *cache.Store
	writer   *cache.Writer
	notifier notify.Notifier
	now      func() time.Time

	mu         sync.Mutex
	st         State
	userID     string
	started    bool
	stale      bool // painted from cache, first fetch not yet confirmed
	cancelFeed func()
	onChange   []func()
}

// New creates an Engine. Call Start before issuing operations.
func New(cfg Config) *Engine {
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = notify.Discard
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		gw:       cfg.Gateway,
		store:    cfg.Store,
		writer:   cfg.Writer,
		notifier: notifier,
		now:      now,
		st:       NewState(),
	}
}

// OnChange registers a handler invoked after every state transition.
// Handlers run outside the engine lock and must not block.
func (e *Engine) OnChange(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onChange = append(e.onChange, fn)
}

// Start bootstraps the engine for a user: paint from the local cache
// immediately, fetch the authoritative snapshot, then subscribe to the
// change feed. A fetch failure leaves the engine usable on the cached
// (possibly stale) view and is returned to the caller.
func (e *Engine) Start(ctx context.Context, userID string) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = true
	e.userID = userID
	e.mu.Unlock()

	// Immediate paint from cache. Cache failures are warnings, never
	// fatal: the engine proceeds as if the cache were empty.
	if e.store != nil {
		cached, err := e.store.Load(ctx, userID)
		if err != nil {
			notify.Warnf(e.notifier, "local cache unavailable: %v", err)
		} else if len(cached) > 0 {
			e.mu.Lock()
			e.st = Reconcile(e.st, Bootstrap{Snapshot: cached})
			e.stale = true
			e.mu.Unlock()
			e.fireChange()
		}
	}

	if err := e.Refresh(ctx); err != nil {
		return err
	}

	// Subscribe only after a successful first fetch so events never
	// land before a baseline exists.
	cancel, err := e.gw.Subscribe(ctx, userID, e.handleRemote)
	if err != nil {
		notify.Errorf(e.notifier, "live updates unavailable: %v", err)
		return err
	}

	e.mu.Lock()
	e.cancelFeed = cancel
	e.mu.Unlock()
	return nil
}

// Stop cancels the change feed and flushes the cache writer. Calling
// Stop twice, or before Start, is not an error.
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel := e.cancelFeed
	e.cancelFeed = nil
	e.started = false
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if e.writer != nil {
		e.writer.Flush()
	}
}

// Refresh refetches the server snapshot and reconciles it against any
// still-pending optimistic entries.
func (e *Engine) Refresh(ctx context.Context) error {
	e.mu.Lock()
	userID := e.userID
	e.mu.Unlock()

	snapshot, err := e.gw.FetchAll(ctx, userID)
	if err != nil {
		notify.Errorf(e.notifier, "failed to fetch tasks: %v", err)
		return err
	}

	e.mu.Lock()
	e.st = Reconcile(e.st, Bootstrap{Snapshot: snapshot})
	e.stale = false
	e.persistLocked()
	e.mu.Unlock()
	e.fireChange()
	return nil
}

// Stale reports whether the current view came from the cache and has
// not yet been confirmed by a fetch.
func (e *Engine) Stale() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stale
}

// Snapshot returns the reconciled list, sorted for display.
func (e *Engine) Snapshot() []gateway.Task {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.st.List()
}

// Create validates the title, inserts an optimistic temporary task, and
// confirms it against the gateway. On failure the temporary entry is
// removed entirely and the error surfaced.
func (e *Engine) Create(ctx context.Context, title string) (*gateway.Task, error) {
	trimmed, err := gateway.ValidateTitle(title)
	if err != nil {
		return nil, err
	}

	now := e.now()
	temp := gateway.Task{
		ID:        gateway.NewTempID(),
		Title:     trimmed,
		CreatedAt: &now,
		UserID:    e.currentUser(),
	}

	e.apply(OptimisticCreate{Task: temp})

	confirmed, err := e.gw.Create(ctx, temp.UserID, trimmed)
	if err != nil {
		e.apply(CreateFailed{TempID: temp.ID})
		notify.Errorf(e.notifier, "failed to add task: %v", err)
		return nil, err
	}

	e.apply(CreateConfirmed{TempID: temp.ID, Task: *confirmed})
	return confirmed, nil
}

// Update applies partial fields optimistically and reconciles with the
// server-confirmed row. On failure the entry reverts to its prior
// state.
func (e *Engine) Update(ctx context.Context, id string, fields gateway.TaskFields) error {
	if fields.Title != nil {
		trimmed, err := gateway.ValidateTitle(*fields.Title)
		if err != nil {
			return err
		}
		fields.Title = &trimmed
	}

	e.mu.Lock()
	prev, ok := e.st.Tasks[id]
	if !ok {
		e.mu.Unlock()
		return &gateway.NotFoundError{ID: id}
	}
	e.st = Reconcile(e.st, OptimisticUpdate{ID: id, Fields: fields})
	e.persistLocked()
	e.mu.Unlock()
	e.fireChange()

	confirmed, err := e.gw.Update(ctx, e.currentUser(), id, fields)
	if err != nil {
		e.apply(UpdateFailed{ID: id, Prev: prev})
		notify.Errorf(e.notifier, "failed to update task: %v", err)
		return err
	}

	e.apply(UpdateConfirmed{Task: *confirmed})
	return nil
}

// Toggle flips a task's completion state.
func (e *Engine) Toggle(ctx context.Context, id string) error {
	e.mu.Lock()
	t, ok := e.st.Tasks[id]
	e.mu.Unlock()
	if !ok {
		return &gateway.NotFoundError{ID: id}
	}

	complete := !t.IsComplete
	return e.Update(ctx, id, gateway.TaskFields{IsComplete: &complete})
}

// Delete removes a task optimistically. On failure the full prior list
// is restored.
func (e *Engine) Delete(ctx context.Context, id string) error {
	e.mu.Lock()
	if _, ok := e.st.Tasks[id]; !ok {
		e.mu.Unlock()
		return &gateway.NotFoundError{ID: id}
	}
	snapshot := e.st.List()
	e.st = Reconcile(e.st, OptimisticDelete{ID: id})
	e.persistLocked()
	e.mu.Unlock()
	e.fireChange()

	if err := e.gw.Remove(ctx, e.currentUser(), id); err != nil {
		e.apply(DeleteFailed{Snapshot: snapshot})
		notify.Errorf(e.notifier, "failed to delete task: %v", err)
		return err
	}
	return nil
}

// handleRemote feeds one change event through the reducer.
func (e *Engine) handleRemote(ev gateway.ChangeEvent) {
	e.apply(Remote{Event: ev})
}

// apply runs one event through the reducer, persists, and notifies.
func (e *Engine) apply(ev Event) {
	e.mu.Lock()
	e.st = Reconcile(e.st, ev)
	e.persistLocked()
	e.mu.Unlock()
	e.fireChange()
}

// persistLocked queues the current list to the debounced cache writer.
// Callers must hold e.mu.
func (e *Engine) persistLocked() {
	if e.writer == nil || e.userID == "" {
		return
	}
	e.writer.Save(e.userID, e.st.List())
}

// currentUser returns the engine's user id.
func (e *Engine) currentUser() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.userID
}

// fireChange invokes change handlers outside the lock.
func (e *Engine) fireChange() {
	e.mu.Lock()
	handlers := make([]func(), len(e.onChange))
	copy(handlers, e.onChange)
	e.mu.Unlock()

	for _, fn := range handlers {
		fn()
	}
}
