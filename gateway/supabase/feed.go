package supabase

import (
	"context"
	"sync"
	"time"

	"taskflow/gateway"
)

// DefaultPollInterval is the default change-feed polling cadence.
const DefaultPollInterval = 3 * time.Second

// Subscribe establishes a change feed for the user's rows. The backend
// exposes server-push change notifications; this client realizes them
// by polling the rows API and diffing snapshots, which preserves the
// feed contract: events arrive in server order per poll, delivery is
// at-least-once, and consumers must apply events idempotently.
//
// The first successful poll establishes a baseline without emitting
// events. The returned cancel function stops the feed synchronously
// and is idempotent.
func (g *Gateway) Subscribe(ctx context.Context, userID string, onEvent func(gateway.ChangeEvent)) (func(), error) {
	interval := g.config.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	f := &feed{
		gw:      g,
		userID:  userID,
		onEvent: onEvent,
		breaker: newCircuitBreaker(DefaultBreakerThreshold, DefaultBreakerCooldown),
		stopCh:  make(chan struct{}),
	}

	go f.loop(ctx, interval)

	return f.cancel, nil
}

// feed is one active change-feed subscription.
type feed struct {
	gw      *Gateway
	userID  string
	onEvent func(gateway.ChangeEvent)
	breaker *circuitBreaker

	mu       sync.Mutex
	stopped  bool
	stopCh   chan struct{}
	baseline map[string]gateway.Task
	primed   bool
}

// cancel stops the feed. Calling it twice, or when the feed already
// stopped, is not an error.
func (f *feed) cancel() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.stopped {
		return
	}
	f.stopped = true
	close(f.stopCh)
}

// loop polls on the configured cadence until cancelled.
func (f *feed) loop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Prime the baseline immediately rather than waiting a full tick.
	f.poll(ctx)

	for {
		select {
		case <-f.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.poll(ctx)
		}
	}
}

// poll fetches the current snapshot and emits the diff against the
// previous one.
func (f *feed) poll(ctx context.Context) {
	if !f.breaker.Allow() {
		return
	}

	tasks, err := f.gw.FetchAll(ctx, f.userID)
	if err != nil {
		f.breaker.RecordFailure()
		return
	}
	f.breaker.RecordSuccess()

	current := make(map[string]gateway.Task, len(tasks))
	for _, t := range tasks {
		current[t.ID] = t
	}

	f.mu.Lock()
	prev := f.baseline
	primed := f.primed
	f.baseline = current
	f.primed = true
	stopped := f.stopped
	f.mu.Unlock()

	if !primed || stopped {
		return
	}

	// Inserted and updated rows, in server order.
	for _, t := range tasks {
		old, ok := prev[t.ID]
		switch {
		case !ok:
			f.emit(gateway.ChangeEvent{Kind: gateway.ChangeInserted, Task: t})
		case rowChanged(old, t):
			f.emit(gateway.ChangeEvent{Kind: gateway.ChangeUpdated, Task: t})
		}
	}

	// Rows that vanished since the last poll.
	for id, old := range prev {
		if _, ok := current[id]; !ok {
			f.emit(gateway.ChangeEvent{Kind: gateway.ChangeDeleted, Task: old})
		}
	}
}

// emit delivers one event unless the feed was cancelled mid-poll.
func (f *feed) emit(ev gateway.ChangeEvent) {
	f.mu.Lock()
	stopped := f.stopped
	f.mu.Unlock()
	if stopped {
		return
	}
	f.onEvent(ev)
}

// rowChanged reports whether any synchronized field differs.
func rowChanged(a, b gateway.Task) bool {
	if a.Title != b.Title || a.IsComplete != b.IsComplete {
		return true
	}
	return !timePtrEqual(a.UpdatedAt, b.UpdatedAt)
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
