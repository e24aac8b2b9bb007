// Package testutil provides shared test utilities for exercising the
// sync engine and CLI against an in-memory backend.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"taskflow/gateway"
)

// FakeGateway is an in-memory TaskGateway with failure injection and a
// manually driven change feed. Safe for concurrent use.
type FakeGateway struct {
	mu     sync.Mutex
	tasks  map[string]gateway.Task
	nextID int

	// Failure injection. When set, the corresponding operation
	// returns the error instead of mutating state.
	FailFetch  error
	FailCreate error
	FailUpdate error
	FailRemove error

	// BlockCreate, when non-nil, makes Create wait for a value (or
	// context cancellation) before confirming. Tests use it to hold a
	// create pending while other events arrive.
	BlockCreate chan struct{}

	handlers map[int]func(gateway.ChangeEvent)
	nextSub  int

	// Calls records operation names in invocation order.
	Calls []string
}

var _ gateway.TaskGateway = (*FakeGateway)(nil)

// NewFakeGateway returns an empty fake backend.
func NewFakeGateway() *FakeGateway {
	return &FakeGateway{
		tasks:    make(map[string]gateway.Task),
		handlers: make(map[int]func(gateway.ChangeEvent)),
	}
}

// Seed inserts tasks directly, bypassing the Create path.
func (f *FakeGateway) Seed(tasks ...gateway.Task) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range tasks {
		f.tasks[t.ID] = t
	}
}

// TaskByID returns the stored task and whether it exists.
func (f *FakeGateway) TaskByID(id string) (gateway.Task, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	return t, ok
}

// TaskCount returns the number of stored tasks.
func (f *FakeGateway) TaskCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tasks)
}

// Emit delivers a change event to all active subscribers, simulating
// activity from another session.
func (f *FakeGateway) Emit(ev gateway.ChangeEvent) {
	f.mu.Lock()
	hs := make([]func(gateway.ChangeEvent), 0, len(f.handlers))
	for _, h := range f.handlers {
		hs = append(hs, h)
	}
	f.mu.Unlock()

	for _, h := range hs {
		h(ev)
	}
}

// SubscriberCount returns the number of active subscriptions.
func (f *FakeGateway) SubscriberCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handlers)
}

func (f *FakeGateway) record(op string) {
	f.Calls = append(f.Calls, op)
}

// FetchAll returns the user's tasks in newest-first order.
func (f *FakeGateway) FetchAll(ctx context.Context, userID string) ([]gateway.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("FetchAll")
	if f.FailFetch != nil {
		return nil, f.FailFetch
	}
	out := make([]gateway.Task, 0, len(f.tasks))
	for _, t := range f.tasks {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	gateway.SortTasks(out)
	return out, nil
}

// Create stores a new task and returns it with a server-assigned id.
func (f *FakeGateway) Create(ctx context.Context, userID, title string) (*gateway.Task, error) {
	if f.BlockCreate != nil {
		select {
		case <-f.BlockCreate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("Create")
	if f.FailCreate != nil {
		return nil, f.FailCreate
	}
	f.nextID++
	now := time.Now().UTC()
	t := gateway.Task{
		ID:        fmt.Sprintf("srv-%d", f.nextID),
		Title:     title,
		CreatedAt: &now,
		UpdatedAt: &now,
		UserID:    userID,
	}
	f.tasks[t.ID] = t
	return &t, nil
}

// Update applies fields to a stored task. A missing row or one owned by
// another user yields a NotFoundError.
func (f *FakeGateway) Update(ctx context.Context, userID, id string, fields gateway.TaskFields) (*gateway.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("Update")
	if f.FailUpdate != nil {
		return nil, f.FailUpdate
	}
	t, ok := f.tasks[id]
	if !ok || t.UserID != userID {
		return nil, &gateway.NotFoundError{ID: id}
	}
	if fields.Title != nil {
		t.Title = *fields.Title
	}
	if fields.IsComplete != nil {
		t.IsComplete = *fields.IsComplete
	}
	now := time.Now().UTC()
	t.UpdatedAt = &now
	f.tasks[id] = t
	return &t, nil
}

// Remove deletes a stored task. Removing an absent id succeeds.
func (f *FakeGateway) Remove(ctx context.Context, userID, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("Remove")
	if f.FailRemove != nil {
		return f.FailRemove
	}
	if t, ok := f.tasks[id]; ok && t.UserID == userID {
		delete(f.tasks, id)
	}
	return nil
}

// Subscribe registers a change handler and returns a cancel func.
func (f *FakeGateway) Subscribe(ctx context.Context, userID string, onEvent func(gateway.ChangeEvent)) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("Subscribe")
	id := f.nextSub
	f.nextSub++
	f.handlers[id] = onEvent

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.handlers, id)
			f.mu.Unlock()
		})
	}, nil
}

// Close drops all subscriptions.
func (f *FakeGateway) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers = make(map[int]func(gateway.ChangeEvent))
	return nil
}
