// Package engine merges cache, fetched snapshots, live change events,
// and in-flight optimistic mutations into one authoritative task list.
//
// The merge itself is a pure reducer over tagged events (Reconcile),
// testable with no network or storage. Engine wraps the reducer with
// gateway calls, cache persistence, and lifecycle.
package engine

import (
	"sort"

	"taskflow/gateway"
)

// State is the reconciled view: one task per id, plus bookkeeping for
// optimistic creates awaiting confirmation.
type State struct {
	// Tasks maps id -> task. Exactly one entry per id.
	Tasks map[string]gateway.Task

	// Pending maps temporary id -> title for optimistic creates whose
	// gateway call has not resolved yet. The title identifies the
	// server-confirmed counterpart among incoming change events.
	Pending map[string]string

	// Deferred holds remote upserts that matched a pending create and
	// must wait for the create's own response, so the temporary and
	// confirmed rows are never visible together.
	Deferred map[string][]gateway.Task
}

// NewState returns an empty State.
func NewState() State {
	return State{
		Tasks:    make(map[string]gateway.Task),
		Pending:  make(map[string]string),
		Deferred: make(map[string][]gateway.Task),
	}
}

// clone copies the state so Reconcile stays a pure function.
func (s State) clone() State {
	next := State{
		Tasks:    make(map[string]gateway.Task, len(s.Tasks)),
		Pending:  make(map[string]string, len(s.Pending)),
		Deferred: make(map[string][]gateway.Task, len(s.Deferred)),
	}
	for id, t := range s.Tasks {
		next.Tasks[id] = t
	}
	for id, title := range s.Pending {
		next.Pending[id] = title
	}
	for id, evs := range s.Deferred {
		cp := make([]gateway.Task, len(evs))
		copy(cp, evs)
		next.Deferred[id] = cp
	}
	return next
}

// List returns the tasks sorted for display.
func (s State) List() []gateway.Task {
	out := make([]gateway.Task, 0, len(s.Tasks))
	for _, t := range s.Tasks {
		out = append(out, t)
	}
	// Map order is random; fix id order first so equal sort keys stay
	// deterministic across calls.
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	gateway.SortTasks(out)
	return out
}

// Event is a tagged state transition consumed by Reconcile.
type Event interface {
	isEvent()
}

// Bootstrap replaces the view with a fetched snapshot. Still-pending
// optimistic creates are re-appended when the snapshot does not yet
// reflect them.
type Bootstrap struct {
	Snapshot []gateway.Task
}

// OptimisticCreate inserts a temporary task awaiting confirmation.
type OptimisticCreate struct {
	Task gateway.Task
}

// CreateConfirmed replaces a temporary task with its server row.
type CreateConfirmed struct {
	TempID string
	Task   gateway.Task
}

// CreateFailed removes a temporary task whose creation was rejected.
type CreateFailed struct {
	TempID string
}

// OptimisticUpdate applies partial fields to a tracked task.
type OptimisticUpdate struct {
	ID     string
	Fields gateway.TaskFields
}

// UpdateConfirmed replaces a task with the server-confirmed row. The
// confirmation is discarded when the id is no longer tracked (for
// example, deleted while the update was in flight).
type UpdateConfirmed struct {
	Task gateway.Task
}

// UpdateFailed restores a task to its pre-update snapshot.
type UpdateFailed struct {
	ID   string
	Prev gateway.Task
}

// OptimisticDelete removes a task ahead of server confirmation.
type OptimisticDelete struct {
	ID string
}

// DeleteFailed restores the full pre-delete list.
type DeleteFailed struct {
	Snapshot []gateway.Task
}

// Remote applies one change-feed event.
type Remote struct {
	Event gateway.ChangeEvent
}

func (Bootstrap) isEvent()        {}
func (OptimisticCreate) isEvent() {}
func (CreateConfirmed) isEvent()  {}
func (CreateFailed) isEvent()     {}
func (OptimisticUpdate) isEvent() {}
func (UpdateConfirmed) isEvent()  {}
func (UpdateFailed) isEvent()     {}
func (OptimisticDelete) isEvent() {}
func (DeleteFailed) isEvent()     {}
func (Remote) isEvent()           {}

// Reconcile applies one event and returns the next state. It never
// mutates its input. Applying the same remote event twice yields the
// same state as applying it once; conflicting writes to the same id
// resolve last-applied-wins.
func Reconcile(s State, ev Event) State {
	next := s.clone()

	switch e := ev.(type) {
	case Bootstrap:
		fetched := make(map[string]gateway.Task, len(e.Snapshot))
		for _, t := range e.Snapshot {
			fetched[t.ID] = t
		}
		// A fetched row whose title matches a pending create is that
		// create already committed server-side; its confirmation just
		// has not landed yet. Re-appending the temporary row too would
		// paint a duplicate.
		committed := make(map[string]bool)
		for _, t := range e.Snapshot {
			if tempID, ok := matchPendingCreate(&next, t, committed); ok {
				committed[tempID] = true
			}
		}
		// Re-append the remaining pending optimistic creates the
		// server does not yet reflect. Everything else is replaced by
		// the snapshot.
		for tempID := range next.Pending {
			if committed[tempID] {
				continue
			}
			if t, ok := next.Tasks[tempID]; ok {
				if _, confirmed := fetched[tempID]; !confirmed {
					fetched[tempID] = t
				}
			}
		}
		next.Tasks = fetched

	case OptimisticCreate:
		next.Tasks[e.Task.ID] = e.Task
		next.Pending[e.Task.ID] = e.Task.Title

	case CreateConfirmed:
		delete(next.Tasks, e.TempID)
		delete(next.Pending, e.TempID)
		next.Tasks[e.Task.ID] = e.Task
		flushDeferred(&next, e.TempID)

	case CreateFailed:
		delete(next.Tasks, e.TempID)
		delete(next.Pending, e.TempID)
		// Deferred events were genuine remote inserts; apply them now
		// that the duplicate-row hazard is gone.
		flushDeferred(&next, e.TempID)

	case OptimisticUpdate:
		if t, ok := next.Tasks[e.ID]; ok {
			if e.Fields.Title != nil {
				t.Title = *e.Fields.Title
			}
			if e.Fields.IsComplete != nil {
				t.IsComplete = *e.Fields.IsComplete
			}
			next.Tasks[e.ID] = t
		}

	case UpdateConfirmed:
		if _, ok := next.Tasks[e.Task.ID]; ok {
			next.Tasks[e.Task.ID] = e.Task
		}

	case UpdateFailed:
		if _, ok := next.Tasks[e.ID]; ok {
			next.Tasks[e.ID] = e.Prev
		}

	case OptimisticDelete:
		delete(next.Tasks, e.ID)

	case DeleteFailed:
		tasks := make(map[string]gateway.Task, len(e.Snapshot))
		for _, t := range e.Snapshot {
			tasks[t.ID] = t
		}
		next.Tasks = tasks

	case Remote:
		applyRemote(&next, e.Event)
	}

	return next
}

// applyRemote upserts or deletes by id, deferring upserts that are the
// confirmed counterpart of a still-pending optimistic create.
func applyRemote(s *State, ev gateway.ChangeEvent) {
	switch ev.Kind {
	case gateway.ChangeInserted, gateway.ChangeUpdated:
		if _, tracked := s.Tasks[ev.Task.ID]; !tracked {
			if tempID, ok := matchPendingCreate(s, ev.Task, nil); ok {
				s.Deferred[tempID] = append(s.Deferred[tempID], ev.Task)
				return
			}
		}
		s.Tasks[ev.Task.ID] = ev.Task

	case gateway.ChangeDeleted:
		delete(s.Tasks, ev.Task.ID)
	}
}

// matchPendingCreate finds the pending optimistic create whose title
// matches an incoming row, meaning the row is most likely that create
// echoed back before its own response arrived. Entries in skip are
// already claimed by another row. Ties pick the lowest temporary id
// for determinism.
func matchPendingCreate(s *State, task gateway.Task, skip map[string]bool) (string, bool) {
	var match string
	for tempID, title := range s.Pending {
		if title != task.Title || skip[tempID] {
			continue
		}
		if match == "" || tempID < match {
			match = tempID
		}
	}
	return match, match != ""
}

// flushDeferred applies upserts that were held while tempID's create
// was in flight.
func flushDeferred(s *State, tempID string) {
	for _, t := range s.Deferred[tempID] {
		s.Tasks[t.ID] = t
	}
	delete(s.Deferred, tempID)
}
