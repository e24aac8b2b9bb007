package tui

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/x/exp/teatest"

	"taskflow/gateway"
)

// fakeTasks implements Tasks with an in-memory list, mirroring how the
// engine applies optimistic changes and fires OnChange per transition.
type fakeTasks struct {
	mu       sync.Mutex
	tasks    []gateway.Task
	nextID   int
	failOps  error
	onChange func()
}

func newFakeTasks(tasks ...gateway.Task) *fakeTasks {
	return &fakeTasks{tasks: tasks, nextID: 100}
}

func (f *fakeTasks) fire() {
	f.mu.Lock()
	fn := f.onChange
	f.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (f *fakeTasks) Snapshot() []gateway.Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]gateway.Task, len(f.tasks))
	copy(out, f.tasks)
	return out
}

func (f *fakeTasks) Stale() bool { return false }

func (f *fakeTasks) Create(_ context.Context, title string) (*gateway.Task, error) {
	f.mu.Lock()
	if f.failOps != nil {
		err := f.failOps
		f.mu.Unlock()
		return nil, err
	}
	now := time.Now().UTC()
	task := gateway.Task{
		ID:        fmt.Sprintf("srv-%d", f.nextID),
		Title:     title,
		CreatedAt: &now,
		UpdatedAt: &now,
	}
	f.nextID++
	f.tasks = append(f.tasks, task)
	f.mu.Unlock()
	f.fire()
	return &task, nil
}

func (f *fakeTasks) Update(_ context.Context, id string, fields gateway.TaskFields) error {
	f.mu.Lock()
	if f.failOps != nil {
		err := f.failOps
		f.mu.Unlock()
		return err
	}
	for i := range f.tasks {
		if f.tasks[i].ID == id {
			if fields.Title != nil {
				f.tasks[i].Title = *fields.Title
			}
			if fields.IsComplete != nil {
				f.tasks[i].IsComplete = *fields.IsComplete
			}
		}
	}
	f.mu.Unlock()
	f.fire()
	return nil
}

func (f *fakeTasks) Toggle(ctx context.Context, id string) error {
	f.mu.Lock()
	var complete bool
	for i := range f.tasks {
		if f.tasks[i].ID == id {
			complete = !f.tasks[i].IsComplete
		}
	}
	f.mu.Unlock()
	return f.Update(ctx, id, gateway.TaskFields{IsComplete: &complete})
}

func (f *fakeTasks) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	if f.failOps != nil {
		err := f.failOps
		f.mu.Unlock()
		return err
	}
	kept := f.tasks[:0]
	for _, t := range f.tasks {
		if t.ID != id {
			kept = append(kept, t)
		}
	}
	f.tasks = kept
	f.mu.Unlock()
	f.fire()
	return nil
}

func (f *fakeTasks) OnChange(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onChange = fn
}

func tuiTask(id, title string, complete bool, offsetSec int) gateway.Task {
	created := time.Date(2026, 1, 16, 10, 0, 0, 0, time.UTC)
	updated := created.Add(time.Duration(offsetSec) * time.Second)
	return gateway.Task{ID: id, Title: title, IsComplete: complete, CreatedAt: &created, UpdatedAt: &updated}
}

// startTestTUI wires the model to a test program the same way Run does.
func startTestTUI(t *testing.T, ft *fakeTasks) *teatest.TestModel {
	t.Helper()
	m := New(ft, "test@example.com")
	tm := teatest.NewTestModel(t, m, teatest.WithInitialTermSize(80, 24))
	ft.OnChange(func() {
		tm.Send(stateChangedMsg{})
	})
	time.Sleep(50 * time.Millisecond)
	return tm
}

// sendKeyAndWait sends a key message and waits briefly for processing.
func sendKeyAndWait(tm *teatest.TestModel, key tea.KeyMsg) {
	tm.Send(key)
	time.Sleep(20 * time.Millisecond)
}

func sendRunesAndWait(tm *teatest.TestModel, runes []rune) {
	sendKeyAndWait(tm, tea.KeyMsg{Type: tea.KeyRunes, Runes: runes})
}

func readAll(t *testing.T, r io.Reader) []byte {
	t.Helper()
	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("failed to read output: %v", err)
	}
	return out
}

func TestTUIRendersTaskList(t *testing.T) {
	ft := newFakeTasks(
		tuiTask("t1", "Review PR", false, 1),
		tuiTask("t2", "Write tests", true, 2),
	)
	tm := startTestTUI(t, ft)

	sendRunesAndWait(tm, []rune{'q'})

	out := readAll(t, tm.FinalOutput(t, teatest.WithFinalTimeout(time.Second)))
	if !bytes.Contains(out, []byte("taskflow")) {
		t.Error("title bar missing")
	}
	if !bytes.Contains(out, []byte("test@example.com")) {
		t.Error("user email missing from title bar")
	}
	if !bytes.Contains(out, []byte("Review PR")) || !bytes.Contains(out, []byte("Write tests")) {
		t.Error("seeded tasks not rendered")
	}
	if !bytes.Contains(out, []byte("1 active, 1 completed")) {
		t.Error("status bar counts missing")
	}
}

func TestTUIEmptyState(t *testing.T) {
	tm := startTestTUI(t, newFakeTasks())

	sendRunesAndWait(tm, []rune{'q'})

	out := readAll(t, tm.FinalOutput(t, teatest.WithFinalTimeout(time.Second)))
	if !bytes.Contains(out, []byte("No tasks. Press 'a' to add one.")) {
		t.Error("empty state hint missing")
	}
}

func TestTUIAddTask(t *testing.T) {
	ft := newFakeTasks()
	tm := startTestTUI(t, ft)

	sendRunesAndWait(tm, []rune{'a'})
	for _, r := range "Buy milk" {
		tm.Send(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
	}
	sendKeyAndWait(tm, tea.KeyMsg{Type: tea.KeyEnter})

	teatest.WaitFor(t, tm.Output(), func(out []byte) bool {
		return bytes.Contains(out, []byte("Buy milk"))
	}, teatest.WithDuration(2*time.Second))

	sendRunesAndWait(tm, []rune{'q'})
	_ = readAll(t, tm.FinalOutput(t, teatest.WithFinalTimeout(time.Second)))

	if len(ft.Snapshot()) != 1 || ft.Snapshot()[0].Title != "Buy milk" {
		t.Errorf("task not created: %v", ft.Snapshot())
	}
}

func TestTUIAddCancelledWithEsc(t *testing.T) {
	ft := newFakeTasks()
	tm := startTestTUI(t, ft)

	sendRunesAndWait(tm, []rune{'a'})
	sendRunesAndWait(tm, []rune{'x'})
	sendKeyAndWait(tm, tea.KeyMsg{Type: tea.KeyEsc})
	sendRunesAndWait(tm, []rune{'q'})

	_ = readAll(t, tm.FinalOutput(t, teatest.WithFinalTimeout(time.Second)))
	if len(ft.Snapshot()) != 0 {
		t.Errorf("cancelled add still created a task: %v", ft.Snapshot())
	}
}

func TestTUIToggleTask(t *testing.T) {
	ft := newFakeTasks(tuiTask("t1", "Toggle me", false, 1))
	tm := startTestTUI(t, ft)

	sendRunesAndWait(tm, []rune{'c'})

	teatest.WaitFor(t, tm.Output(), func(out []byte) bool {
		return bytes.Contains(out, []byte("[✓]"))
	}, teatest.WithDuration(2*time.Second))

	sendRunesAndWait(tm, []rune{'q'})
	_ = readAll(t, tm.FinalOutput(t, teatest.WithFinalTimeout(time.Second)))

	if !ft.Snapshot()[0].IsComplete {
		t.Error("task not completed after toggle")
	}
}

func TestTUIEditTask(t *testing.T) {
	ft := newFakeTasks(tuiTask("t1", "Old", false, 1))
	tm := startTestTUI(t, ft)

	sendRunesAndWait(tm, []rune{'e'})
	for _, r := range " name" {
		tm.Send(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
	}
	sendKeyAndWait(tm, tea.KeyMsg{Type: tea.KeyEnter})

	teatest.WaitFor(t, tm.Output(), func(out []byte) bool {
		return bytes.Contains(out, []byte("Old name"))
	}, teatest.WithDuration(2*time.Second))

	sendRunesAndWait(tm, []rune{'q'})
	_ = readAll(t, tm.FinalOutput(t, teatest.WithFinalTimeout(time.Second)))

	if ft.Snapshot()[0].Title != "Old name" {
		t.Errorf("title = %q", ft.Snapshot()[0].Title)
	}
}

func TestTUIDeleteRequiresConfirmation(t *testing.T) {
	ft := newFakeTasks(tuiTask("t1", "Victim", false, 1))
	tm := startTestTUI(t, ft)

	// Decline first.
	sendRunesAndWait(tm, []rune{'d'})
	sendRunesAndWait(tm, []rune{'n'})
	if len(ft.Snapshot()) != 1 {
		t.Fatal("task deleted despite declining")
	}

	// Confirm.
	sendRunesAndWait(tm, []rune{'d'})
	sendRunesAndWait(tm, []rune{'y'})

	deadline := time.Now().Add(2 * time.Second)
	for len(ft.Snapshot()) != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if len(ft.Snapshot()) != 0 {
		t.Error("task not deleted after confirming")
	}

	sendRunesAndWait(tm, []rune{'q'})
	_ = readAll(t, tm.FinalOutput(t, teatest.WithFinalTimeout(time.Second)))
}

func TestTUIFilterCycle(t *testing.T) {
	ft := newFakeTasks(
		tuiTask("t1", "open item", false, 1),
		tuiTask("t2", "finished item", true, 2),
	)
	tm := startTestTUI(t, ft)

	// all -> active: completed rows disappear.
	sendRunesAndWait(tm, []rune{'f'})

	teatest.WaitFor(t, tm.Output(), func(out []byte) bool {
		return bytes.Contains(out, []byte("filter: active"))
	}, teatest.WithDuration(2*time.Second))

	sendRunesAndWait(tm, []rune{'q'})
	_ = readAll(t, tm.FinalOutput(t, teatest.WithFinalTimeout(time.Second)))
}

func TestTUIHelpDialog(t *testing.T) {
	tm := startTestTUI(t, newFakeTasks())

	sendRunesAndWait(tm, []rune{'?'})

	teatest.WaitFor(t, tm.Output(), func(out []byte) bool {
		return bytes.Contains(out, []byte("Key Bindings"))
	}, teatest.WithDuration(2*time.Second))

	sendKeyAndWait(tm, tea.KeyMsg{Type: tea.KeyEsc})
	sendRunesAndWait(tm, []rune{'q'})
	_ = readAll(t, tm.FinalOutput(t, teatest.WithFinalTimeout(time.Second)))
}

func TestTUIShowsOperationErrors(t *testing.T) {
	ft := newFakeTasks(tuiTask("t1", "stuck", false, 1))
	ft.failOps = fmt.Errorf("gateway update failed: status 503")
	tm := startTestTUI(t, ft)

	sendRunesAndWait(tm, []rune{'c'})

	teatest.WaitFor(t, tm.Output(), func(out []byte) bool {
		return bytes.Contains(out, []byte("error: gateway update failed"))
	}, teatest.WithDuration(2*time.Second))

	sendRunesAndWait(tm, []rune{'q'})
	_ = readAll(t, tm.FinalOutput(t, teatest.WithFinalTimeout(time.Second)))
}

func TestTUIPendingTaskMarked(t *testing.T) {
	ft := newFakeTasks(gateway.Task{ID: gateway.NewTempID(), Title: "in flight"})
	tm := startTestTUI(t, ft)

	sendRunesAndWait(tm, []rune{'q'})

	out := readAll(t, tm.FinalOutput(t, teatest.WithFinalTimeout(time.Second)))
	if !bytes.Contains(out, []byte("in flight …")) {
		t.Error("pending marker missing for temporary task")
	}
}

func TestTUIRemoteChangeRedraws(t *testing.T) {
	ft := newFakeTasks()
	tm := startTestTUI(t, ft)

	// Simulate a change arriving from another session.
	ft.mu.Lock()
	ft.tasks = append(ft.tasks, tuiTask("t9", "from elsewhere", false, 9))
	ft.mu.Unlock()
	ft.fire()

	teatest.WaitFor(t, tm.Output(), func(out []byte) bool {
		return bytes.Contains(out, []byte("from elsewhere"))
	}, teatest.WithDuration(2*time.Second))

	sendRunesAndWait(tm, []rune{'q'})
	_ = readAll(t, tm.FinalOutput(t, teatest.WithFinalTimeout(time.Second)))
}
