package views

import (
	"testing"
	"time"

	"taskflow/gateway"
)

func viewTask(id string, complete bool, offsetSec int) gateway.Task {
	created := time.Date(2026, 1, 16, 10, 0, 0, 0, time.UTC)
	updated := created.Add(time.Duration(offsetSec) * time.Second)
	return gateway.Task{ID: id, Title: id, IsComplete: complete, CreatedAt: &created, UpdatedAt: &updated}
}

func TestParseFilter(t *testing.T) {
	tests := []struct {
		input   string
		want    Filter
		wantErr bool
	}{
		{"all", FilterAll, false},
		{"active", FilterActive, false},
		{"completed", FilterCompleted, false},
		{"", FilterAll, false},
		{"done", "", true},
		{"Active", "", true},
	}

	for _, tt := range tests {
		got, err := ParseFilter(tt.input)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseFilter(%q): expected error", tt.input)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseFilter(%q) failed: %v", tt.input, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseFilter(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestFilterMatches(t *testing.T) {
	active := viewTask("a", false, 1)
	done := viewTask("d", true, 2)

	if !FilterAll.Matches(active) || !FilterAll.Matches(done) {
		t.Error("all filter must match everything")
	}
	if !FilterActive.Matches(active) || FilterActive.Matches(done) {
		t.Error("active filter mismatched")
	}
	if FilterCompleted.Matches(active) || !FilterCompleted.Matches(done) {
		t.Error("completed filter mismatched")
	}
}

func TestApplyFiltersAndSorts(t *testing.T) {
	tasks := []gateway.Task{
		viewTask("old-active", false, 1),
		viewTask("done", true, 2),
		viewTask("new-active", false, 3),
	}

	got := Apply(tasks, FilterActive)
	if len(got) != 2 {
		t.Fatalf("expected 2 active tasks, got %d", len(got))
	}
	if got[0].ID != "new-active" || got[1].ID != "old-active" {
		t.Errorf("wrong display order: %s, %s", got[0].ID, got[1].ID)
	}
}

func TestApplyDoesNotModifyInput(t *testing.T) {
	tasks := []gateway.Task{
		viewTask("a", false, 1),
		viewTask("b", false, 3),
		viewTask("c", false, 2),
	}

	_ = Apply(tasks, FilterAll)

	if tasks[0].ID != "a" || tasks[1].ID != "b" || tasks[2].ID != "c" {
		t.Errorf("input slice reordered: %s, %s, %s", tasks[0].ID, tasks[1].ID, tasks[2].ID)
	}
}

func TestCount(t *testing.T) {
	tasks := []gateway.Task{
		viewTask("a", false, 1),
		viewTask("b", true, 2),
		viewTask("c", true, 3),
	}

	c := Count(tasks)
	if c.Total != 3 || c.Active != 1 || c.Completed != 2 {
		t.Errorf("counts = %+v", c)
	}

	empty := Count(nil)
	if empty.Total != 0 || empty.Active != 0 || empty.Completed != 0 {
		t.Errorf("empty counts = %+v", empty)
	}
}
