// Package views derives the displayed task list from the reconciled
// state: a pure filter over completion status plus the display sort.
package views

import (
	"fmt"

	"taskflow/gateway"
)

// Filter selects tasks by completion status.
type Filter string

const (
	FilterAll       Filter = "all"
	FilterActive    Filter = "active"
	FilterCompleted Filter = "completed"
)

// ParseFilter validates a filter name.
func ParseFilter(s string) (Filter, error) {
	switch Filter(s) {
	case FilterAll, FilterActive, FilterCompleted:
		return Filter(s), nil
	case "":
		return FilterAll, nil
	default:
		return "", fmt.Errorf("unknown filter: %q (must be 'all', 'active' or 'completed')", s)
	}
}

// Matches reports whether a task passes the filter.
func (f Filter) Matches(t gateway.Task) bool {
	switch f {
	case FilterActive:
		return !t.IsComplete
	case FilterCompleted:
		return t.IsComplete
	default:
		return true
	}
}

// Apply returns the filtered tasks in display order. The input slice is
// not modified.
func Apply(tasks []gateway.Task, f Filter) []gateway.Task {
	result := make([]gateway.Task, 0, len(tasks))
	for _, t := range tasks {
		if f.Matches(t) {
			result = append(result, t)
		}
	}
	gateway.SortTasks(result)
	return result
}

// Counts summarizes a task list for status lines.
type Counts struct {
	Total     int
	Active    int
	Completed int
}

// Count tallies tasks by completion status.
func Count(tasks []gateway.Task) Counts {
	c := Counts{Total: len(tasks)}
	for _, t := range tasks {
		if t.IsComplete {
			c.Completed++
		} else {
			c.Active++
		}
	}
	return c
}
