package gateway

import (
	"context"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// MaxTitleLength is the upper bound on task titles in characters,
// matching the server-side column constraint.
const MaxTitleLength = 200

// TempIDPrefix tags client-generated placeholder ids so they are
// recognizably provisional until the server confirms the creation.
const TempIDPrefix = "tmp-"

// Task represents a single todo item owned by one user.
type Task struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	IsComplete bool       `json:"is_complete"`
	CreatedAt  *time.Time `json:"created_at,omitempty"`
	UpdatedAt  *time.Time `json:"updated_at,omitempty"`
	UserID     string     `json:"user_id,omitempty"`
}

// IsTemporary reports whether the task still carries a client-generated
// placeholder id.
func (t Task) IsTemporary() bool {
	return strings.HasPrefix(t.ID, TempIDPrefix)
}

// SortKey returns the timestamp used for display ordering: UpdatedAt if
// present, otherwise CreatedAt, otherwise the zero time.
func (t Task) SortKey() time.Time {
	if t.UpdatedAt != nil {
		return *t.UpdatedAt
	}
	if t.CreatedAt != nil {
		return *t.CreatedAt
	}
	return time.Time{}
}

// TaskFields holds the partial fields accepted by Update. Nil fields
// are left untouched on the server.
type TaskFields struct {
	Title      *string `json:"title,omitempty"`
	IsComplete *bool   `json:"is_complete,omitempty"`
}

// ChangeKind identifies the type of a change-feed event.
type ChangeKind string

const (
	ChangeInserted ChangeKind = "inserted"
	ChangeUpdated  ChangeKind = "updated"
	ChangeDeleted  ChangeKind = "deleted"
)

// ChangeEvent is a single change-feed notification for one row.
// Delivery is at-least-once and order is not guaranteed; consumers must
// apply events idempotently.
type ChangeEvent struct {
	Kind ChangeKind
	Task Task
}

// TaskGateway is the remote store for a user's tasks. Every operation
// is scoped to the caller's own rows; the server enforces row-level
// authorization independently of the userID filters passed here.
type TaskGateway interface {
	// FetchAll returns the user's current rows, newest first.
	FetchAll(ctx context.Context, userID string) ([]Task, error)

	// Create inserts a new task with the given title. The title must
	// already be validated; remote rejection yields a GatewayError.
	Create(ctx context.Context, userID, title string) (*Task, error)

	// Update applies partial fields to one task. A missing or
	// foreign-owned row yields a NotFoundError.
	Update(ctx context.Context, userID, id string, fields TaskFields) (*Task, error)

	// Remove deletes one task. Removing an already-absent row is not
	// an error.
	Remove(ctx context.Context, userID, id string) error

	// Subscribe registers for the user's change feed and returns a
	// cancel function. Cancel is synchronous and idempotent.
	Subscribe(ctx context.Context, userID string, onEvent func(ChangeEvent)) (func(), error)

	// Close releases any connections held by the gateway.
	Close() error
}

// ValidateTitle trims the title and checks the non-empty and length
// bounds. It returns the trimmed title or a ValidationError. This runs
// before any network call.
func ValidateTitle(title string) (string, error) {
	trimmed := strings.TrimSpace(title)
	if trimmed == "" {
		return "", &ValidationError{Field: "title", Reason: "task title cannot be empty"}
	}
	if utf8.RuneCountInString(trimmed) > MaxTitleLength {
		return "", &ValidationError{Field: "title", Reason: "task title is too long"}
	}
	return trimmed, nil
}

// NewTempID generates a fresh temporary task id.
func NewTempID() string {
	return TempIDPrefix + uuid.New().String()
}

// SortTasks orders tasks for display: sort key descending, stable ties.
func SortTasks(tasks []Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		return tasks[i].SortKey().After(tasks[j].SortKey())
	})
}
