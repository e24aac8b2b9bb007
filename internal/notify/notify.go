// Package notify surfaces transient user-visible notifications, mainly
// gateway failures that rolled back an optimistic change. Notifications
// are advisory: emitting one must never fail the operation it reports.
package notify

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// Level classifies a notification.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notification is a single user-visible message.
type Notification struct {
	Level     Level
	Message   string
	Timestamp time.Time
}

// Notifier delivers notifications to the user.
type Notifier interface {
	Notify(n Notification)
}

// Errorf emits an error-level notification.
func Errorf(n Notifier, format string, args ...interface{}) {
	if n == nil {
		return
	}
	n.Notify(Notification{
		Level:     LevelError,
		Message:   fmt.Sprintf(format, args...),
		Timestamp: time.Now(),
	})
}

// Warnf emits a warning-level notification.
func Warnf(n Notifier, format string, args ...interface{}) {
	if n == nil {
		return
	}
	n.Notify(Notification{
		Level:     LevelWarning,
		Message:   fmt.Sprintf(format, args...),
		Timestamp: time.Now(),
	})
}

// Infof emits an info-level notification.
func Infof(n Notifier, format string, args ...interface{}) {
	if n == nil {
		return
	}
	n.Notify(Notification{
		Level:     LevelInfo,
		Message:   fmt.Sprintf(format, args...),
		Timestamp: time.Now(),
	})
}

// writerNotifier writes notifications as lines to an io.Writer,
// typically stderr for the CLI.
type writerNotifier struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterNotifier creates a Notifier that writes to w.
func NewWriterNotifier(w io.Writer) Notifier {
	return &writerNotifier{w: w}
}

// Notify writes one formatted line. Write errors are dropped.
func (n *writerNotifier) Notify(msg Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()

	var prefix string
	switch msg.Level {
	case LevelError:
		prefix = "Error: "
	case LevelWarning:
		prefix = "Warning: "
	}
	_, _ = fmt.Fprintf(n.w, "%s%s\n", prefix, msg.Message)
}

// Discard is a Notifier that drops everything.
var Discard Notifier = discard{}

type discard struct{}

func (discard) Notify(Notification) {}

// Multi fans a notification out to several notifiers.
func Multi(notifiers ...Notifier) Notifier {
	return multi(notifiers)
}

type multi []Notifier

func (m multi) Notify(n Notification) {
	for _, d := range m {
		if d != nil {
			d.Notify(n)
		}
	}
}

// Recorder captures notifications for tests and for transient in-UI
// display.
type Recorder struct {
	mu      sync.Mutex
	entries []Notification
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Notify records the notification.
func (r *Recorder) Notify(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, n)
}

// Entries returns a copy of everything recorded so far.
func (r *Recorder) Entries() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notification, len(r.entries))
	copy(out, r.entries)
	return out
}

// Last returns the most recent notification, or nil.
func (r *Recorder) Last() *Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.entries) == 0 {
		return nil
	}
	n := r.entries[len(r.entries)-1]
	return &n
}
