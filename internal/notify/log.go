package notify

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// logNotifier appends notifications to a log file. Used by long-lived
// sessions (the TUI) where stderr is not visible.
type logNotifier struct {
	path string
	mu   sync.Mutex
	file *os.File
}

// NewLogNotifier creates a Notifier that appends to the file at path.
// The file is created lazily on first notification.
func NewLogNotifier(path string) Notifier {
	return &logNotifier{path: path}
}

// Notify appends one timestamped line to the log file.
func (c *logNotifier) Notify(n Notification) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureFile(); err != nil {
		return
	}

	// Format: 2026-01-16T10:30:00Z [ERROR] Message
	levelStr := strings.ToUpper(string(n.Level))
	line := fmt.Sprintf("%s [%s] %s\n", n.Timestamp.UTC().Format("2006-01-02T15:04:05Z"), levelStr, n.Message)

	if _, err := c.file.WriteString(line); err != nil {
		return
	}
	_ = c.file.Sync()
}

// ensureFile ensures the log file is open.
func (c *logNotifier) ensureFile() error {
	if c.file != nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return err
	}

	f, err := os.OpenFile(c.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	c.file = f
	return nil
}
