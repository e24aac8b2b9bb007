// Package tui provides a terminal user interface for the task list.
// The model never mutates task state itself: key presses dispatch
// intents to the sync engine, and every engine state transition is
// pushed back into the program as a redraw message. Optimistic entries
// therefore appear in the very next frame.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"taskflow/gateway"
	"taskflow/internal/views"
)

// Tasks is the engine surface the TUI consumes.
type Tasks interface {
	Snapshot() []gateway.Task
	Stale() bool
	Create(ctx context.Context, title string) (*gateway.Task, error)
	Update(ctx context.Context, id string, fields gateway.TaskFields) error
	Toggle(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	OnChange(fn func())
}

// Mode indicates the current input mode
type Mode int

const (
	ModeNormal Mode = iota
	ModeAdd
	ModeEdit
	ModeHelp
	ModeConfirmDelete
)

// Model represents the TUI state
type Model struct {
	engine    Tasks
	ctx       context.Context
	userEmail string

	// Data
	tasks  []gateway.Task
	filter views.Filter

	// Selection
	cursor int

	// Mode and input
	mode      Mode
	textInput textinput.Model
	editID    string

	// Last failed operation, shown in the status bar until the next
	// key press.
	lastErr string

	// UI dimensions
	width  int
	height int

	// Styles
	titleStyle     lipgloss.Style
	selectedStyle  lipgloss.Style
	completedStyle lipgloss.Style
	pendingStyle   lipgloss.Style
	helpStyle      lipgloss.Style
	dialogStyle    lipgloss.Style
	statusBarStyle lipgloss.Style
	errorStyle     lipgloss.Style
}

// Message types
type stateChangedMsg struct{}

type opDoneMsg struct {
	err error
}

// New creates a new TUI model bound to the engine.
func New(engine Tasks, userEmail string) *Model {
	ti := textinput.New()
	ti.Placeholder = "What needs to be done?"
	ti.CharLimit = gateway.MaxTitleLength

	return &Model{
		engine:    engine,
		ctx:       context.Background(),
		userEmail: userEmail,
		filter:    views.FilterAll,
		textInput: ti,
		mode:      ModeNormal,
		titleStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212")),
		selectedStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212")),
		completedStyle: lipgloss.NewStyle().
			Strikethrough(true).
			Foreground(lipgloss.Color("240")),
		pendingStyle: lipgloss.NewStyle().
			Italic(true).
			Foreground(lipgloss.Color("245")),
		helpStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")),
		dialogStyle: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(1, 2),
		statusBarStyle: lipgloss.NewStyle().
			Background(lipgloss.Color("236")).
			Foreground(lipgloss.Color("252")).
			Padding(0, 1),
		errorStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")),
	}
}

// Run starts the TUI program and blocks until the user quits.
func Run(engine Tasks, userEmail string) error {
	m := New(engine, userEmail)
	p := tea.NewProgram(m, tea.WithAltScreen())

	// Every engine transition, local or remote, triggers a redraw.
	engine.OnChange(func() {
		p.Send(stateChangedMsg{})
	})

	_, err := p.Run()
	return err
}

// Init initializes the TUI
func (m *Model) Init() tea.Cmd {
	m.reload()
	return nil
}

// reload re-derives the visible list from the engine snapshot.
func (m *Model) reload() {
	m.tasks = views.Apply(m.engine.Snapshot(), m.filter)
	if m.cursor >= len(m.tasks) {
		m.cursor = len(m.tasks) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

func (m *Model) selected() (gateway.Task, bool) {
	if len(m.tasks) == 0 || m.cursor >= len(m.tasks) {
		return gateway.Task{}, false
	}
	return m.tasks[m.cursor], true
}

func (m *Model) createTask(title string) tea.Cmd {
	return func() tea.Msg {
		_, err := m.engine.Create(m.ctx, title)
		return opDoneMsg{err}
	}
}

func (m *Model) renameTask(id, title string) tea.Cmd {
	return func() tea.Msg {
		err := m.engine.Update(m.ctx, id, gateway.TaskFields{Title: &title})
		return opDoneMsg{err}
	}
}

func (m *Model) toggleTask(id string) tea.Cmd {
	return func() tea.Msg {
		return opDoneMsg{m.engine.Toggle(m.ctx, id)}
	}
}

func (m *Model) deleteTask(id string) tea.Cmd {
	return func() tea.Msg {
		return opDoneMsg{m.engine.Delete(m.ctx, id)}
	}
}

// Update handles messages
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case stateChangedMsg:
		m.reload()
		return m, nil

	case opDoneMsg:
		if msg.err != nil {
			m.lastErr = msg.err.Error()
		}
		// State rollback, if any, already arrived via stateChangedMsg.
		return m, nil

	case tea.KeyMsg:
		m.lastErr = ""

		switch m.mode {
		case ModeAdd:
			return m.handleAddMode(msg)
		case ModeEdit:
			return m.handleEditMode(msg)
		case ModeHelp:
			return m.handleHelpMode(msg)
		case ModeConfirmDelete:
			return m.handleConfirmDeleteMode(msg)
		}

		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit

		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
			return m, nil

		case "down", "j":
			if m.cursor < len(m.tasks)-1 {
				m.cursor++
			}
			return m, nil

		case "a":
			m.mode = ModeAdd
			m.textInput.Reset()
			m.textInput.Placeholder = "What needs to be done?"
			m.textInput.Focus()
			return m, textinput.Blink

		case "e":
			if task, ok := m.selected(); ok {
				m.mode = ModeEdit
				m.editID = task.ID
				m.textInput.Reset()
				m.textInput.SetValue(task.Title)
				m.textInput.Focus()
				return m, textinput.Blink
			}
			return m, nil

		case "c", " ":
			if task, ok := m.selected(); ok {
				return m, m.toggleTask(task.ID)
			}
			return m, nil

		case "d":
			if _, ok := m.selected(); ok {
				m.mode = ModeConfirmDelete
			}
			return m, nil

		case "f":
			m.filter = nextFilter(m.filter)
			m.reload()
			return m, nil

		case "?":
			m.mode = ModeHelp
			return m, nil
		}
	}

	if m.mode == ModeAdd || m.mode == ModeEdit {
		m.textInput, cmd = m.textInput.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func nextFilter(f views.Filter) views.Filter {
	switch f {
	case views.FilterAll:
		return views.FilterActive
	case views.FilterActive:
		return views.FilterCompleted
	default:
		return views.FilterAll
	}
}

func (m *Model) handleAddMode(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg.Type {
	case tea.KeyEnter:
		value := m.textInput.Value()
		m.mode = ModeNormal
		if strings.TrimSpace(value) != "" {
			return m, m.createTask(value)
		}
		return m, nil

	case tea.KeyEsc:
		m.mode = ModeNormal
		return m, nil
	}

	m.textInput, cmd = m.textInput.Update(msg)
	return m, cmd
}

func (m *Model) handleEditMode(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg.Type {
	case tea.KeyEnter:
		value := m.textInput.Value()
		id := m.editID
		m.mode = ModeNormal
		m.editID = ""
		if strings.TrimSpace(value) != "" && id != "" {
			return m, m.renameTask(id, value)
		}
		return m, nil

	case tea.KeyEsc:
		m.mode = ModeNormal
		m.editID = ""
		return m, nil
	}

	m.textInput, cmd = m.textInput.Update(msg)
	return m, cmd
}

func (m *Model) handleHelpMode(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc, tea.KeyEnter:
		m.mode = ModeNormal
		return m, nil
	}
	if msg.String() == "q" {
		m.mode = ModeNormal
	}
	return m, nil
}

func (m *Model) handleConfirmDeleteMode(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "y", "Y":
		m.mode = ModeNormal
		if task, ok := m.selected(); ok {
			return m, m.deleteTask(task.ID)
		}
		return m, nil

	case "n", "N":
		m.mode = ModeNormal
		return m, nil
	}

	if msg.Type == tea.KeyEsc {
		m.mode = ModeNormal
	}
	return m, nil
}

// View renders the TUI
func (m *Model) View() string {
	if m.width == 0 || m.height == 0 {
		m.width = 80
		m.height = 24
	}

	switch m.mode {
	case ModeAdd:
		return m.centerDialog(m.dialogStyle.Render(
			"Add Task\n\n" +
				m.textInput.View() + "\n\n" +
				m.helpStyle.Render("Enter: confirm  Esc: cancel"),
		))
	case ModeEdit:
		return m.centerDialog(m.dialogStyle.Render(
			"Edit Task\n\n" +
				m.textInput.View() + "\n\n" +
				m.helpStyle.Render("Enter: confirm  Esc: cancel"),
		))
	case ModeHelp:
		return m.centerDialog(m.dialogStyle.Render(helpText))
	case ModeConfirmDelete:
		return m.centerDialog(m.dialogStyle.Render(
			"Delete selected task?\n\n" +
				m.helpStyle.Render("y: yes  n: no"),
		))
	}

	var b strings.Builder

	title := "taskflow"
	if m.userEmail != "" {
		title += "  " + m.userEmail
	}
	if m.engine.Stale() {
		title += "  (cached)"
	}
	b.WriteString(m.titleStyle.Render(title))
	b.WriteString("\n")
	b.WriteString(strings.Repeat("─", m.width))
	b.WriteString("\n")

	if len(m.tasks) == 0 {
		b.WriteString("No tasks. Press 'a' to add one.\n")
	}

	for i, task := range m.tasks {
		cursor := " "
		if i == m.cursor {
			cursor = ">"
		}

		box := "[ ]"
		if task.IsComplete {
			box = "[✓]"
		}

		title := task.Title
		switch {
		case task.IsTemporary():
			title = m.pendingStyle.Render(title + " …")
		case task.IsComplete:
			title = m.completedStyle.Render(title)
		case i == m.cursor:
			title = m.selectedStyle.Render(title)
		}

		b.WriteString(cursor + " " + box + " " + title + "\n")
	}

	b.WriteString("\n")
	b.WriteString(m.renderStatusBar())

	return b.String()
}

const helpText = `Help - Key Bindings

Navigation:
  j/↓    Move down
  k/↑    Move up

Actions:
  a      Add new task
  e      Edit selected task
  c/space Toggle task completion
  d      Delete task (with confirm)
  f      Cycle filter (all/active/completed)

General:
  ?      Show this help
  q      Quit

Press Enter or Esc to close`

func (m *Model) renderStatusBar() string {
	counts := views.Count(m.engine.Snapshot())
	left := fmt.Sprintf("filter: %s  %d active, %d completed", m.filter, counts.Active, counts.Completed)
	if m.lastErr != "" {
		left = m.errorStyle.Render("error: " + m.lastErr)
	}

	right := "a:add  c:toggle  d:delete  f:filter  q:quit"

	padding := m.width - lipgloss.Width(left) - lipgloss.Width(right) - 2
	if padding < 1 {
		padding = 1
	}

	return m.statusBarStyle.Width(m.width).Render(left + strings.Repeat(" ", padding) + right)
}

func (m *Model) centerDialog(dialog string) string {
	lines := strings.Split(dialog, "\n")
	dialogHeight := len(lines)
	dialogWidth := 0
	for _, line := range lines {
		if w := lipgloss.Width(line); w > dialogWidth {
			dialogWidth = w
		}
	}

	topPad := (m.height - dialogHeight) / 2
	leftPad := (m.width - dialogWidth) / 2
	if topPad < 0 {
		topPad = 0
	}
	if leftPad < 0 {
		leftPad = 0
	}

	var b strings.Builder
	for i := 0; i < topPad; i++ {
		b.WriteString("\n")
	}
	for _, line := range lines {
		b.WriteString(strings.Repeat(" ", leftPad))
		b.WriteString(line)
		b.WriteString("\n")
	}

	return b.String()
}
