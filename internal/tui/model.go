package tui

import (
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/alexisbeaulieu97/reconciler/internal/model"
	"github.com/alexisbeaulieu97/reconciler/internal/tui/components"
)

// ConnectorDoneMsg reports that one connector settled.
type ConnectorDoneMsg struct {
	Name   string
	Checks []model.CheckResult
}

// AuditDoneMsg carries the final report or the error that prevented one.
type AuditDoneMsg struct {
	Report *model.AuditReport
	Err    error
}

// Model is the Bubbletea state of the audit dashboard.
type Model struct {
	title      string
	order      []string
	entries    map[string]components.ConnectorEntry
	spinner    spinner.Model
	report     *model.AuditReport
	err        error
	finished   bool
	cancelled  bool
	quitOnDone bool
}

// NewModel builds a dashboard for connectors. With quitOnDone the program
// exits as soon as the audit finishes instead of waiting for a key press.
func NewModel(title string, connectors []string, quitOnDone bool) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = runningStyle

	m := Model{
		title:      title,
		entries:    make(map[string]components.ConnectorEntry, len(connectors)),
		spinner:    s,
		quitOnDone: quitOnDone,
	}
	for _, name := range connectors {
		m.ensure(name)
	}
	return m
}

// Init starts the spinner.
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Report returns the final report once the audit finished.
func (m Model) Report() *model.AuditReport {
	return m.report
}

// Err returns the audit error, if any.
func (m Model) Err() error {
	return m.err
}

// IsFinished reports whether the audit has completed or was cancelled.
func (m Model) IsFinished() bool {
	return m.finished
}

// Cancelled reports whether the user interrupted the audit.
func (m Model) Cancelled() bool {
	return m.cancelled
}

func (m *Model) ensure(name string) {
	if name == "" {
		return
	}
	if _, exists := m.entries[name]; !exists {
		m.entries[name] = components.ConnectorEntry{Name: name}
		m.order = append(m.order, name)
	}
}
