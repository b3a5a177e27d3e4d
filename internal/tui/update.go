package tui

import (
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/alexisbeaulieu97/reconciler/internal/tui/components"
)

// Update handles Bubbletea messages and updates model state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case spinner.TickMsg:
		if m.finished {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case ConnectorDoneMsg:
		m.ensure(msg.Name)
		m.entries[msg.Name] = components.ConnectorEntry{Name: msg.Name, Done: true, Checks: msg.Checks}
		return m, nil
	case AuditDoneMsg:
		m.finished = true
		m.report = msg.Report
		m.err = msg.Err
		if msg.Report != nil {
			// the report carries policy-adjusted checks; prefer them over progress snapshots
			for _, name := range msg.Report.Scope {
				m.ensure(name)
				m.entries[name] = components.ConnectorEntry{Name: name, Done: true, Checks: msg.Report.ByScope(name)}
			}
		}
		if m.quitOnDone {
			return m, tea.Quit
		}
		return m, nil
	case tea.KeyMsg:
		switch {
		case msg.Type == tea.KeyCtrlC:
			if !m.finished {
				m.cancelled = true
				m.finished = true
			}
			return m, tea.Quit
		case m.finished && (msg.String() == "q" || msg.Type == tea.KeyEsc || msg.Type == tea.KeyEnter):
			return m, tea.Quit
		}
	}
	return m, nil
}
