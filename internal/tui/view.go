package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/alexisbeaulieu97/reconciler/internal/tui/components"
)

// View renders the current state of the model.
func (m Model) View() string {
	heading := "Reconciler • " + m.heading()
	if !m.finished {
		heading = m.spinner.View() + " " + heading
	}
	sections := []string{titleStyle.Render(heading)}

	list := components.NewConnectorList(m.order, m.entries)
	sections = append(sections, sectionStyle.Render("Progress"), components.NewProgress(len(m.order)).View(list.Done()))

	if entries := list.Entries(); len(entries) > 0 {
		sections = append(sections, sectionStyle.Render("Connectors"), m.renderEntries(entries))
	}

	data := components.SummaryData{Finished: m.finished, Cancelled: m.cancelled, Err: m.err}
	if m.report != nil {
		data.Summary = m.report.Summary
	}
	if summary := components.NewSummary(data).View(); strings.TrimSpace(summary) != "" {
		sections = append(sections, sectionStyle.Render("Summary"), summary)
	}
	if m.finished && !m.quitOnDone {
		sections = append(sections, hintStyle.Render("press q to quit"))
	}
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) renderEntries(entries []components.ConnectorEntry) string {
	lines := make([]string, 0, len(entries))
	for _, entry := range entries {
		icon := StatusIcon(entry.Status())
		if !entry.Done && !m.finished {
			icon = m.spinner.View()
		}
		line := fmt.Sprintf(" %s %s", icon, entry.Name)
		if entry.Done {
			c := entry.Counts()
			line += mutedStyle.Render(fmt.Sprintf("  %d checks (%d failed, %d warnings, %d errors)", c.Total, c.Failed, c.Warnings, c.Errors))
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func (m Model) heading() string {
	if strings.TrimSpace(m.title) != "" {
		return m.title
	}
	return "Audit"
}
