package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/alexisbeaulieu97/reconciler/internal/model"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	sectionStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")).MarginTop(1)
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	diffStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("250")).PaddingLeft(6)
	hintStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).MarginTop(1)

	passStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("201")).Bold(true)
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	runningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("33"))
)

// categoryStyles tint the category tag so a check that could not run never
// reads like a clean one.
var categoryStyles = map[model.Category]lipgloss.Style{
	model.CategoryCompliant:     passStyle,
	model.CategoryAbsent:        failStyle,
	model.CategoryDrift:         warningStyle,
	model.CategoryPartial:       warningStyle.Italic(true),
	model.CategoryTransport:     errorStyle,
	model.CategoryConfiguration: errorStyle.Underline(true),
	model.CategoryCancelled:     mutedStyle.Bold(true),
	model.CategoryInternal:      errorStyle.Reverse(true),
}

func categoryTag(category model.Category) string {
	style, ok := categoryStyles[category]
	if !ok {
		style = mutedStyle
	}
	return style.Render("[" + string(category) + "]")
}

// StatusIcon returns the glyph for a check status. An empty status means the
// connector is still running.
func StatusIcon(status model.Status) string {
	switch status {
	case model.StatusPass:
		return passStyle.Render("✓")
	case model.StatusFail:
		return failStyle.Render("✗")
	case model.StatusWarning:
		return warningStyle.Render("!")
	case model.StatusError:
		return errorStyle.Render("⚠")
	default:
		return pendingStyle.Render("…")
	}
}
