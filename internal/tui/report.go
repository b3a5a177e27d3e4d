package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/alexisbeaulieu97/reconciler/internal/model"
	"github.com/alexisbeaulieu97/reconciler/internal/tui/components"
)

// RenderReport formats an audit report for a terminal, grouped by scope.
func RenderReport(report *model.AuditReport) string {
	if report == nil {
		return ""
	}
	header := fmt.Sprintf("Audit %s • %s • %s", report.ID, report.Mode, report.Timestamp.UTC().Format(time.RFC3339))
	sections := []string{titleStyle.Render(header)}

	var scope string
	var lines []string
	flush := func() {
		if scope != "" {
			sections = append(sections, sectionStyle.Render(scope), strings.Join(lines, "\n"))
		}
		lines = nil
	}
	for _, check := range report.Checks {
		if check.Scope != scope {
			flush()
			scope = check.Scope
		}
		lines = append(lines, renderCheck(check)...)
	}
	flush()

	if len(report.Changes) > 0 {
		sections = append(sections, sectionStyle.Render("Planned changes"), renderChanges(report.Changes))
	}

	sections = append(sections, sectionStyle.Render("Summary"), components.NewSummary(components.SummaryData{
		Summary:  report.Summary,
		Finished: true,
	}).View())
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func renderCheck(check model.CheckResult) []string {
	line := fmt.Sprintf(" %s %s %s", StatusIcon(check.Status), check.ID, categoryTag(check.Category))
	if msg := strings.TrimSpace(check.Message); msg != "" {
		line += ": " + msg
	}
	lines := []string{line}
	if check.Diff != "" {
		lines = append(lines, diffStyle.Render(strings.TrimRight(check.Diff, "\n")))
	}
	if check.SuggestedAction != "" {
		lines = append(lines, mutedStyle.Render("    → "+check.SuggestedAction))
	}
	if check.ChangeID != "" {
		detail := fmt.Sprintf("    change %s (risk %s", check.ChangeID, check.Risk)
		if check.RequiresApproval {
			detail += ", approval required"
		}
		lines = append(lines, mutedStyle.Render(detail+")"))
	}
	return lines
}

func renderChanges(changes []model.Change) string {
	var lines []string
	for _, change := range changes {
		line := fmt.Sprintf(" • %s [%s]", change.ID, change.Risk)
		if change.ApprovalStatus != "" {
			line += " approval " + string(change.ApprovalStatus)
		}
		lines = append(lines, line)
		for _, action := range change.Actions {
			target := action.Description
			if action.Path != "" {
				target += " (" + action.Path + ")"
			}
			lines = append(lines, mutedStyle.Render(fmt.Sprintf("     %s: %s", action.Type, target)))
		}
	}
	return strings.Join(lines, "\n")
}

// RenderApplyResults formats apply outcomes, one block per change.
func RenderApplyResults(results []model.ApplyResult) string {
	var lines []string
	for _, result := range results {
		icon := StatusIcon(model.StatusPass)
		if !result.Success {
			icon = StatusIcon(model.StatusFail)
			if result.Path == model.PathApproval && result.Error == "" {
				icon = StatusIcon(model.StatusWarning)
			}
		}
		line := fmt.Sprintf(" %s %s via %s: %s", icon, result.ChangeID, result.Path, result.Message)
		lines = append(lines, line)
		if result.PRURL != "" {
			lines = append(lines, mutedStyle.Render("    pull request "+result.PRURL))
		}
		if result.Error != "" {
			lines = append(lines, mutedStyle.Render("    error: "+result.Error))
		}
		if result.FailedStep != "" {
			lines = append(lines, mutedStyle.Render("    failed step: "+result.FailedStep))
		}
		for _, left := range result.LeftBehind {
			lines = append(lines, warningStyle.Render("    left behind: "+left))
		}
	}
	return strings.Join(lines, "\n")
}
