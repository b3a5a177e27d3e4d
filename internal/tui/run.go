package tui

import (
	"context"
	"errors"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/alexisbeaulieu97/reconciler/internal/model"
)

// ErrCancelled is returned when the user interrupts the dashboard.
var ErrCancelled = errors.New("audit cancelled by user")

// AuditFunc runs an audit, reporting each settled connector through progress.
type AuditFunc func(ctx context.Context, progress func(name string, checks []model.CheckResult)) (*model.AuditReport, error)

// RunDashboard drives audit inside a Bubbletea program and returns its report.
func RunDashboard(ctx context.Context, title string, connectors []string, audit AuditFunc, quitOnDone bool, opts ...tea.ProgramOption) (*model.AuditReport, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	program := tea.NewProgram(NewModel(title, connectors, quitOnDone), append(opts, tea.WithContext(ctx))...)
	go func() {
		report, err := audit(ctx, func(name string, checks []model.CheckResult) {
			program.Send(ConnectorDoneMsg{Name: name, Checks: checks})
		})
		program.Send(AuditDoneMsg{Report: report, Err: err})
	}()

	final, err := program.Run()
	if errors.Is(err, tea.ErrProgramKilled) {
		return nil, ErrCancelled
	}
	if err != nil {
		return nil, err
	}
	m, ok := final.(Model)
	if !ok {
		return nil, errors.New("dashboard returned an unexpected model")
	}
	if m.Cancelled() {
		return nil, ErrCancelled
	}
	if m.Err() != nil {
		return nil, m.Err()
	}
	return m.Report(), nil
}
