package main

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/alexisbeaulieu97/reconciler/internal/audit"
	"github.com/alexisbeaulieu97/reconciler/internal/model"
	"github.com/alexisbeaulieu97/reconciler/internal/tui"
)

type dashboardOptions struct {
	Scope          []string
	NonInteractive bool
}

var (
	dashboardCmdRunner = runDashboard
	isTerminal         = func() bool { return term.IsTerminal(int(os.Stdout.Fd())) }
)

func newDashboardCmd(root *rootFlags) *cobra.Command {
	opts := dashboardOptions{}

	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Watch an audit run connector by connector",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts.NonInteractive = !isTerminal()
			return dashboardCmdRunner(cmd.Context(), cmd.OutOrStdout(), root, opts)
		},
	}
	cmd.Flags().StringSliceVarP(&opts.Scope, "scope", "s", nil, `Connectors to audit (comma separated, default "all")`)

	return cmd
}

func runDashboard(ctx context.Context, out io.Writer, root *rootFlags, opts dashboardOptions) error {
	a, err := loadApp(root)
	if err != nil {
		return err
	}
	// connector list for the progress view; the audit below reloads documents
	s, err := a.session(nil)
	if err != nil {
		return configError(err)
	}
	selection, err := s.registry.Resolve(opts.Scope)
	if err != nil {
		return configError(err)
	}
	names := make([]string, 0, len(selection.Connectors))
	for _, c := range selection.Connectors {
		names = append(names, c.Name())
	}

	if opts.NonInteractive {
		report, err := s.audit.Run(ctx, audit.Request{Scope: opts.Scope})
		if err != nil {
			return configError(err)
		}
		if err := writeReport(out, report, false); err != nil {
			return withCode(exitErrors, err)
		}
		return withCode(report.Summary.ExitCode(), nil)
	}

	report, err := tui.RunDashboard(ctx, "audit", names, func(ctx context.Context, progress func(string, []model.CheckResult)) (*model.AuditReport, error) {
		live, err := a.session(progress)
		if err != nil {
			return nil, err
		}
		return live.audit.Run(ctx, audit.Request{Scope: opts.Scope})
	}, false)
	switch {
	case errors.Is(err, tui.ErrCancelled):
		return withCode(exitErrors, err)
	case err != nil:
		return configError(err)
	}
	return withCode(report.Summary.ExitCode(), nil)
}
