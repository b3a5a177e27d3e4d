package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/alexisbeaulieu97/reconciler/internal/audit"
	"github.com/alexisbeaulieu97/reconciler/internal/model"
	"github.com/alexisbeaulieu97/reconciler/internal/tui"
)

type auditOptions struct {
	Scope []string
	Mode  string
	JSON  bool
}

var auditCmdRunner = runAudit

func newAuditCmd(root *rootFlags) *cobra.Command {
	opts := auditOptions{}

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Compare live systems with the desired state without changing anything",
		Long: `Audit checks every selected connector against the desired state.
Exit code 0 means everything matches, 1 means drift was found,
2 means the configuration is invalid and 3 means some checks could not run.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return auditCmdRunner(cmd.Context(), cmd.OutOrStdout(), root, opts)
		},
	}

	cmd.Flags().StringSliceVarP(&opts.Scope, "scope", "s", nil, `Connectors to audit (comma separated, default "all")`)
	cmd.Flags().StringVarP(&opts.Mode, "mode", "m", string(model.ModeCheck), "Report mode: check or plan")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "Output the report as JSON")

	return cmd
}

func runAudit(ctx context.Context, out io.Writer, root *rootFlags, opts auditOptions) error {
	a, err := loadApp(root)
	if err != nil {
		return err
	}
	s, err := a.session(nil)
	if err != nil {
		return configError(err)
	}

	report, err := s.audit.Run(ctx, audit.Request{Scope: opts.Scope, Mode: model.Mode(opts.Mode)})
	if err != nil {
		return configError(err)
	}
	if err := writeReport(out, report, opts.JSON); err != nil {
		return withCode(exitErrors, err)
	}
	return withCode(report.Summary.ExitCode(), nil)
}

func writeReport(out io.Writer, report *model.AuditReport, asJSON bool) error {
	if asJSON {
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(report)
	}
	_, err := fmt.Fprintln(out, tui.RenderReport(report))
	return err
}
