package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/alexisbeaulieu97/reconciler/internal/change"
	"github.com/alexisbeaulieu97/reconciler/internal/model"
	"github.com/alexisbeaulieu97/reconciler/internal/tui"
)

type applyOptions struct {
	ChangeIDs   []string
	GeneratePR  bool
	DirectApply bool
	Reject      []string
	JSON        bool
}

var applyCmdRunner = runApply

func newApplyCmd(root *rootFlags) *cobra.Command {
	opts := applyOptions{}

	cmd := &cobra.Command{
		Use:   "apply <change-id>...",
		Short: "Apply changes reported by a plan-mode audit",
		Long: `Apply carries out the named changes. Each change goes through a review
pull request (--pr) when its connector can produce one, is applied directly
(--direct) when policy allows it, or is sent for approval when required.
Approvals are granted only through the signed approval callback of the
serve command; --reject vetoes a change locally.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ChangeIDs = args
			return applyCmdRunner(cmd.Context(), cmd.OutOrStdout(), root, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.GeneratePR, "pr", false, "Open a review pull request where possible")
	cmd.Flags().BoolVar(&opts.DirectApply, "direct", false, "Apply directly where policy permits")
	cmd.Flags().StringArrayVar(&opts.Reject, "reject", nil, "Record a rejection for a change id (repeatable)")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "Output results as JSON")

	return cmd
}

func runApply(ctx context.Context, out io.Writer, root *rootFlags, opts applyOptions) error {
	a, err := loadApp(root)
	if err != nil {
		return err
	}
	s, err := a.session(nil)
	if err != nil {
		return configError(err)
	}

	approvals := make(map[string]model.ApprovalStatus, len(opts.Reject))
	for _, id := range opts.Reject {
		approvals[id] = model.ApprovalRejected
	}

	results := s.changes.Apply(ctx, change.Request{
		ChangeIDs:   opts.ChangeIDs,
		GeneratePR:  opts.GeneratePR,
		DirectApply: opts.DirectApply,
		Approvals:   approvals,
	})
	if err := writeResults(out, results, opts.JSON); err != nil {
		return withCode(exitErrors, err)
	}
	for _, result := range results {
		if !result.Success {
			return withCode(exitDrift, nil)
		}
	}
	return nil
}

func writeResults(out io.Writer, results []model.ApplyResult, asJSON bool) error {
	if asJSON {
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(map[string]any{"results": results})
	}
	_, err := fmt.Fprintln(out, tui.RenderApplyResults(results))
	return err
}
