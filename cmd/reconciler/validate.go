package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/alexisbeaulieu97/reconciler/internal/connectors"
	"github.com/alexisbeaulieu97/reconciler/internal/desired"
)

var validateCmdRunner = runValidate

func newValidateCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the runtime config, desired state and policy without contacting any system",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return validateCmdRunner(cmd.OutOrStdout(), root)
		},
	}
}

func runValidate(out io.Writer, root *rootFlags) error {
	a, err := loadApp(root)
	if err != nil {
		return err
	}
	state, policy, err := a.loadDocuments()
	if err != nil {
		return configError(err)
	}

	present := connectors.Presence(a.settings)
	fmt.Fprintf(out, "state %s: version %s\n", a.path(a.settings.StatePath), state.Version)
	fmt.Fprintf(out, "policy: version %s, %d rules\n", policy.Version, len(policy.Rules))
	for _, system := range desired.Systems {
		status := "no credentials"
		if present[system] {
			status = "credentials present"
		}
		fmt.Fprintf(out, "  %-9s %s\n", system, status)
	}
	fmt.Fprintln(out, "configuration is valid")
	return nil
}
