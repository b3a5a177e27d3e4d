package main

import (
	"github.com/spf13/cobra"
)

const defaultConfigPath = "reconciler.toml"

type rootFlags struct {
	configPath string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:           "reconciler",
		Short:         "Reconciler audits external systems against a declared desired state",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return configError(err)
	})

	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", defaultConfigPath, "Path to the runtime configuration file")
	cmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "Enable debug logging")

	cmd.AddCommand(newAuditCmd(flags))
	cmd.AddCommand(newApplyCmd(flags))
	cmd.AddCommand(newValidateCmd(flags))
	cmd.AddCommand(newServeCmd(flags))
	cmd.AddCommand(newDashboardCmd(flags))
	cmd.AddCommand(newTokenCmd(flags))
	cmd.AddCommand(newVersionCmd())

	return cmd
}
