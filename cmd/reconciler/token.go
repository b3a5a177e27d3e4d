package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/alexisbeaulieu97/reconciler/internal/adminapi"
	reconerrors "github.com/alexisbeaulieu97/reconciler/pkg/errors"
)

type tokenOptions struct {
	Subject string
	Role    string
	TTL     time.Duration
}

func newTokenCmd(root *rootFlags) *cobra.Command {
	opts := tokenOptions{}

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the administrative API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runToken(cmd.OutOrStdout(), root, opts, time.Now())
		},
	}
	cmd.Flags().StringVar(&opts.Subject, "subject", "", "Token subject, used for rate limiting and logs")
	cmd.Flags().StringVar(&opts.Role, "role", adminapi.RoleAdmin, "Role claim (admin or owner)")
	cmd.Flags().DurationVar(&opts.TTL, "ttl", time.Hour, "Token lifetime")
	_ = cmd.MarkFlagRequired("subject")

	return cmd
}

func runToken(out io.Writer, root *rootFlags, opts tokenOptions, now time.Time) error {
	if opts.Role != adminapi.RoleAdmin && opts.Role != adminapi.RoleOwner {
		return configError(reconerrors.NewValidationError("role", "must be admin or owner", nil))
	}
	if opts.TTL <= 0 {
		return configError(reconerrors.NewValidationError("ttl", "must be positive", nil))
	}
	a, err := loadApp(root)
	if err != nil {
		return err
	}
	token, err := adminapi.IssueToken(a.settings.Server.JWTSecret, opts.Subject, opts.Role, opts.TTL, now)
	if err != nil {
		return configError(err)
	}
	_, err = fmt.Fprintln(out, token)
	return err
}
