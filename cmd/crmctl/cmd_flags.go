package main

import (
	"github.com/spf13/cobra"
	"github.com/vopex/crmkit/featureflag"
)

func newFlagsCmd(get func() *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flags",
		Short: "Sync and evaluate feature flags",
	}

	sync := &cobra.Command{
		Use:   "sync",
		Short: "Fetch flags, falling back to the last persisted set",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := get()
			if err := a.flags.Sync(cmd.Context()); err != nil {
				return err
			}
			return a.print(a.flags.Flags())
		},
	}

	var override featureflag.UserContext
	check := &cobra.Command{
		Use:   "check KEY",
		Short: "Evaluate KEY for the signed-in user or the given context",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			if err := a.flags.Sync(cmd.Context()); err != nil {
				a.logger.Warn().Err(err).Msg("evaluating without synced flags")
			}
			uc := a.userContext(cmd)
			if override.ID != "" || override.Email != "" || len(override.Roles) > 0 {
				uc = override
			}
			flag, known := a.flags.Details(args[0])
			return a.print(map[string]any{
				"key":     args[0],
				"known":   known,
				"status":  flag.Status,
				"enabled": a.flags.IsEnabled(args[0], &uc),
			})
		},
	}
	check.Flags().StringVar(&override.ID, "user-id", "", "evaluate for this user id")
	check.Flags().StringVar(&override.Email, "email", "", "evaluate for this email")
	check.Flags().StringSliceVar(&override.Roles, "role", nil, "evaluate for these roles")

	cmd.AddCommand(sync, check)
	return cmd
}
