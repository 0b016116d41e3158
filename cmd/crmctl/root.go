package main

import (
	"context"
	"io"

	"github.com/spf13/cobra"
	"github.com/vopex/crmkit/config"
)

// run executes one crmctl invocation and releases the storage backend
// whether or not the command failed.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var a *app
	defer func() {
		if a != nil {
			a.close()
		}
	}()

	root := newRootCmd(func() *app { return a }, func(cmd *cobra.Command) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		a, err = newApp(cmd.Context(), cfg, cmd.OutOrStdout(), cmd.ErrOrStderr())
		return err
	})
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	return root.ExecuteContext(ctx)
}

func newRootCmd(get func() *app, setup func(*cobra.Command) error) *cobra.Command {
	root := &cobra.Command{
		Use:           "crmctl",
		Short:         "Work with the CRM API and the local encrypted cache",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations["standalone"] == "true" {
				return nil
			}
			return setup(cmd)
		},
	}
	root.AddCommand(
		newCacheCmd(get),
		newLoginCmd(get),
		newLogoutCmd(get),
		newWhoamiCmd(get),
		newLeadsCmd(get),
		newFlagsCmd(get),
		newHealthCmd(get),
		newStubCmd(),
		newKeygenCmd(),
	)
	return root
}

// standalone marks commands that run without config or a storage backend.
func standalone(cmd *cobra.Command) *cobra.Command {
	if cmd.Annotations == nil {
		cmd.Annotations = map[string]string{}
	}
	cmd.Annotations["standalone"] = "true"
	return cmd
}
