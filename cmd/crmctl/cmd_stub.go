package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/vopex/crmkit/internal/logging"
	"github.com/vopex/crmkit/internal/stubapi"
	"github.com/vopex/crmkit/seal"
)

var devFlags = []stubapi.Flag{
	{Key: "new_dashboard", Status: "ENABLED"},
	{Key: "advanced_analytics", Status: "PARTIAL", RolloutPercentage: 50},
	{Key: "ai_predictions", Status: "PARTIAL", EnabledForRoles: []string{"admin"}},
}

func newStubCmd() *cobra.Command {
	var (
		addr     string
		users    []string
		env      string
		logLevel string
	)
	cmd := &cobra.Command{
		Use:   "stub",
		Short: "Serve an in-memory CRM backend for local development",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := logging.WithScope(
				logging.New(cmd.ErrOrStderr(), logging.FormatConsole, logging.ParseLevel(logLevel)), "stub")
			srv := stubapi.New(stubapi.Config{Environment: env, Flags: devFlags, Logger: logger})
			for _, u := range users {
				email, password, ok := strings.Cut(u, ":")
				if !ok {
					return fmt.Errorf("stub: --user %q must be email:password", u)
				}
				if err := srv.AddUser(email, password, "", "", "admin"); err != nil {
					return err
				}
			}

			logger.Info().Str("addr", addr).Int("users", len(users)).Msg("stub api listening")
			err := srv.Listen(cmd.Context(), addr)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringArrayVar(&users, "user", nil, "seed an admin account as email:password (repeatable)")
	cmd.Flags().StringVar(&env, "environment", "development", "environment reported by /system/health")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level")
	return standalone(cmd)
}

func newKeygenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Print a random CRM_STORAGE_KEY",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := seal.GenerateKey()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), key)
			return err
		},
	}
	return standalone(cmd)
}
