package main

import (
	"errors"
	"os"

	"github.com/spf13/cobra"
	"github.com/vopex/crmkit/auth"
	"github.com/vopex/crmkit/featureflag"
)

func newLoginCmd(get func() *app) *cobra.Command {
	var creds auth.Credentials
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and keep the session in encrypted storage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if creds.Password == "" {
				creds.Password = os.Getenv("CRM_PASSWORD")
			}
			if creds.Email == "" || creds.Password == "" {
				return errors.New("login: --email and --password (or CRM_PASSWORD) are required")
			}
			a := get()
			resp, err := a.auth.Login(cmd.Context(), creds)
			if err != nil {
				return err
			}
			return a.print(resp.User)
		},
	}
	cmd.Flags().StringVar(&creds.Email, "email", "", "account email")
	cmd.Flags().StringVar(&creds.Password, "password", "", "account password")
	return cmd
}

func newLogoutCmd(get func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return get().auth.Logout(cmd.Context())
		},
	}
}

func newWhoamiCmd(get func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := get()
			ctx := cmd.Context()
			u, ok, err := a.auth.CurrentUser(ctx)
			if err != nil {
				return err
			}
			if !ok || !a.auth.IsAuthenticated(ctx) {
				return errors.New("not signed in")
			}
			return a.print(u)
		},
	}
}

// userContext builds the flag evaluation context from the stored user. Roles
// is never nil, so role-gated flags stay closed for anonymous sessions.
func (a *app) userContext(cmd *cobra.Command) featureflag.UserContext {
	uc := featureflag.UserContext{Roles: []string{}}
	u, ok, err := a.auth.CurrentUser(cmd.Context())
	if err != nil || !ok {
		return uc
	}
	uc.ID, uc.Email = u.ID, u.Email
	if u.Role != "" {
		uc.Roles = append(uc.Roles, u.Role)
	}
	return uc
}
