package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/systmms/kvview/internal/config"
	kverrors "github.com/systmms/kvview/internal/errors"
)

// NewLoginCommand signs in, silently when a cached account allows it.
func NewLoginCommand(cfg *config.Config, f Factory) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Sign in to Microsoft Entra ID",
		Long: `Sign in with the configured identity.

A cached account is tried silently first. If that is not possible a browser
window is opened for interactive sign-in (auth.mode: interactive). Tokens are
kept in the OS keyring unless auth.token_cache.disabled is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cfg, f, false)
			if err != nil {
				return err
			}
			defer a.Close()

			if !a.session.SignIn(cmd.Context()) {
				return kverrors.UserError{
					Message:    "Sign-in failed",
					Suggestion: "Re-run with --debug for details, or set auth.mode: cli to reuse an 'az login' session",
				}
			}
			label, _ := a.session.AccountLabel()
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s\n", label)
			return nil
		},
	}
}

// NewLogoutCommand removes every cached account.
func NewLogoutCommand(cfg *config.Config, f Factory) *cobra.Command {
	var purge bool

	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget cached accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cfg, f, false)
			if err != nil {
				return err
			}
			defer a.Close()

			a.session.SignOut(cmd.Context())

			if purge && a.identity.Cache != nil {
				if err := a.identity.Cache.Clear(); err != nil {
					return kverrors.UserError{
						Message:    "Failed to remove the token cache from the keyring",
						Details:    err.Error(),
						Suggestion: kverrors.Suggestion(err),
						Err:        err,
					}
				}
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
			return nil
		},
	}

	cmd.Flags().BoolVar(&purge, "purge", false, "Also delete the token cache entry from the OS keyring")
	return cmd
}

// NewWhoamiCommand lists cached accounts without prompting.
func NewWhoamiCommand(cfg *config.Config, f Factory) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the cached account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cfg, f, false)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			names, err := cachedAccounts(cmd.Context(), a)
			if err != nil {
				return kverrors.SimplifyError(err)
			}
			if len(names) == 0 {
				_, _ = fmt.Fprintln(out, "Not signed in")
				return nil
			}
			for _, name := range names {
				_, _ = fmt.Fprintln(out, name)
			}
			return nil
		},
	}
}

func cachedAccounts(ctx context.Context, a *app) ([]string, error) {
	accounts, err := a.identity.Provider.Accounts(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(accounts))
	for _, acct := range accounts {
		name := acct.Username
		if name == "" {
			name = acct.ID
		}
		names = append(names, name)
	}
	return names, nil
}
