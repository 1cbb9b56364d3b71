package commands

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/spf13/cobra"

	"github.com/systmms/kvview/internal/auth"
	"github.com/systmms/kvview/internal/config"
	kverrors "github.com/systmms/kvview/internal/errors"
)

// Check statuses.
const (
	statusHealthy = "healthy"
	statusWarning = "warning"
	statusError   = "error"
	statusSkipped = "skipped"
)

// CheckResult is one line of the doctor report.
type CheckResult struct {
	Name       string
	Status     string
	Message    string
	Suggestion string
}

// NewDoctorCommand checks configuration, the token cache and vault access.
func NewDoctorCommand(cfg *config.Config, f Factory) *cobra.Command {
	var (
		verbose bool
		offline bool
	)

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration, sign-in state and vault access",
		Long: `Verify that kvview can reach the vault.

This command checks:
- Configuration file validity and the vault URL
- The OS keyring token cache
- The cached account
- Listing secrets with a silently acquired token (skipped with --offline)

It never opens a browser.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.Logger.Info("Checking kvview configuration...")
			results := runChecks(cmd.Context(), cfg, f, offline)

			out := cmd.OutOrStdout()
			displayCheckResults(out, results, verbose)

			healthy, failures := 0, 0
			for _, r := range results {
				switch r.Status {
				case statusHealthy:
					healthy++
				case statusError:
					failures++
				}
			}
			_, _ = fmt.Fprintf(out, "\nSummary: %d/%d checks healthy\n", healthy, len(results))
			if failures > 0 {
				return fmt.Errorf("%d check(s) failed", failures)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&verbose, "verbose", false, "Show suggestions for every failed check")
	cmd.Flags().BoolVar(&offline, "offline", false, "Skip checks that call Entra ID or Key Vault")
	return cmd
}

func runChecks(ctx context.Context, cfg *config.Config, f Factory, offline bool) []CheckResult {
	var results []CheckResult

	if err := cfg.Load(); err != nil {
		return append(results, failed("config", err))
	}
	def := cfg.Definition
	if err := def.Validate(); err != nil {
		return append(results, failed("config", err))
	}
	results = append(results, CheckResult{
		Name:    "config",
		Status:  statusHealthy,
		Message: fmt.Sprintf("auth mode %s, tenant %s", def.Auth.Mode, def.Auth.TenantID),
	})

	vaultOK := true
	if err := def.ValidateVault(); err != nil {
		vaultOK = false
		results = append(results, failed("vault url", err))
	} else {
		results = append(results, CheckResult{Name: "vault url", Status: statusHealthy, Message: def.Vault.URL})
	}

	identity, err := f.NewIdentity(def, cfg.Logger)
	if err != nil {
		return append(results, failed("identity", err))
	}
	results = append(results, checkTokenCache(identity.Cache))

	account, result := checkAccount(ctx, identity.Provider)
	results = append(results, result)

	switch {
	case offline:
		results = append(results, CheckResult{Name: "vault access", Status: statusSkipped, Message: "--offline"})
	case !vaultOK:
		results = append(results, CheckResult{Name: "vault access", Status: statusSkipped, Message: "no usable vault URL"})
	case account.IsZero():
		results = append(results, CheckResult{
			Name:       "vault access",
			Status:     statusSkipped,
			Message:    "no cached account",
			Suggestion: "Run 'kvview login'",
		})
	default:
		results = append(results, checkVault(ctx, cfg, f, identity.Provider, account))
	}
	return results
}

func checkTokenCache(c *auth.KeyringCache) CheckResult {
	if c == nil {
		return CheckResult{Name: "token cache", Status: statusSkipped, Message: "not used in this auth mode"}
	}
	stored, err := c.Stored()
	switch {
	case err != nil:
		return CheckResult{
			Name:       "token cache",
			Status:     statusWarning,
			Message:    err.Error(),
			Suggestion: "The OS keyring is unavailable; tokens will not persist across runs",
		}
	case !stored:
		return CheckResult{Name: "token cache", Status: statusWarning, Message: "empty", Suggestion: "Run 'kvview login'"}
	}
	return CheckResult{Name: "token cache", Status: statusHealthy, Message: "present in OS keyring"}
}

func checkAccount(ctx context.Context, provider auth.IdentityProvider) (auth.Account, CheckResult) {
	accounts, err := provider.Accounts(ctx)
	if err != nil {
		return auth.Account{}, failed("account", err)
	}
	if len(accounts) == 0 {
		return auth.Account{}, CheckResult{
			Name:       "account",
			Status:     statusWarning,
			Message:    "not signed in",
			Suggestion: "Run 'kvview login'",
		}
	}
	acct := accounts[0]
	label := acct.Username
	if label == "" {
		label = acct.ID
	}
	return acct, CheckResult{Name: "account", Status: statusHealthy, Message: label}
}

func checkVault(ctx context.Context, cfg *config.Config, f Factory, provider auth.IdentityProvider, account auth.Account) CheckResult {
	store, err := f.NewStore(cfg.Definition, silentCredential{provider: provider, account: account}, cfg.Logger)
	if err != nil {
		return failed("vault access", err)
	}
	secrets, err := store.ListSecrets(ctx)
	if err != nil {
		return failed("vault access", err)
	}
	return CheckResult{
		Name:    "vault access",
		Status:  statusHealthy,
		Message: fmt.Sprintf("%d secret(s) visible", len(secrets)),
	}
}

// silentCredential hands the vault client tokens without ever prompting.
type silentCredential struct {
	provider auth.IdentityProvider
	account  auth.Account
}

func (c silentCredential) GetToken(ctx context.Context, opts policy.TokenRequestOptions) (azcore.AccessToken, error) {
	scopes := opts.Scopes
	if len(scopes) == 0 {
		scopes = []string{auth.KeyVaultScope}
	}
	res, err := c.provider.AcquireTokenSilent(ctx, scopes, c.account)
	if err != nil {
		return azcore.AccessToken{}, fmt.Errorf("%w: %v", kverrors.ErrAuthenticationUnavailable, err)
	}
	return azcore.AccessToken{Token: res.AccessToken, ExpiresOn: res.ExpiresOn}, nil
}

func failed(name string, err error) CheckResult {
	return CheckResult{
		Name:       name,
		Status:     statusError,
		Message:    firstLine(err.Error()),
		Suggestion: kverrors.Suggestion(err),
	}
}

// displayCheckResults shows check results in a formatted table
func displayCheckResults(out io.Writer, results []CheckResult, verbose bool) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	_, _ = fmt.Fprintf(w, "CHECK\tSTATUS\tMESSAGE\n")
	_, _ = fmt.Fprintf(w, "-----\t------\t-------\n")

	for _, r := range results {
		status := r.Status
		switch r.Status {
		case statusHealthy:
			status = "✓ " + status
		case statusError:
			status = "✗ " + status
		case statusWarning:
			status = "⚠ " + status
		default:
			status = "- " + status
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", r.Name, status, r.Message)
	}

	_ = w.Flush()

	for _, r := range results {
		if r.Suggestion == "" || (!verbose && r.Status != statusError) {
			continue
		}
		_, _ = fmt.Fprintf(out, "\n%s: %s\n", r.Name, r.Suggestion)
	}
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
