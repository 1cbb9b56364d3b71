package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/AzureAD/microsoft-authentication-library-for-go/apps/cache"
	msalerrors "github.com/AzureAD/microsoft-authentication-library-for-go/apps/errors"
	"github.com/AzureAD/microsoft-authentication-library-for-go/apps/public"
)

// MSALConfig holds the public client registration.
type MSALConfig struct {
	ClientID    string
	Authority   string // https://login.microsoftonline.com/<tenant>
	RedirectURI string
	// Cache persists the token cache between runs; nil keeps it in memory.
	Cache cache.ExportReplace
	// OpenURL overrides how the browser is launched for interactive sign-in.
	OpenURL func(url string) error
}

// msalClient is the subset of public.Client used here.
type msalClient interface {
	Accounts(ctx context.Context) ([]public.Account, error)
	AcquireTokenSilent(ctx context.Context, scopes []string, opts ...public.AcquireSilentOption) (public.AuthResult, error)
	AcquireTokenInteractive(ctx context.Context, scopes []string, opts ...public.AcquireInteractiveOption) (public.AuthResult, error)
	RemoveAccount(ctx context.Context, account public.Account) error
}

// MSALProvider is an IdentityProvider backed by an MSAL public client.
// Interactive sign-in opens the system browser with the account picker.
type MSALProvider struct {
	client      msalClient
	redirectURI string
	openURL     func(string) error
}

// NewMSALProvider creates the MSAL public client.
func NewMSALProvider(cfg MSALConfig) (*MSALProvider, error) {
	opts := []public.Option{}
	if cfg.Authority != "" {
		opts = append(opts, public.WithAuthority(cfg.Authority))
	}
	if cfg.Cache != nil {
		opts = append(opts, public.WithCache(cfg.Cache))
	}

	client, err := public.New(cfg.ClientID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create MSAL client: %w", err)
	}

	return &MSALProvider{
		client:      client,
		redirectURI: cfg.RedirectURI,
		openURL:     cfg.OpenURL,
	}, nil
}

// Accounts lists identities in the MSAL cache.
func (p *MSALProvider) Accounts(ctx context.Context) ([]Account, error) {
	accounts, err := p.client.Accounts(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Account, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, fromMSALAccount(a))
	}
	return out, nil
}

// AcquireTokenSilent redeems the cached refresh token for account.
func (p *MSALProvider) AcquireTokenSilent(ctx context.Context, scopes []string, account Account) (AuthResult, error) {
	acct, ok := account.handle.(public.Account)
	if !ok {
		return AuthResult{}, fmt.Errorf("%w: account %q is not in the MSAL cache", ErrInteractionRequired, account.Username)
	}

	result, err := p.client.AcquireTokenSilent(ctx, scopes, public.WithSilentAccount(acct))
	if err != nil {
		return AuthResult{}, classifySilentError(err)
	}
	return fromMSALResult(result), nil
}

// AcquireTokenInteractive runs the browser flow.
func (p *MSALProvider) AcquireTokenInteractive(ctx context.Context, scopes []string) (AuthResult, error) {
	var opts []public.AcquireInteractiveOption
	if p.redirectURI != "" {
		opts = append(opts, public.WithRedirectURI(p.redirectURI))
	}
	if p.openURL != nil {
		opts = append(opts, public.WithOpenURL(p.openURL))
	}

	result, err := p.client.AcquireTokenInteractive(ctx, scopes, opts...)
	if err != nil {
		return AuthResult{}, err
	}
	return fromMSALResult(result), nil
}

// RemoveAccount evicts account from the MSAL cache.
func (p *MSALProvider) RemoveAccount(ctx context.Context, account Account) error {
	acct, ok := account.handle.(public.Account)
	if !ok {
		return nil
	}
	return p.client.RemoveAccount(ctx, acct)
}

// classifySilentError decides whether a silent failure can be fixed by
// prompting. Cancellation, transport failures and server faults pass
// through; everything else (no cached token, invalid_grant, consent or MFA
// required) becomes ErrInteractionRequired.
func classifySilentError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var callErr msalerrors.CallErr
	if errors.As(err, &callErr) {
		if callErr.Resp == nil || callErr.Resp.StatusCode >= http.StatusInternalServerError {
			return err
		}
	}
	return fmt.Errorf("%w: %v", ErrInteractionRequired, err)
}

func fromMSALAccount(a public.Account) Account {
	return Account{
		ID:       a.HomeAccountID,
		Username: a.PreferredUsername,
		handle:   a,
	}
}

func fromMSALResult(r public.AuthResult) AuthResult {
	return AuthResult{
		Account:     fromMSALAccount(r.Account),
		AccessToken: r.AccessToken,
		ExpiresOn:   r.ExpiresOn,
	}
}

var _ IdentityProvider = (*MSALProvider)(nil)
