package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
)

// Credential kinds accepted by NewAzureCredential.
const (
	CredentialCLI     = "cli"
	CredentialDefault = "default"
)

// errNoInteractiveFlow is returned by CredentialProvider.AcquireTokenInteractive.
var errNoInteractiveFlow = errors.New("interactive sign-in is not available with an ambient Azure credential")

// NewAzureCredential builds the azidentity credential for kind. An empty or
// "common" tenant leaves the credential's own default in place.
func NewAzureCredential(kind, tenantID string) (azcore.TokenCredential, error) {
	if tenantID == "common" {
		tenantID = ""
	}

	var (
		cred azcore.TokenCredential
		err  error
	)
	switch kind {
	case CredentialCLI:
		cred, err = azidentity.NewAzureCLICredential(&azidentity.AzureCLICredentialOptions{
			TenantID: tenantID,
		})
	case CredentialDefault:
		cred, err = azidentity.NewDefaultAzureCredential(&azidentity.DefaultAzureCredentialOptions{
			TenantID: tenantID,
		})
	default:
		return nil, fmt.Errorf("unknown credential kind %q", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure credential: %w", err)
	}
	return cred, nil
}

// CredentialProvider adapts an ambient azcore.TokenCredential (Azure CLI
// login, environment, managed identity) to IdentityProvider. It exposes a
// single synthetic account and never asks for interaction, so the session
// does not retry a failed silent attempt.
type CredentialProvider struct {
	cred    azcore.TokenCredential
	account Account
}

// NewCredentialProvider wraps cred; label is shown as the account name.
func NewCredentialProvider(cred azcore.TokenCredential, label string) *CredentialProvider {
	return &CredentialProvider{
		cred:    cred,
		account: Account{ID: label, Username: label},
	}
}

// Accounts always returns the synthetic account.
func (p *CredentialProvider) Accounts(context.Context) ([]Account, error) {
	return []Account{p.account}, nil
}

// AcquireTokenSilent asks the wrapped credential for a token.
func (p *CredentialProvider) AcquireTokenSilent(ctx context.Context, scopes []string, _ Account) (AuthResult, error) {
	tok, err := p.cred.GetToken(ctx, policy.TokenRequestOptions{Scopes: scopes})
	if err != nil {
		return AuthResult{}, err
	}
	return AuthResult{
		Account:     p.account,
		AccessToken: tok.Token,
		ExpiresOn:   tok.ExpiresOn,
	}, nil
}

// AcquireTokenInteractive is unsupported.
func (p *CredentialProvider) AcquireTokenInteractive(context.Context, []string) (AuthResult, error) {
	return AuthResult{}, errNoInteractiveFlow
}

// RemoveAccount is a no-op; the ambient login is owned by another tool.
func (p *CredentialProvider) RemoveAccount(context.Context, Account) error {
	return nil
}

var _ IdentityProvider = (*CredentialProvider)(nil)
