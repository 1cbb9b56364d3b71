// Package auth owns the signed-in identity and turns it into bearer tokens.
//
// Session is the single source of truth for "am I signed in, and as whom".
// It talks to an IdentityProvider (MSAL for interactive use, azidentity for
// headless use) and exposes Bridge, an azcore.TokenCredential that any Azure
// SDK client can consume.
package auth

import (
	"context"
	"errors"
	"time"
)

// ErrInteractionRequired is returned by an IdentityProvider when silent
// acquisition cannot succeed without the user: no cached account, an
// expired refresh token, or a consent/MFA challenge.
var ErrInteractionRequired = errors.New("interaction required")

// Account is an identity known to the provider's token cache.
type Account struct {
	ID       string
	Username string

	// handle is the provider's own account value, if it needs one back.
	handle any
}

// IsZero reports whether a is the empty account.
func (a Account) IsZero() bool {
	return a.ID == "" && a.Username == "" && a.handle == nil
}

// AuthResult is a successful token acquisition.
type AuthResult struct {
	Account     Account
	AccessToken string
	ExpiresOn   time.Time
}

// IdentityProvider is the identity-provider collaborator.
type IdentityProvider interface {
	// Accounts lists identities in the local token cache.
	Accounts(ctx context.Context) ([]Account, error)
	// AcquireTokenSilent returns a token for account without user interaction,
	// or an error matching ErrInteractionRequired when that is impossible.
	AcquireTokenSilent(ctx context.Context, scopes []string, account Account) (AuthResult, error)
	// AcquireTokenInteractive prompts the user to pick an account.
	AcquireTokenInteractive(ctx context.Context, scopes []string) (AuthResult, error)
	// RemoveAccount evicts account from the token cache.
	RemoveAccount(ctx context.Context, account Account) error
}

// AuthenticationEvent is raised after every completed sign-in or sign-out.
type AuthenticationEvent struct {
	IsAuthenticated bool
}
