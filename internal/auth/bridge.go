package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"

	"github.com/systmms/kvview/internal/clock"
	kverrors "github.com/systmms/kvview/internal/errors"
)

// KeyVaultScope is requested when the caller names no scopes.
const KeyVaultScope = "https://vault.azure.net/.default"

// TokenLifetime is the validity reported for every bridged token. Session
// does not expose real expiry, so a short window keeps SDK-side caches
// asking again rather than holding a stale token.
const TokenLifetime = 5 * time.Minute

// TokenSource is the part of Session the bridge needs.
type TokenSource interface {
	AcquireToken(ctx context.Context, scopes []string) (string, bool)
}

// Bridge exposes a Session as an azcore.TokenCredential.
type Bridge struct {
	source TokenSource
	clock  clock.Clock
}

// NewBridge creates a bridge over source. A nil clock means the system clock.
func NewBridge(source TokenSource, clk clock.Clock) *Bridge {
	if clk == nil {
		clk = clock.System{}
	}
	return &Bridge{source: source, clock: clk}
}

// GetToken implements azcore.TokenCredential.
func (b *Bridge) GetToken(ctx context.Context, opts policy.TokenRequestOptions) (azcore.AccessToken, error) {
	scopes := opts.Scopes
	if len(scopes) == 0 {
		scopes = []string{KeyVaultScope}
	}

	token, ok := b.source.AcquireToken(ctx, scopes)
	if !ok || token == "" {
		if err := ctx.Err(); err != nil {
			return azcore.AccessToken{}, fmt.Errorf("%w: %w", kverrors.ErrAuthenticationUnavailable, err)
		}
		return azcore.AccessToken{}, fmt.Errorf("%w: no token for %v", kverrors.ErrAuthenticationUnavailable, scopes)
	}

	return azcore.AccessToken{
		Token:     token,
		ExpiresOn: b.clock.Now().Add(TokenLifetime),
	}, nil
}

var _ azcore.TokenCredential = (*Bridge)(nil)
