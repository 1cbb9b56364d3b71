package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	msalerrors "github.com/AzureAD/microsoft-authentication-library-for-go/apps/errors"
	"github.com/AzureAD/microsoft-authentication-library-for-go/apps/public"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMSAL struct {
	accounts       []public.Account
	silentErr      error
	interactiveErr error
	removed        []string
	silentAccount  bool
	interactive    int
}

func (f *fakeMSAL) Accounts(context.Context) ([]public.Account, error) {
	return f.accounts, nil
}

func (f *fakeMSAL) AcquireTokenSilent(_ context.Context, _ []string, opts ...public.AcquireSilentOption) (public.AuthResult, error) {
	f.silentAccount = len(opts) == 1
	if f.silentErr != nil {
		return public.AuthResult{}, f.silentErr
	}
	return public.AuthResult{Account: f.accounts[0], AccessToken: "at"}, nil
}

func (f *fakeMSAL) AcquireTokenInteractive(context.Context, []string, ...public.AcquireInteractiveOption) (public.AuthResult, error) {
	f.interactive++
	if f.interactiveErr != nil {
		return public.AuthResult{}, f.interactiveErr
	}
	return public.AuthResult{
		Account:     public.Account{HomeAccountID: "home-1", PreferredUsername: "grace@example.com"},
		AccessToken: "interactive-at",
	}, nil
}

func (f *fakeMSAL) RemoveAccount(_ context.Context, a public.Account) error {
	f.removed = append(f.removed, a.HomeAccountID)
	return nil
}

func TestClassifySilentError(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		interaction bool
	}{
		{
			name:        "no account in cache",
			err:         errors.New("no account was provided"),
			interaction: true,
		},
		{
			name: "invalid_grant",
			err: msalerrors.CallErr{
				Resp: &http.Response{StatusCode: http.StatusBadRequest},
				Err:  errors.New("invalid_grant: AADSTS700082 refresh token expired"),
			},
			interaction: true,
		},
		{
			name: "server fault",
			err: msalerrors.CallErr{
				Resp: &http.Response{StatusCode: http.StatusServiceUnavailable},
				Err:  errors.New("service unavailable"),
			},
		},
		{
			name: "transport failure",
			err:  msalerrors.CallErr{Err: errors.New("dial tcp: i/o timeout")},
		},
		{
			name: "canceled",
			err:  fmt.Errorf("token request: %w", context.Canceled),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifySilentError(tt.err)
			assert.Equal(t, tt.interaction, errors.Is(got, ErrInteractionRequired))
		})
	}
}

func TestMSALProvider_RoundTrip(t *testing.T) {
	fake := &fakeMSAL{
		accounts: []public.Account{{HomeAccountID: "home-1", PreferredUsername: "grace@example.com"}},
	}
	p := &MSALProvider{client: fake, redirectURI: "http://localhost"}
	ctx := context.Background()

	accounts, err := p.Accounts(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, "home-1", accounts[0].ID)
	assert.Equal(t, "grace@example.com", accounts[0].Username)

	res, err := p.AcquireTokenSilent(ctx, []string{"User.Read"}, accounts[0])
	require.NoError(t, err)
	assert.Equal(t, "at", res.AccessToken)
	assert.True(t, fake.silentAccount)

	require.NoError(t, p.RemoveAccount(ctx, accounts[0]))
	assert.Equal(t, []string{"home-1"}, fake.removed)
}

func TestMSALProvider_ForeignAccountNeedsInteraction(t *testing.T) {
	p := &MSALProvider{client: &fakeMSAL{}}

	_, err := p.AcquireTokenSilent(context.Background(), nil, Account{ID: "x"})
	assert.ErrorIs(t, err, ErrInteractionRequired)
	assert.NoError(t, p.RemoveAccount(context.Background(), Account{ID: "x"}))
}

func TestMSALProvider_SessionFallback(t *testing.T) {
	fake := &fakeMSAL{
		accounts: []public.Account{{HomeAccountID: "home-0", PreferredUsername: "old@example.com"}},
		silentErr: msalerrors.CallErr{
			Resp: &http.Response{StatusCode: http.StatusBadRequest},
			Err:  errors.New("interaction_required"),
		},
	}
	s := NewSession(&MSALProvider{client: fake})
	defer s.Close()

	require.True(t, s.SignIn(context.Background()))
	label, _ := s.AccountLabel()
	assert.Equal(t, "grace@example.com", label)
	assert.Equal(t, 1, fake.interactive)
}

func TestNewMSALProvider(t *testing.T) {
	p, err := NewMSALProvider(MSALConfig{
		ClientID:    "04b07795-8ddb-461a-bbee-02f9e1bf7b46",
		Authority:   "https://login.microsoftonline.com/common",
		RedirectURI: "http://localhost",
		Cache:       NewKeyringCache(newMemKeyring(), "svc", "acct", nil),
	})
	require.NoError(t, err)
	assert.NotNil(t, p)
}
