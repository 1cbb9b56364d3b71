package auth

import (
	"context"
	"errors"
	"sync"
	"time"
)

// fakeProvider is a scriptable IdentityProvider.
type fakeProvider struct {
	mu sync.Mutex

	accounts       []Account
	accountsErr    error
	silentErr      error
	interactiveErr error
	removeErr      map[string]error

	interactiveAccount Account

	silentCalls      int
	interactiveCalls int
	removed          []string
	lastScopes       []string
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		interactiveAccount: Account{ID: "oid-1", Username: "ada@example.com"},
		removeErr:          map[string]error{},
	}
}

func (f *fakeProvider) Accounts(context.Context) ([]Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.accountsErr != nil {
		return nil, f.accountsErr
	}
	return append([]Account(nil), f.accounts...), nil
}

func (f *fakeProvider) AcquireTokenSilent(ctx context.Context, scopes []string, acct Account) (AuthResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.silentCalls++
	f.lastScopes = scopes
	if err := ctx.Err(); err != nil {
		return AuthResult{}, err
	}
	if f.silentErr != nil {
		return AuthResult{}, f.silentErr
	}
	return AuthResult{Account: acct, AccessToken: "silent-token", ExpiresOn: time.Now().Add(time.Hour)}, nil
}

func (f *fakeProvider) AcquireTokenInteractive(ctx context.Context, scopes []string) (AuthResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interactiveCalls++
	f.lastScopes = scopes
	if err := ctx.Err(); err != nil {
		return AuthResult{}, err
	}
	if f.interactiveErr != nil {
		return AuthResult{}, f.interactiveErr
	}
	f.accounts = []Account{f.interactiveAccount}
	f.silentErr = nil
	return AuthResult{Account: f.interactiveAccount, AccessToken: "interactive-token", ExpiresOn: time.Now().Add(time.Hour)}, nil
}

func (f *fakeProvider) RemoveAccount(_ context.Context, acct Account) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, acct.ID)
	if err := f.removeErr[acct.ID]; err != nil {
		return err
	}
	kept := f.accounts[:0]
	for _, a := range f.accounts {
		if a.ID != acct.ID {
			kept = append(kept, a)
		}
	}
	f.accounts = kept
	return nil
}

func (f *fakeProvider) counts() (silent, interactive int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.silentCalls, f.interactiveCalls
}

var errNetwork = errors.New("dial tcp: connection refused")
