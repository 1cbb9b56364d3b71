package commands

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/systmms/kvview/internal/auth"
	"github.com/systmms/kvview/internal/config"
	"github.com/systmms/kvview/internal/keyvault"
	"github.com/systmms/kvview/internal/logging"
	"github.com/systmms/kvview/internal/orchestrator"
)

const testVaultURL = "https://unit-test.vault.azure.net/"

var alice = auth.Account{ID: "oid-alice", Username: "alice@contoso.com"}

// stubProvider is an in-memory identity provider. Interactive sign-in adds
// the interactive account unless failInteractive is set.
type stubProvider struct {
	mu              sync.Mutex
	accounts        []auth.Account
	interactive     auth.Account
	failInteractive bool
}

func newStubProvider(cached ...auth.Account) *stubProvider {
	return &stubProvider{accounts: cached, interactive: alice}
}

func (p *stubProvider) Accounts(context.Context) ([]auth.Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]auth.Account(nil), p.accounts...), nil
}

func (p *stubProvider) AcquireTokenSilent(_ context.Context, _ []string, acct auth.Account) (auth.AuthResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, a := range p.accounts {
		if a.ID == acct.ID {
			return p.result(a), nil
		}
	}
	return auth.AuthResult{}, auth.ErrInteractionRequired
}

func (p *stubProvider) AcquireTokenInteractive(context.Context, []string) (auth.AuthResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failInteractive {
		return auth.AuthResult{}, errors.New("user closed the browser")
	}
	p.accounts = append(p.accounts, p.interactive)
	return p.result(p.interactive), nil
}

func (p *stubProvider) RemoveAccount(_ context.Context, acct auth.Account) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	kept := p.accounts[:0]
	for _, a := range p.accounts {
		if a.ID != acct.ID {
			kept = append(kept, a)
		}
	}
	p.accounts = kept
	return nil
}

func (p *stubProvider) cached() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.accounts)
}

func (p *stubProvider) result(a auth.Account) auth.AuthResult {
	return auth.AuthResult{Account: a, AccessToken: "token-" + a.ID, ExpiresOn: time.Now().Add(time.Hour)}
}

// memStore is an in-memory vault.
type memStore struct {
	mu           sync.Mutex
	values       map[string]string
	contentTypes map[string]string
	writes       int
	listErr      error
}

func newMemStore(values map[string]string) *memStore {
	return &memStore{values: values, contentTypes: map[string]string{}}
}

func (s *memStore) ListSecrets(context.Context) ([]keyvault.SecretDescriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	enabled := true
	out := make([]keyvault.SecretDescriptor, 0, len(s.values))
	for name := range s.values {
		d := keyvault.SecretDescriptor{Name: name, Enabled: &enabled}
		if ct, ok := s.contentTypes[name]; ok {
			d.ContentType = &ct
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *memStore) GetSecretValue(_ context.Context, name string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[name]
	return v, ok, nil
}

func (s *memStore) SetSecretValue(_ context.Context, name, value, contentType string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[name] = value
	if contentType != "" {
		s.contentTypes[name] = contentType
	}
	s.writes++
	return fmt.Sprintf("v%d", s.writes), nil
}

func (s *memStore) value(name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[name]
}

func testFactory(p auth.IdentityProvider, st *memStore) Factory {
	return Factory{
		NewIdentity: func(*config.Definition, *logging.Logger) (Identity, error) {
			return Identity{Provider: p}, nil
		},
		NewStore: func(*config.Definition, azcore.TokenCredential, *logging.Logger) (orchestrator.Store, error) {
			return st, nil
		},
	}
}

// writeConfig writes a kvview.yaml and returns a Config pointing at it.
func writeConfig(t *testing.T, body string) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kvview.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return &config.Config{Path: path, Explicit: true, Logger: logging.Discard()}
}

func vaultConfig(t *testing.T) *config.Config {
	t.Helper()
	return writeConfig(t, "version: 0\nvault:\n  url: "+testVaultURL+"\n")
}

// execute runs cmd with args and stdin, returning stdout and the error.
func execute(t *testing.T, cmd *cobra.Command, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}
