package commands

import (
	"context"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/kvview/internal/auth"
	kverrors "github.com/systmms/kvview/internal/errors"
)

func TestDoctorCommand_Healthy(t *testing.T) {
	store := newMemStore(map[string]string{"alpha": "1", "beta": "2"})

	out, err := execute(t, NewDoctorCommand(vaultConfig(t), testFactory(newStubProvider(alice), store)), "")
	require.NoError(t, err)

	assert.Contains(t, out, "CHECK")
	assert.Contains(t, out, "alice@contoso.com")
	assert.Contains(t, out, "2 secret(s) visible")
	assert.Contains(t, out, "Summary: 4/5 checks healthy")
}

func TestDoctorCommand_NotSignedIn(t *testing.T) {
	store := newMemStore(map[string]string{})

	out, err := execute(t, NewDoctorCommand(vaultConfig(t), testFactory(newStubProvider(), store)), "", "--verbose")
	require.NoError(t, err)
	assert.Contains(t, out, "not signed in")
	assert.Contains(t, out, "no cached account")
	assert.Contains(t, out, "kvview login")
}

func TestDoctorCommand_Offline(t *testing.T) {
	out, err := execute(t, NewDoctorCommand(vaultConfig(t), testFactory(newStubProvider(alice), nil)), "", "--offline")
	require.NoError(t, err)
	assert.Contains(t, out, "--offline")
}

func TestDoctorCommand_InvalidConfig(t *testing.T) {
	cfg := writeConfig(t, "invalid: yaml: [")

	out, err := execute(t, NewDoctorCommand(cfg, testFactory(newStubProvider(), nil)), "")
	require.Error(t, err)
	assert.Contains(t, out, "✗ error")
	assert.Contains(t, out, "Summary: 0/1 checks healthy")
}

func TestDoctorCommand_VaultFailure(t *testing.T) {
	store := newMemStore(map[string]string{})
	store.listErr = &kverrors.StoreError{Op: "list", StatusCode: 403}

	out, err := execute(t, NewDoctorCommand(vaultConfig(t), testFactory(newStubProvider(alice), store)), "")
	require.Error(t, err)
	assert.Contains(t, out, "status 403")
	assert.Contains(t, out, "RBAC")
}

func TestSilentCredential(t *testing.T) {
	provider := newStubProvider(alice)

	tok, err := silentCredential{provider: provider, account: alice}.GetToken(context.Background(), policy.TokenRequestOptions{})
	require.NoError(t, err)
	assert.Equal(t, "token-oid-alice", tok.Token)

	_, err = silentCredential{provider: provider, account: auth.Account{ID: "someone-else"}}.GetToken(context.Background(), policy.TokenRequestOptions{})
	assert.ErrorIs(t, err, kverrors.ErrAuthenticationUnavailable)
}
