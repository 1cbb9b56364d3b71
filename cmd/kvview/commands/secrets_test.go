package commands

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/kvview/internal/dispatch"
	"github.com/systmms/kvview/internal/entry"
	kverrors "github.com/systmms/kvview/internal/errors"
	"github.com/systmms/kvview/internal/keyvault"
)

func TestListCommand(t *testing.T) {
	store := newMemStore(map[string]string{"beta": "2", "alpha": "1"})
	store.contentTypes["alpha"] = "text/plain"

	out, err := execute(t, NewListCommand(vaultConfig(t), testFactory(newStubProvider(alice), store)), "")
	require.NoError(t, err)

	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "text/plain")
	assert.Contains(t, out, "2 secret(s)")
	assert.Less(t, strings.Index(out, "alpha"), strings.Index(out, "beta"))
}

func TestListCommand_RequiresVaultURL(t *testing.T) {
	t.Setenv("KVVIEW_VAULT_URL", "")
	cfg := writeConfig(t, "version: 0\n")

	_, err := execute(t, NewListCommand(cfg, testFactory(newStubProvider(alice), newMemStore(nil))), "")
	require.Error(t, err)
	var cfgErr kverrors.ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "vault.url", cfgErr.Field)
}

func TestListCommand_StoreFailure(t *testing.T) {
	store := newMemStore(map[string]string{})
	store.listErr = &kverrors.StoreError{Op: "list", StatusCode: 403}

	_, err := execute(t, NewListCommand(vaultConfig(t), testFactory(newStubProvider(alice), store)), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RBAC")
}

func TestShowCommand(t *testing.T) {
	store := newMemStore(map[string]string{"alpha": "s3cret"})

	out, err := execute(t, NewShowCommand(vaultConfig(t), testFactory(newStubProvider(alice), store)), "", "alpha")
	require.NoError(t, err)
	assert.Equal(t, "s3cret\n", out)
}

func TestShowCommand_UnknownSecret(t *testing.T) {
	store := newMemStore(map[string]string{"alpha": "s3cret"})

	_, err := execute(t, NewShowCommand(vaultConfig(t), testFactory(newStubProvider(alice), store)), "", "gamma")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Secret not found: gamma")
}

func TestSetCommand_RequiresWriteFlag(t *testing.T) {
	store := newMemStore(map[string]string{"alpha": "old"})

	_, err := execute(t, NewSetCommand(vaultConfig(t), testFactory(newStubProvider(alice), store)), "", "alpha", "new")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Write mode is off")
	assert.Equal(t, "old", store.value("alpha"))
}

func TestSetCommand_UpdatesListedSecret(t *testing.T) {
	store := newMemStore(map[string]string{"alpha": "old"})

	out, err := execute(t, NewSetCommand(vaultConfig(t), testFactory(newStubProvider(alice), store)), "", "alpha", "new", "--write")
	require.NoError(t, err)
	assert.Contains(t, out, "Saved alpha (version v1)")
	assert.Equal(t, "new", store.value("alpha"))
}

func TestSetCommand_CreatesSecretFromStdin(t *testing.T) {
	store := newMemStore(map[string]string{})

	out, err := execute(t, NewSetCommand(vaultConfig(t), testFactory(newStubProvider(alice), store)),
		"from-stdin\n", "gamma", "-", "--write", "--content-type", "text/plain")
	require.NoError(t, err)
	assert.Contains(t, out, "Saved gamma")
	assert.Equal(t, "from-stdin", store.value("gamma"))
	assert.Equal(t, "text/plain", store.contentTypes["gamma"])
}

func newEditableEntry(t *testing.T, store *memStore) *entry.Controller {
	t.Helper()
	loop := dispatch.New(0)
	t.Cleanup(loop.Close)
	e := entry.New(keyvault.SecretDescriptor{Name: "alpha"}, store, loop, entry.WithGuard(func() bool { return true }))
	t.Cleanup(e.Close)
	return e
}

func TestSaveThroughEntry_DraftNotAppliedIsAnError(t *testing.T) {
	store := newMemStore(map[string]string{"alpha": "old"})
	e := newEditableEntry(t, store)
	require.NoError(t, e.Edit(context.Background()))
	e.Close()

	err := saveThroughEntry(context.Background(), e, "new")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Could not apply the new value to alpha")
	assert.Equal(t, 0, store.writes)
	assert.Equal(t, "old", store.value("alpha"))
}

func TestSaveThroughEntry_ReplacesPendingDraft(t *testing.T) {
	store := newMemStore(map[string]string{"alpha": "old"})
	e := newEditableEntry(t, store)
	require.NoError(t, e.Edit(context.Background()))
	require.True(t, e.SetDraft("stale"))

	require.NoError(t, saveThroughEntry(context.Background(), e, "new"))
	assert.Equal(t, 1, store.writes)
	assert.Equal(t, "new", store.value("alpha"))
	assert.Equal(t, entry.Revealed, e.Phase())
}
