package commands

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"

	"github.com/systmms/kvview/internal/auth"
	"github.com/systmms/kvview/internal/config"
	"github.com/systmms/kvview/internal/dispatch"
	"github.com/systmms/kvview/internal/entry"
	kverrors "github.com/systmms/kvview/internal/errors"
	"github.com/systmms/kvview/internal/keyvault"
	"github.com/systmms/kvview/internal/logging"
	"github.com/systmms/kvview/internal/orchestrator"
)

// Identity is the identity provider plus the token cache behind it, if any.
type Identity struct {
	Provider auth.IdentityProvider
	Cache    *auth.KeyringCache
}

// Factory builds the collaborators a command needs. Tests swap it out.
type Factory struct {
	NewIdentity func(def *config.Definition, logger *logging.Logger) (Identity, error)
	NewStore    func(def *config.Definition, cred azcore.TokenCredential, logger *logging.Logger) (orchestrator.Store, error)
}

// DefaultFactory wires MSAL, the OS keyring and azsecrets.
func DefaultFactory() Factory {
	return Factory{
		NewIdentity: newIdentity,
		NewStore:    newStore,
	}
}

func newIdentity(def *config.Definition, logger *logging.Logger) (Identity, error) {
	switch def.Auth.Mode {
	case config.AuthModeCLI, config.AuthModeDefault:
		cred, err := auth.NewAzureCredential(def.Auth.Mode, def.Auth.TenantID)
		if err != nil {
			return Identity{}, err
		}
		label := "azure-cli"
		if def.Auth.Mode == config.AuthModeDefault {
			label = "default-azure-credential"
		}
		return Identity{Provider: auth.NewCredentialProvider(cred, label)}, nil
	}

	var tokenCache *auth.KeyringCache
	msalCfg := auth.MSALConfig{
		ClientID:    def.Auth.ClientID,
		Authority:   def.Auth.Authority(),
		RedirectURI: def.Auth.RedirectURI,
	}
	if !def.Auth.TokenCache.Disabled {
		tokenCache = auth.NewKeyringCache(auth.SystemKeyring{}, def.Auth.TokenCache.Service, def.Auth.TokenCache.Account, logger)
		msalCfg.Cache = tokenCache
	}

	provider, err := auth.NewMSALProvider(msalCfg)
	if err != nil {
		return Identity{}, kverrors.UserError{
			Message:    "Failed to initialize Microsoft sign-in",
			Details:    err.Error(),
			Suggestion: "Check auth.client_id and auth.tenant_id in kvview.yaml",
			Err:        err,
		}
	}
	return Identity{Provider: provider, Cache: tokenCache}, nil
}

func newStore(def *config.Definition, cred azcore.TokenCredential, logger *logging.Logger) (orchestrator.Store, error) {
	client, err := keyvault.NewForVault(def.Vault.URL, cred,
		keyvault.WithLogger(logger),
		keyvault.WithTimeout(def.Vault.Timeout()),
	)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// app is one command's runtime: a session and, when a vault is configured,
// the orchestrator over it.
type app struct {
	cfg      *config.Config
	identity Identity
	loop     *dispatch.Loop
	session  *auth.Session
	store    orchestrator.Store
	orch     *orchestrator.Orchestrator
}

// openApp loads configuration and builds the runtime. withVault also
// validates the vault URL and creates the orchestrator.
func openApp(cfg *config.Config, f Factory, withVault bool) (*app, error) {
	if err := cfg.Load(); err != nil {
		return nil, err
	}
	def := cfg.Definition
	if err := def.Validate(); err != nil {
		return nil, err
	}
	if withVault {
		if err := def.ValidateVault(); err != nil {
			return nil, err
		}
	}

	identity, err := f.NewIdentity(def, cfg.Logger)
	if err != nil {
		return nil, err
	}

	loop := dispatch.New(0)
	a := &app{
		cfg:      cfg,
		identity: identity,
		loop:     loop,
		session: auth.NewSession(identity.Provider,
			auth.WithLoop(loop),
			auth.WithScopes(def.Auth.Scopes),
			auth.WithLogger(cfg.Logger),
		),
	}
	if !withVault {
		return a, nil
	}

	store, err := f.NewStore(def, auth.NewBridge(a.session, nil), cfg.Logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	strategy, err := orchestrator.ParseStrategy(def.Browse.RefreshStrategy)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.store = store
	a.orch = orchestrator.New(a.session, store, loop,
		orchestrator.WithStrategy(strategy),
		orchestrator.WithLogger(cfg.Logger),
	)
	return a, nil
}

// initialize signs in and loads the secret list.
func (a *app) initialize(ctx context.Context) error {
	if err := a.orch.Initialize(ctx); err != nil {
		return kverrors.SimplifyError(err)
	}
	return nil
}

// entryByName finds a listed secret.
func (a *app) entryByName(name string) (*entry.Controller, error) {
	e, ok := a.orch.Entry(name)
	if !ok {
		return nil, kverrors.UserError{
			Message:    fmt.Sprintf("Secret not found: %s", name),
			Suggestion: "Run 'kvview list' to see the secrets in this vault",
		}
	}
	return e, nil
}

func (a *app) Close() {
	if a.orch != nil {
		a.orch.Close()
	}
	a.loop.Close()
}
