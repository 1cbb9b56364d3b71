package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kverrors "github.com/systmms/kvview/internal/errors"
	"github.com/systmms/kvview/internal/logging"
)

func noEnv(string) string { return "" }

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kvview.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestLoad_FullFile(t *testing.T) {
	path := writeConfig(t, `
version: 0
vault:
  url: https://team.vault.azure.net/
  timeout_ms: 5000
auth:
  mode: interactive
  client_id: 11111111-2222-3333-4444-555555555555
  tenant_id: contoso.onmicrosoft.com
  scopes: [User.Read, offline_access]
  token_cache:
    service: test.cache
    account: me
browse:
  refresh_strategy: reconcile
  metrics_addr: 127.0.0.1:9464
`)
	cfg := &Config{Path: path, Logger: logging.Discard()}
	require.NoError(t, cfg.LoadWithEnv(noEnv))

	def := cfg.Definition
	assert.Equal(t, "https://team.vault.azure.net/", def.Vault.URL)
	assert.Equal(t, 5*time.Second, def.Vault.Timeout())
	assert.Equal(t, "11111111-2222-3333-4444-555555555555", def.Auth.ClientID)
	assert.Equal(t, "https://login.microsoftonline.com/contoso.onmicrosoft.com", def.Auth.Authority())
	assert.Equal(t, []string{"User.Read", "offline_access"}, def.Auth.Scopes)
	assert.Equal(t, "test.cache", def.Auth.TokenCache.Service)
	assert.Equal(t, "me", def.Auth.TokenCache.Account)
	assert.Equal(t, "reconcile", def.Browse.RefreshStrategy)
	assert.Equal(t, "127.0.0.1:9464", def.Browse.MetricsAddr)
	assert.NoError(t, def.Validate())
	assert.NoError(t, def.ValidateVault())
}

func TestLoad_MissingDefaultFileUsesDefaults(t *testing.T) {
	cfg := &Config{Path: filepath.Join(t.TempDir(), "absent.yaml")}
	require.NoError(t, cfg.LoadWithEnv(noEnv))

	def := cfg.Definition
	assert.Equal(t, AuthModeInteractive, def.Auth.Mode)
	assert.Equal(t, DefaultClientID, def.Auth.ClientID)
	assert.Equal(t, DefaultTenantID, def.Auth.TenantID)
	assert.Equal(t, DefaultScopes, def.Auth.Scopes)
	assert.Equal(t, DefaultKeyringService, def.Auth.TokenCache.Service)
	assert.Equal(t, DefaultKeyringAccount, def.Auth.TokenCache.Account)
	assert.Equal(t, 30*time.Second, def.Vault.Timeout())
	assert.Equal(t, DefaultRefreshStrategy, def.Browse.RefreshStrategy)
}

func TestLoad_MissingExplicitFileFails(t *testing.T) {
	cfg := &Config{Path: filepath.Join(t.TempDir(), "absent.yaml"), Explicit: true}
	err := cfg.LoadWithEnv(noEnv)

	var cfgErr kverrors.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "path", cfgErr.Field)
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	path := writeConfig(t, `
vault:
  url: https://file.vault.azure.net/
auth:
  tenant_id: from-file
`)
	cfg := &Config{Path: path}
	require.NoError(t, cfg.LoadWithEnv(envMap(map[string]string{
		EnvVaultURL: "https://env.vault.azure.net/",
		EnvTenantID: "from-env",
		EnvClientID: "env-client",
		EnvAuthMode: AuthModeCLI,
	})))

	def := cfg.Definition
	assert.Equal(t, "https://env.vault.azure.net/", def.Vault.URL)
	assert.Equal(t, "from-env", def.Auth.TenantID)
	assert.Equal(t, "env-client", def.Auth.ClientID)
	assert.Equal(t, AuthModeCLI, def.Auth.Mode)
}

func TestLoad_SchemaViolations(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown top-level key", "providers: {}\n"},
		{"unknown auth mode", "auth:\n  mode: device-code\n"},
		{"plain http vault", "vault:\n  url: http://insecure.example\n"},
		{"bad strategy", "browse:\n  refresh_strategy: merge\n"},
		{"negative timeout", "vault:\n  timeout_ms: -1\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Path: writeConfig(t, tt.body)}
			err := cfg.LoadWithEnv(noEnv)

			var cfgErr kverrors.ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Contains(t, cfgErr.Message, "schema validation failed")
		})
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	cfg := &Config{Path: writeConfig(t, "vault: [unclosed")}
	err := cfg.LoadWithEnv(noEnv)

	var cfgErr kverrors.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, cfgErr.Message, "invalid YAML")
}

func TestLoad_EmptyFile(t *testing.T) {
	cfg := &Config{Path: writeConfig(t, "")}
	require.NoError(t, cfg.LoadWithEnv(noEnv))
	assert.Equal(t, DefaultTenantID, cfg.Definition.Auth.TenantID)
}

func TestValidate(t *testing.T) {
	def := Default()
	assert.NoError(t, def.Validate())

	def.Auth.Mode = "magic"
	var cfgErr kverrors.ConfigError
	require.ErrorAs(t, def.Validate(), &cfgErr)
	assert.Equal(t, "auth.mode", cfgErr.Field)

	def = Default()
	def.Auth.ClientID = ""
	require.ErrorAs(t, def.Validate(), &cfgErr)
	assert.Equal(t, "auth.client_id", cfgErr.Field)
}

func TestValidateVault(t *testing.T) {
	tests := []struct {
		url     string
		wantErr bool
	}{
		{"https://team.vault.azure.net/", false},
		{"", true},
		{"http://team.vault.azure.net/", true},
		{"https://", true},
		{"::not a url", true},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			def := Default()
			def.Vault.URL = tt.url
			err := def.ValidateVault()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
