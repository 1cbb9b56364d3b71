package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	kverrors "github.com/systmms/kvview/internal/errors"
	"github.com/systmms/kvview/internal/logging"
)

//go:embed schema.json
var schemaJSON string

// Defaults applied before the file and the environment are read.
const (
	DefaultPath            = "kvview.yaml"
	DefaultClientID        = "04b07795-8ddb-461a-bbee-02f9e1bf7b46" // Azure CLI public client
	DefaultTenantID        = "common"
	DefaultRedirectURI     = "http://localhost"
	DefaultKeyringService  = "com.kvview.tokencache"
	DefaultKeyringAccount  = "msal"
	DefaultTimeoutMs       = 30000
	DefaultRefreshStrategy = "replace"
)

// Auth modes.
const (
	AuthModeInteractive = "interactive"
	AuthModeCLI         = "cli"
	AuthModeDefault     = "default"
)

// DefaultScopes is requested at sign-in.
var DefaultScopes = []string{"User.Read"}

// Environment variables that override the file.
const (
	EnvClientID = "AZURE_AD_CLIENT_ID"
	EnvTenantID = "AZURE_AD_TENANT_ID"
	EnvVaultURL = "KVVIEW_VAULT_URL"
	EnvAuthMode = "KVVIEW_AUTH_MODE"
)

// Config holds the runtime configuration
type Config struct {
	Path   string
	Logger *logging.Logger
	// Explicit is set when the path came from a flag; a missing file is then an error.
	Explicit   bool
	Definition *Definition
}

// Definition represents the kvview.yaml structure
type Definition struct {
	Version int          `yaml:"version" json:"version"`
	Vault   VaultConfig  `yaml:"vault" json:"vault"`
	Auth    AuthConfig   `yaml:"auth" json:"auth"`
	Browse  BrowseConfig `yaml:"browse" json:"browse"`
}

// VaultConfig locates the Key Vault.
type VaultConfig struct {
	URL       string `yaml:"url,omitempty" json:"url,omitempty"`
	TimeoutMs int    `yaml:"timeout_ms,omitempty" json:"timeout_ms,omitempty"`
}

// AuthConfig holds identity provider parameters.
type AuthConfig struct {
	Mode        string           `yaml:"mode,omitempty" json:"mode,omitempty"`
	ClientID    string           `yaml:"client_id,omitempty" json:"client_id,omitempty"`
	TenantID    string           `yaml:"tenant_id,omitempty" json:"tenant_id,omitempty"`
	RedirectURI string           `yaml:"redirect_uri,omitempty" json:"redirect_uri,omitempty"`
	Scopes      []string         `yaml:"scopes,omitempty" json:"scopes,omitempty"`
	TokenCache  TokenCacheConfig `yaml:"token_cache,omitempty" json:"token_cache,omitempty"`
}

// TokenCacheConfig controls where MSAL persists its cache.
type TokenCacheConfig struct {
	Disabled bool   `yaml:"disabled,omitempty" json:"disabled,omitempty"`
	Service  string `yaml:"service,omitempty" json:"service,omitempty"`
	Account  string `yaml:"account,omitempty" json:"account,omitempty"`
}

// BrowseConfig tunes the interactive shell.
type BrowseConfig struct {
	RefreshStrategy string `yaml:"refresh_strategy,omitempty" json:"refresh_strategy,omitempty"`
	MetricsAddr     string `yaml:"metrics_addr,omitempty" json:"metrics_addr,omitempty"`
}

// Default returns a definition with every default filled in.
func Default() *Definition {
	def := &Definition{}
	def.applyDefaults()
	return def
}

// Load reads the file (if any), validates it against the schema, then
// applies environment overrides and defaults.
func (c *Config) Load() error {
	return c.LoadWithEnv(os.Getenv)
}

// LoadWithEnv is Load with an injectable environment lookup.
func (c *Config) LoadWithEnv(getenv func(string) string) error {
	def := &Definition{}

	path := c.Path
	if path == "" {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := Parse(data, def); err != nil {
			return err
		}
	case os.IsNotExist(err):
		if c.Explicit {
			return kverrors.ConfigError{
				Field:      "path",
				Value:      path,
				Message:    "configuration file not found",
				Suggestion: "Create the file or drop --config to rely on environment variables",
			}
		}
	default:
		return kverrors.UserError{
			Message:    "Failed to read configuration file",
			Details:    err.Error(),
			Suggestion: "Check file permissions and path",
			Err:        err,
		}
	}

	def.applyEnv(getenv)
	def.applyDefaults()

	c.Definition = def
	return nil
}

// Parse decodes YAML into def after validating it against the embedded schema.
func Parse(data []byte, def *Definition) error {
	var raw interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return kverrors.ConfigError{
			Message:    "invalid YAML syntax in configuration file",
			Suggestion: "Check for indentation errors, missing quotes, or invalid characters",
		}
	}
	if raw != nil {
		if err := validateSchema(raw); err != nil {
			return err
		}
	}
	if err := yaml.Unmarshal(data, def); err != nil {
		return kverrors.ConfigError{
			Message:    fmt.Sprintf("could not decode configuration: %v", err),
			Suggestion: "Compare the file against the documented kvview.yaml layout",
		}
	}
	return nil
}

func validateSchema(raw interface{}) error {
	jsonData, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("failed to marshal config for validation: %w", err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(schemaJSON),
		gojsonschema.NewBytesLoader(jsonData),
	)
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if result.Valid() {
		return nil
	}

	var messages []string
	for _, desc := range result.Errors() {
		messages = append(messages, desc.String())
	}
	return kverrors.ConfigError{
		Field:      result.Errors()[0].Field(),
		Message:    "schema validation failed:\n  - " + strings.Join(messages, "\n  - "),
		Suggestion: "Remove unknown keys and check value types",
	}
}

func (d *Definition) applyEnv(getenv func(string) string) {
	if v := getenv(EnvClientID); v != "" {
		d.Auth.ClientID = v
	}
	if v := getenv(EnvTenantID); v != "" {
		d.Auth.TenantID = v
	}
	if v := getenv(EnvVaultURL); v != "" {
		d.Vault.URL = v
	}
	if v := getenv(EnvAuthMode); v != "" {
		d.Auth.Mode = v
	}
}

func (d *Definition) applyDefaults() {
	if d.Auth.Mode == "" {
		d.Auth.Mode = AuthModeInteractive
	}
	if d.Auth.ClientID == "" {
		d.Auth.ClientID = DefaultClientID
	}
	if d.Auth.TenantID == "" {
		d.Auth.TenantID = DefaultTenantID
	}
	if d.Auth.RedirectURI == "" {
		d.Auth.RedirectURI = DefaultRedirectURI
	}
	if len(d.Auth.Scopes) == 0 {
		d.Auth.Scopes = append([]string(nil), DefaultScopes...)
	}
	if d.Auth.TokenCache.Service == "" {
		d.Auth.TokenCache.Service = DefaultKeyringService
	}
	if d.Auth.TokenCache.Account == "" {
		d.Auth.TokenCache.Account = DefaultKeyringAccount
	}
	if d.Vault.TimeoutMs <= 0 {
		d.Vault.TimeoutMs = DefaultTimeoutMs
	}
	if d.Browse.RefreshStrategy == "" {
		d.Browse.RefreshStrategy = DefaultRefreshStrategy
	}
}

// Timeout returns the per-call vault timeout.
func (v VaultConfig) Timeout() time.Duration {
	return time.Duration(v.TimeoutMs) * time.Millisecond
}

// Authority is the Entra ID authority URL for the configured tenant.
func (a AuthConfig) Authority() string {
	return "https://login.microsoftonline.com/" + a.TenantID
}

// Validate checks the parts every command needs.
func (d *Definition) Validate() error {
	switch d.Auth.Mode {
	case AuthModeInteractive, AuthModeCLI, AuthModeDefault:
	default:
		return kverrors.ConfigError{
			Field:      "auth.mode",
			Value:      d.Auth.Mode,
			Message:    "unknown authentication mode",
			Suggestion: "Use one of: interactive, cli, default",
		}
	}
	if d.Auth.Mode == AuthModeInteractive && d.Auth.ClientID == "" {
		return kverrors.ConfigError{
			Field:      "auth.client_id",
			Message:    "client_id is required for interactive sign-in",
			Suggestion: fmt.Sprintf("Set auth.client_id or export %s", EnvClientID),
		}
	}
	return nil
}

// ValidateVault checks that a usable vault URL is configured.
func (d *Definition) ValidateVault() error {
	if d.Vault.URL == "" {
		return kverrors.ConfigError{
			Field:      "vault.url",
			Message:    "vault URL is required",
			Suggestion: fmt.Sprintf("Set vault.url in kvview.yaml or export %s=https://my-vault.vault.azure.net/", EnvVaultURL),
		}
	}
	u, err := url.Parse(d.Vault.URL)
	if err != nil || u.Scheme != "https" || u.Host == "" {
		return kverrors.ConfigError{
			Field:      "vault.url",
			Value:      d.Vault.URL,
			Message:    "invalid vault URL",
			Suggestion: "Use format: https://vault-name.vault.azure.net/",
		}
	}
	return nil
}
