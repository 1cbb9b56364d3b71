// Package keyvault is the boundary to Azure Key Vault. It lists secret
// metadata, reads one value at a time and upserts values; it never fetches
// values in bulk.
package keyvault

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"

	kverrors "github.com/systmms/kvview/internal/errors"
	"github.com/systmms/kvview/internal/logging"
	"github.com/systmms/kvview/internal/metrics"
)

// API is the subset of *azsecrets.Client used here, so tests can fake it.
type API interface {
	NewListSecretPropertiesPager(options *azsecrets.ListSecretPropertiesOptions) *runtime.Pager[azsecrets.ListSecretPropertiesResponse]
	GetSecret(ctx context.Context, name string, version string, options *azsecrets.GetSecretOptions) (azsecrets.GetSecretResponse, error)
	SetSecret(ctx context.Context, name string, parameters azsecrets.SetSecretParameters, options *azsecrets.SetSecretOptions) (azsecrets.SetSecretResponse, error)
}

// SecretDescriptor is secret metadata from a list call. It never carries
// the value.
type SecretDescriptor struct {
	Name        string
	ContentType *string
	Enabled     *bool
	UpdatedAt   *time.Time
	NotBefore   *time.Time
	ExpiresAt   *time.Time
	Tags        map[string]string
}

// Store is what callers of this package depend on.
type Store interface {
	ListSecrets(ctx context.Context) ([]SecretDescriptor, error)
	GetSecretValue(ctx context.Context, name string) (value string, found bool, err error)
	SetSecretValue(ctx context.Context, name, value, contentType string) (version string, err error)
}

// Client talks to one vault.
type Client struct {
	api     API
	logger  *logging.Logger
	timeout time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithTimeout bounds each call. Zero means no extra bound.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// New wraps an existing API implementation.
func New(api API, opts ...Option) *Client {
	c := &Client{api: api, logger: logging.Discard()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewForVault creates an azsecrets client for vaultURL authorized by cred.
func NewForVault(vaultURL string, cred azcore.TokenCredential, opts ...Option) (*Client, error) {
	api, err := azsecrets.NewClient(vaultURL, cred, nil)
	if err != nil {
		return nil, kverrors.UserError{
			Message:    "Failed to create Azure Key Vault client",
			Details:    err.Error(),
			Suggestion: "Check the vault URL format: https://vault-name.vault.azure.net/",
			Err:        err,
		}
	}
	return New(api, opts...), nil
}

// ListSecrets drains the list pager into descriptors, in vault order.
func (c *Client) ListSecrets(ctx context.Context) (out []SecretDescriptor, err error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()
	defer c.observe("list", time.Now(), &err)

	pager := c.api.NewListSecretPropertiesPager(nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, kverrors.NewStoreError("list", "", err)
		}
		for _, props := range page.Value {
			if d, ok := descriptorFrom(props); ok {
				out = append(out, d)
			}
		}
	}

	c.logger.Debug("Listed %d secrets", len(out))
	return out, nil
}

// GetSecretValue reads the current version of name. A secret that does not
// exist is reported as found == false with a nil error.
func (c *Client) GetSecretValue(ctx context.Context, name string) (value string, found bool, err error) {
	if strings.TrimSpace(name) == "" {
		return "", false, fmt.Errorf("%w: secret name is empty", kverrors.ErrInvalidArgument)
	}

	ctx, cancel := c.bound(ctx)
	defer cancel()
	start := time.Now()

	resp, err := c.api.GetSecret(ctx, name, "", nil)
	if err != nil && kverrors.IsNotFound(err) {
		metrics.ObserveStoreRequest("get", metrics.OutcomeNotFound, time.Since(start))
		c.logger.Debug("Secret %s not found", name)
		return "", false, nil
	}
	if err != nil {
		err = kverrors.NewStoreError("get", name, err)
	}
	c.observe("get", start, &err)
	if err != nil {
		return "", false, err
	}

	c.logger.Debug("Read secret %s", name)
	return deref(resp.Value), true, nil
}

// SetSecretValue writes a new version of name and returns its version id.
func (c *Client) SetSecretValue(ctx context.Context, name, value, contentType string) (version string, err error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("%w: secret name is empty", kverrors.ErrInvalidArgument)
	}

	ctx, cancel := c.bound(ctx)
	defer cancel()
	defer c.observe("set", time.Now(), &err)

	params := azsecrets.SetSecretParameters{Value: &value}
	if contentType != "" {
		params.ContentType = &contentType
	}

	resp, err := c.api.SetSecret(ctx, name, params, nil)
	if err != nil {
		return "", kverrors.NewStoreError("set", name, err)
	}
	if resp.ID != nil {
		version = resp.ID.Version()
	}

	c.logger.Debug("Wrote secret %s version %s", name, version)
	return version, nil
}

func (c *Client) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

func (c *Client) observe(op string, start time.Time, err *error) {
	outcome := metrics.OutcomeOK
	if *err != nil {
		outcome = metrics.OutcomeFromError(*err)
		if errors.Is(*err, kverrors.ErrAuthenticationUnavailable) {
			outcome = metrics.OutcomeUnavailable
		}
	}
	metrics.ObserveStoreRequest(op, outcome, time.Since(start))
}

func descriptorFrom(props *azsecrets.SecretProperties) (SecretDescriptor, bool) {
	if props == nil || props.ID == nil || props.ID.Name() == "" {
		return SecretDescriptor{}, false
	}

	d := SecretDescriptor{
		Name:        props.ID.Name(),
		ContentType: props.ContentType,
	}
	if a := props.Attributes; a != nil {
		d.Enabled = a.Enabled
		d.UpdatedAt = a.Updated
		d.NotBefore = a.NotBefore
		d.ExpiresAt = a.Expires
	}
	if len(props.Tags) > 0 {
		d.Tags = make(map[string]string, len(props.Tags))
		for k, v := range props.Tags {
			d.Tags[k] = deref(v)
		}
	}
	return d, true
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

var (
	_ Store = (*Client)(nil)
	_ API   = (*azsecrets.Client)(nil)
)
