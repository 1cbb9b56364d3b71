package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/AzureAD/microsoft-authentication-library-for-go/apps/cache"
	"github.com/zalando/go-keyring"

	"github.com/systmms/kvview/internal/logging"
)

// Keyring stores one string per service/account pair.
type Keyring interface {
	Get(service, account string) (string, error)
	Set(service, account, value string) error
	Delete(service, account string) error
}

// SystemKeyring is the OS credential store (Keychain, Secret Service,
// Windows Credential Manager) via go-keyring.
type SystemKeyring struct{}

// Get reads the item, returning keyring.ErrNotFound when absent.
func (SystemKeyring) Get(service, account string) (string, error) {
	return keyring.Get(service, account)
}

// Set writes the item.
func (SystemKeyring) Set(service, account, value string) error {
	return keyring.Set(service, account, value)
}

// Delete removes the item.
func (SystemKeyring) Delete(service, account string) error {
	return keyring.Delete(service, account)
}

// KeyringCache persists the serialized MSAL token cache in the OS keyring.
// A missing or unreadable item means an empty cache; the keyring being
// unavailable degrades to an in-memory cache instead of failing sign-in.
type KeyringCache struct {
	keyring Keyring
	service string
	account string
	logger  *logging.Logger

	warnOnce sync.Once
}

// NewKeyringCache creates a cache stored under service/account.
func NewKeyringCache(kr Keyring, service, account string, logger *logging.Logger) *KeyringCache {
	if kr == nil {
		kr = SystemKeyring{}
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &KeyringCache{
		keyring: kr,
		service: service,
		account: account,
		logger:  logger,
	}
}

// Replace loads the persisted cache into MSAL.
func (c *KeyringCache) Replace(ctx context.Context, u cache.Unmarshaler, _ cache.ReplaceHints) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := c.keyring.Get(c.service, c.account)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			c.logger.Debug("No token cache in keyring, starting empty")
			return nil
		}
		c.logger.Debug("Reading token cache from keyring failed: %v", err)
		return nil
	}

	if err := u.Unmarshal([]byte(data)); err != nil {
		c.logger.Debug("Token cache in keyring is corrupt, starting fresh: %v", err)
		return nil
	}
	return nil
}

// Export writes MSAL's cache to the keyring.
func (c *KeyringCache) Export(ctx context.Context, m cache.Marshaler, _ cache.ExportHints) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := m.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal MSAL cache: %w", err)
	}

	if err := c.keyring.Set(c.service, c.account, string(data)); err != nil {
		c.warnOnce.Do(func() {
			c.logger.Warn("Token cache could not be saved to the OS keyring, sign-in will not persist: %v", err)
		})
	}
	return nil
}

// Clear removes the persisted cache.
func (c *KeyringCache) Clear() error {
	err := c.keyring.Delete(c.service, c.account)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return err
	}
	return nil
}

// Stored reports whether a persisted cache exists.
func (c *KeyringCache) Stored() (bool, error) {
	_, err := c.keyring.Get(c.service, c.account)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, keyring.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

var _ cache.ExportReplace = (*KeyringCache)(nil)
