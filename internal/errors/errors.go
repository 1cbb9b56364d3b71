package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
)

// Error taxonomy shared by the auth bridge, the vault client and their callers.
// Not-found is deliberately absent: a missing secret is an empty result, not an error.
var (
	// ErrAuthenticationUnavailable means no usable token could be produced.
	ErrAuthenticationUnavailable = errors.New("authentication unavailable")
	// ErrStoreUnavailable means the vault was unreachable or returned an unexpected fault.
	ErrStoreUnavailable = errors.New("secret store unavailable")
	// ErrInvalidArgument is returned for malformed input such as an empty secret name.
	ErrInvalidArgument = errors.New("invalid argument")
)

// UserError represents an error that should be shown to the user with helpful context
type UserError struct {
	Message    string
	Suggestion string
	Details    string
	Err        error
}

func (e UserError) Error() string {
	var parts []string

	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}

	if e.Details != "" {
		parts = append(parts, "\n  Details: "+e.Details)
	}

	if e.Suggestion != "" {
		parts = append(parts, "\n  💡 Try: "+e.Suggestion)
	}

	return strings.Join(parts, "")
}

func (e UserError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration error with helpful context
type ConfigError struct {
	Field      string
	Value      interface{}
	Message    string
	Suggestion string
}

func (e ConfigError) Error() string {
	msg := "Configuration error"
	if e.Field != "" {
		msg += fmt.Sprintf(" in field '%s'", e.Field)
	}
	if e.Value != nil {
		msg += fmt.Sprintf(" (value: %v)", e.Value)
	}
	msg += ": " + e.Message

	if e.Suggestion != "" {
		msg += "\n  💡 " + e.Suggestion
	}

	return msg
}

// StoreError wraps a vault fault with the operation and secret it concerned.
// It always matches ErrStoreUnavailable with errors.Is.
type StoreError struct {
	Op         string // "list", "get", "set"
	Name       string
	StatusCode int
	Err        error
}

func (e *StoreError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "key vault %s", e.Op)
	if e.Name != "" {
		fmt.Fprintf(&b, " %q", e.Name)
	}
	b.WriteString(" failed")
	if e.StatusCode > 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is reports true for ErrStoreUnavailable so callers can test the kind
// without caring about the underlying SDK error.
func (e *StoreError) Is(target error) bool {
	return target == ErrStoreUnavailable
}

// NewStoreError classifies err from an azsecrets call. Cancellation and
// authentication failures keep their identity; everything else becomes a
// StoreError carrying the HTTP status when one is available.
func NewStoreError(op, name string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, ErrAuthenticationUnavailable) {
		return err
	}
	se := &StoreError{Op: op, Name: name, Err: err}
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		se.StatusCode = respErr.StatusCode
	}
	return se
}

// IsNotFound reports whether err is a vault 404.
func IsNotFound(err error) bool {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode == http.StatusNotFound || respErr.ErrorCode == "SecretNotFound"
	}
	return false
}

// IsCanceled reports whether err came from a cancelled or expired context.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// Suggestion returns a hint for an error raised while talking to Entra ID or Key Vault.
func Suggestion(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrAuthenticationUnavailable) {
		return "Run 'kvview login' to sign in, then retry"
	}
	if errors.Is(err, ErrInvalidArgument) {
		return "Secret names must be non-empty"
	}

	var se *StoreError
	if errors.As(err, &se) {
		switch se.StatusCode {
		case http.StatusUnauthorized:
			return "Check that your account is signed in to the tenant that owns the vault"
		case http.StatusForbidden:
			return "Check the vault's RBAC assignments: 'Key Vault Secrets User' to read, 'Key Vault Secrets Officer' to write"
		case http.StatusTooManyRequests:
			return "Request was throttled by Key Vault. Wait a moment and try again"
		}
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "tenant"):
		return "Check that the tenant ID is correct and the application is registered"
	case strings.Contains(errStr, "no such host") || strings.Contains(errStr, "connection refused"):
		return "Unable to connect. Check the vault URL and your network"
	case strings.Contains(errStr, "timeout"):
		return "The operation timed out. Check your network connection and try again"
	case strings.Contains(errStr, "keyring") || strings.Contains(errStr, "secret service"):
		return "The OS keyring is unavailable; tokens will not persist across runs"
	}
	return ""
}

// SimplifyError turns an internal error into something presentable on the terminal.
func SimplifyError(err error) error {
	if err == nil {
		return nil
	}

	switch err.(type) {
	case UserError, ConfigError:
		return err
	}

	switch {
	case errors.Is(err, ErrAuthenticationUnavailable):
		return UserError{Message: "Not signed in", Suggestion: Suggestion(err), Err: err}
	case errors.Is(err, ErrInvalidArgument):
		return UserError{Message: "Invalid argument", Details: err.Error(), Suggestion: Suggestion(err), Err: err}
	case errors.Is(err, ErrStoreUnavailable):
		return UserError{Message: "Key Vault operation did not complete", Details: err.Error(), Suggestion: Suggestion(err), Err: err}
	case IsCanceled(err):
		return UserError{Message: "Operation cancelled", Err: err}
	}

	errStr := err.Error()
	if strings.Contains(errStr, "yaml:") {
		return ConfigError{
			Message:    "Invalid YAML format",
			Suggestion: "Check for indentation errors and missing quotes",
		}
	}
	if strings.Contains(errStr, "permission denied") {
		return UserError{
			Message:    "Permission denied",
			Suggestion: "Check file permissions or run with appropriate privileges",
			Err:        err,
		}
	}

	return err
}
