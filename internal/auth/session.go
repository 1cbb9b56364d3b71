package auth

import (
	"context"
	"errors"
	"sync"

	"github.com/systmms/kvview/internal/dispatch"
	"github.com/systmms/kvview/internal/logging"
	"github.com/systmms/kvview/internal/metrics"
	"github.com/systmms/kvview/internal/observe"
)

// DefaultScopes are requested by SignIn when no others are configured.
var DefaultScopes = []string{"User.Read"}

// Session tracks the signed-in identity.
//
// SignIn, SignOut and AcquireToken are serialized by an internal mutex so at
// most one provider round-trip is in flight. State changes and event
// dispatch run on the dispatch loop, so subscribers always observe events in
// the order they were raised and never concurrently.
type Session struct {
	provider IdentityProvider
	scopes   []string
	logger   *logging.Logger

	loop     *dispatch.Loop
	ownsLoop bool

	// op serializes provider round-trips.
	op sync.Mutex

	stateMu sync.RWMutex
	account *Account

	events observe.List[AuthenticationEvent]
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithScopes sets the scopes requested by SignIn.
func WithScopes(scopes []string) SessionOption {
	return func(s *Session) {
		if len(scopes) > 0 {
			s.scopes = append([]string(nil), scopes...)
		}
	}
}

// WithLoop makes the session commit state on loop instead of a private one.
func WithLoop(loop *dispatch.Loop) SessionOption {
	return func(s *Session) { s.loop = loop }
}

// WithLogger sets the logger used for provider fault detail.
func WithLogger(logger *logging.Logger) SessionOption {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSession creates a signed-out session over provider.
func NewSession(provider IdentityProvider, opts ...SessionOption) *Session {
	s := &Session{
		provider: provider,
		scopes:   append([]string(nil), DefaultScopes...),
		logger:   logging.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.loop == nil {
		s.loop = dispatch.New(0)
		s.ownsLoop = true
	}
	return s
}

// Close stops the session's private loop, if it created one.
func (s *Session) Close() {
	if s.ownsLoop {
		s.loop.Close()
	}
}

// IsAuthenticated reports whether an identity is held.
func (s *Session) IsAuthenticated() bool {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.account != nil
}

// AccountLabel returns the signed-in user's display name.
func (s *Session) AccountLabel() (string, bool) {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	if s.account == nil {
		return "", false
	}
	label := s.account.Username
	if label == "" {
		label = s.account.ID
	}
	return label, true
}

// Subscribe registers fn for every AuthenticationEvent. fn runs on the
// dispatch loop and must not block on it.
func (s *Session) Subscribe(fn func(AuthenticationEvent)) (unsubscribe func()) {
	return s.events.Subscribe(fn)
}

// SignIn tries the cached identity silently and falls back to one
// interactive prompt when the provider asks for interaction. Any other
// failure leaves the session signed out. It always raises exactly one event.
func (s *Session) SignIn(ctx context.Context) bool {
	s.op.Lock()
	defer s.op.Unlock()
	return s.signInLocked(ctx)
}

func (s *Session) signInLocked(ctx context.Context) bool {
	result, err := s.acquire(ctx, s.scopes, s.cachedAccount(ctx))
	if err != nil {
		s.logger.Debug("Sign-in failed: %v", err)
		s.commit(nil, true)
		return false
	}

	acct := result.Account
	s.commit(&acct, true)
	s.logger.Debug("Signed in as %s", acct.Username)
	return true
}

// SignOut removes every cached identity, best effort, and clears the held
// one. It raises an event even when nobody was signed in.
func (s *Session) SignOut(ctx context.Context) {
	s.op.Lock()
	defer s.op.Unlock()

	accounts, err := s.provider.Accounts(ctx)
	if err != nil {
		s.logger.Debug("Listing cached accounts failed: %v", err)
	}
	for _, acct := range accounts {
		if err := s.provider.RemoveAccount(ctx, acct); err != nil {
			s.logger.Debug("Removing cached account %s failed: %v", acct.Username, err)
		}
	}

	s.commit(nil, true)
}

// AcquireToken returns an access token for scopes, signing in first if
// needed. It never returns an error; ok is false when no token could be
// produced right now.
func (s *Session) AcquireToken(ctx context.Context, scopes []string) (token string, ok bool) {
	s.op.Lock()
	defer s.op.Unlock()

	if !s.IsAuthenticated() && !s.signInLocked(ctx) {
		metrics.RecordTokenRequest(metrics.OutcomeUnavailable)
		return "", false
	}

	s.stateMu.RLock()
	var acct Account
	if s.account != nil {
		acct = *s.account
	}
	s.stateMu.RUnlock()

	result, err := s.acquire(ctx, scopes, acct)
	if err != nil {
		s.logger.Debug("Token acquisition failed: %v", err)
		metrics.RecordTokenRequest(metrics.OutcomeFromError(err))
		return "", false
	}

	if !result.Account.IsZero() {
		// The provider's view of the account is the freshest one, even
		// when only its display name changed.
		updated := result.Account
		s.commit(&updated, false)
	}
	metrics.RecordTokenRequest(metrics.OutcomeOK)
	return result.AccessToken, true
}

// acquire runs silent-then-interactive. A zero account skips the silent
// attempt, which could only fail with interaction required.
func (s *Session) acquire(ctx context.Context, scopes []string, acct Account) (AuthResult, error) {
	if !acct.IsZero() {
		result, err := s.provider.AcquireTokenSilent(ctx, scopes, acct)
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, ErrInteractionRequired) {
			return AuthResult{}, err
		}
		s.logger.Debug("Silent acquisition needs interaction: %v", err)
	}
	return s.provider.AcquireTokenInteractive(ctx, scopes)
}

func (s *Session) cachedAccount(ctx context.Context) Account {
	accounts, err := s.provider.Accounts(ctx)
	if err != nil {
		s.logger.Debug("Reading cached accounts failed: %v", err)
		return Account{}
	}
	if len(accounts) == 0 {
		return Account{}
	}
	return accounts[0]
}

// commit swaps the held identity on the dispatch loop and, when notify is
// set, raises the matching event from there.
func (s *Session) commit(acct *Account, notify bool) {
	apply := func() {
		s.stateMu.Lock()
		s.account = acct
		s.stateMu.Unlock()

		if notify {
			metrics.RecordAuthEvent(acct != nil)
			s.events.Notify(AuthenticationEvent{IsAuthenticated: acct != nil})
		}
	}
	if !s.loop.Do(apply) {
		// Loop already closed during shutdown.
		apply()
	}
}
