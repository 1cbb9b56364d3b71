// Package orchestrator wires the session, the vault client and the
// per-secret entries together and owns the write-mode flag.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/systmms/kvview/internal/auth"
	"github.com/systmms/kvview/internal/dispatch"
	"github.com/systmms/kvview/internal/entry"
	kverrors "github.com/systmms/kvview/internal/errors"
	"github.com/systmms/kvview/internal/keyvault"
	"github.com/systmms/kvview/internal/logging"
	"github.com/systmms/kvview/internal/observe"
)

// ErrRefreshInProgress is returned by RefreshSecrets while another refresh
// has not committed yet. Nothing was loaded by the rejected call.
var ErrRefreshInProgress = errors.New("a refresh is already in progress")

// Strategy decides how a refresh merges into the current entries.
type Strategy int

const (
	// StrategyReplace rebuilds every entry on each refresh.
	StrategyReplace Strategy = iota
	// StrategyReconcile keeps entries whose secret is unchanged, drops
	// removed ones and adds new ones Masked.
	StrategyReconcile
)

// ParseStrategy maps a config value to a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch s {
	case "", "replace":
		return StrategyReplace, nil
	case "reconcile":
		return StrategyReconcile, nil
	default:
		return StrategyReplace, fmt.Errorf("%w: unknown refresh strategy %q", kverrors.ErrInvalidArgument, s)
	}
}

func (s Strategy) String() string {
	if s == StrategyReconcile {
		return "reconcile"
	}
	return "replace"
}

// Session is the part of auth.Session the orchestrator drives.
type Session interface {
	SignIn(ctx context.Context) bool
	SignOut(ctx context.Context)
	IsAuthenticated() bool
	AccountLabel() (string, bool)
	Subscribe(fn func(auth.AuthenticationEvent)) (unsubscribe func())
}

// Store is the vault surface the orchestrator and its entries use.
type Store interface {
	entry.Store
	ListSecrets(ctx context.Context) ([]keyvault.SecretDescriptor, error)
}

// Commands is which user actions are currently available.
type Commands struct {
	CanSignIn          bool
	CanSignOut         bool
	CanRefresh         bool
	CanToggleWriteMode bool
}

// Orchestrator is the top-level coordinator.
type Orchestrator struct {
	session  Session
	store    Store
	loop     *dispatch.Loop
	strategy Strategy
	logger   *logging.Logger

	unsubscribe func()

	mu         sync.RWMutex
	writeMode  bool
	entries    []*entry.Controller
	refreshing bool
	commands   Commands
	lastErr    error
	closed     bool

	commandObservers observe.List[Commands]
	entryObservers   observe.List[[]*entry.Controller]
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithStrategy sets the refresh strategy.
func WithStrategy(s Strategy) Option {
	return func(o *Orchestrator) { o.strategy = s }
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// New creates an orchestrator. loop must be the loop the session commits
// on, so every notification shares one context.
func New(session Session, store Store, loop *dispatch.Loop, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		session: session,
		store:   store,
		loop:    loop,
		logger:  logging.Discard(),
	}
	for _, opt := range opts {
		opt(o)
	}

	o.run(func() { o.recomputeCommands() })
	o.unsubscribe = session.Subscribe(o.onAuthenticationEvent)
	return o
}

// Initialize signs in if needed and, once signed in, loads the secret list.
// It is the only place sign-in happens without the user asking.
func (o *Orchestrator) Initialize(ctx context.Context) error {
	if !o.session.IsAuthenticated() && !o.session.SignIn(ctx) {
		return fmt.Errorf("%w: sign-in did not complete", kverrors.ErrAuthenticationUnavailable)
	}
	return o.RefreshSecrets(ctx)
}

// SignIn signs in and refreshes on success.
func (o *Orchestrator) SignIn(ctx context.Context) bool {
	if !o.session.SignIn(ctx) {
		return false
	}
	if err := o.RefreshSecrets(ctx); err != nil {
		o.logger.Warn("Signed in, but loading secrets failed: %v", err)
	}
	return true
}

// SignOut signs out and drops every entry; their values are wiped.
func (o *Orchestrator) SignOut(ctx context.Context) {
	o.session.SignOut(ctx)
	o.run(func() {
		o.mu.Lock()
		old := o.entries
		o.entries = nil
		o.lastErr = nil
		o.mu.Unlock()

		closeAll(old)
		o.entryObservers.Notify(nil)
	})
}

// RefreshSecrets reloads the secret list. On failure the current entries
// are left exactly as they were and the error is returned. A call made
// while another refresh is running returns ErrRefreshInProgress.
func (o *Orchestrator) RefreshSecrets(ctx context.Context) error {
	if !o.session.IsAuthenticated() {
		return fmt.Errorf("%w: sign in before refreshing", kverrors.ErrAuthenticationUnavailable)
	}

	var busy bool
	o.run(func() {
		o.mu.Lock()
		busy = o.refreshing
		o.refreshing = true
		o.mu.Unlock()
		o.recomputeCommands()
	})
	if busy {
		return ErrRefreshInProgress
	}

	descriptors, listErr := o.store.ListSecrets(ctx)
	if listErr == nil {
		sort.Slice(descriptors, func(i, j int) bool {
			return descriptors[i].Name < descriptors[j].Name
		})
	}

	var commitErr error
	o.run(func() {
		o.mu.Lock()
		o.refreshing = false
		current := o.entries
		o.mu.Unlock()

		switch {
		case listErr != nil:
			o.mu.Lock()
			o.lastErr = listErr
			o.mu.Unlock()
			o.recomputeCommands()
			return
		case !o.session.IsAuthenticated():
			// Signed out while the list was in flight.
			commitErr = fmt.Errorf("%w: signed out during refresh", kverrors.ErrAuthenticationUnavailable)
			o.recomputeCommands()
			return
		}

		// The collection only changes on the loop, so current is still live.
		next, dropped := o.merge(current, descriptors)

		o.mu.Lock()
		o.entries = next
		o.lastErr = nil
		o.mu.Unlock()

		closeAll(dropped)
		o.recomputeCommands()
		o.entryObservers.Notify(append([]*entry.Controller(nil), next...))
	})

	if listErr != nil {
		o.logger.Debug("Refresh failed: %v", listErr)
		return listErr
	}
	if commitErr != nil {
		return commitErr
	}
	o.logger.Debug("Loaded %d secrets (%s)", len(descriptors), o.strategy)
	return nil
}

// merge builds the next entry list from current. It returns the
// controllers that are no longer referenced. Runs on the dispatch loop
// without o.mu held; new entries evaluate the guard, which reads it.
func (o *Orchestrator) merge(current []*entry.Controller, descriptors []keyvault.SecretDescriptor) (next, dropped []*entry.Controller) {
	existing := make(map[string]*entry.Controller, len(current))
	if o.strategy == StrategyReconcile {
		for _, e := range current {
			existing[e.Name()] = e
		}
	} else {
		dropped = current
	}

	next = make([]*entry.Controller, 0, len(descriptors))
	for _, d := range descriptors {
		if e, ok := existing[d.Name]; ok && sameVersion(e.Descriptor(), d) {
			next = append(next, e)
			delete(existing, d.Name)
			continue
		}
		next = append(next, entry.New(d, o.store, o.loop,
			entry.WithGuard(o.canEdit),
			entry.WithLogger(o.logger),
		))
	}
	for _, e := range existing {
		dropped = append(dropped, e)
	}
	return next, dropped
}

// SetWriteMode flips the write-mode flag and re-evaluates every entry's
// edit guard.
func (o *Orchestrator) SetWriteMode(enabled bool) {
	o.run(func() {
		o.mu.Lock()
		o.writeMode = enabled
		entries := append([]*entry.Controller(nil), o.entries...)
		o.mu.Unlock()

		for _, e := range entries {
			e.Recompute()
		}
		o.recomputeCommands()
	})
	o.logger.Debug("Write mode %v", enabled)
}

// WriteMode reports the write-mode flag.
func (o *Orchestrator) WriteMode() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.writeMode
}

// Entries returns the current entries, sorted by name.
func (o *Orchestrator) Entries() []*entry.Controller {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return append([]*entry.Controller(nil), o.entries...)
}

// Entry finds an entry by secret name.
func (o *Orchestrator) Entry(name string) (*entry.Controller, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	i := sort.Search(len(o.entries), func(i int) bool { return o.entries[i].Name() >= name })
	if i < len(o.entries) && o.entries[i].Name() == name {
		return o.entries[i], true
	}
	return nil, false
}

// Commands returns the current command availability.
func (o *Orchestrator) Commands() Commands {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.commands
}

// LastError is the most recent refresh failure, cleared by a successful refresh.
func (o *Orchestrator) LastError() error {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.lastErr
}

// AccountLabel is the signed-in user's display name.
func (o *Orchestrator) AccountLabel() (string, bool) {
	return o.session.AccountLabel()
}

// IsAuthenticated reports whether the session holds an identity.
func (o *Orchestrator) IsAuthenticated() bool {
	return o.session.IsAuthenticated()
}

// SubscribeCommands registers fn for command availability changes.
func (o *Orchestrator) SubscribeCommands(fn func(Commands)) (unsubscribe func()) {
	return o.commandObservers.Subscribe(fn)
}

// SubscribeEntries registers fn for every change of the entry collection.
func (o *Orchestrator) SubscribeEntries(fn func([]*entry.Controller)) (unsubscribe func()) {
	return o.entryObservers.Subscribe(fn)
}

// Close stops listening to the session and wipes every entry.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	entries := o.entries
	o.entries = nil
	o.mu.Unlock()

	o.unsubscribe()
	closeAll(entries)
}

// onAuthenticationEvent runs on the dispatch loop.
func (o *Orchestrator) onAuthenticationEvent(auth.AuthenticationEvent) {
	for _, e := range o.Entries() {
		e.Recompute()
	}
	o.recomputeCommands()
}

func (o *Orchestrator) canEdit() bool {
	return o.WriteMode() && o.session.IsAuthenticated()
}

// recomputeCommands runs on the dispatch loop.
func (o *Orchestrator) recomputeCommands() {
	authenticated := o.session.IsAuthenticated()

	o.mu.Lock()
	next := Commands{
		CanSignIn:          !authenticated,
		CanSignOut:         authenticated,
		CanRefresh:         authenticated && !o.refreshing,
		CanToggleWriteMode: authenticated,
	}
	changed := next != o.commands
	o.commands = next
	o.mu.Unlock()

	if changed {
		o.commandObservers.Notify(next)
	}
}

func (o *Orchestrator) run(fn func()) {
	if !o.loop.Do(fn) {
		fn()
	}
}

func sameVersion(a, b keyvault.SecretDescriptor) bool {
	switch {
	case a.UpdatedAt == nil && b.UpdatedAt == nil:
		return true
	case a.UpdatedAt == nil || b.UpdatedAt == nil:
		return false
	default:
		return a.UpdatedAt.Equal(*b.UpdatedAt)
	}
}

func closeAll(entries []*entry.Controller) {
	for _, e := range entries {
		e.Close()
	}
}
