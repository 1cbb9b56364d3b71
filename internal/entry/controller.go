// Package entry holds the per-secret state machine: masking, lazy reveal,
// and edit/save gated by write mode and authentication.
//
// Every state change runs on the shared dispatch loop and observers are
// notified from there. Store calls run on the caller's goroutine.
package entry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/systmms/kvview/internal/dispatch"
	kverrors "github.com/systmms/kvview/internal/errors"
	"github.com/systmms/kvview/internal/keyvault"
	"github.com/systmms/kvview/internal/logging"
	"github.com/systmms/kvview/internal/observe"
	"github.com/systmms/kvview/internal/secure"
)

var (
	// ErrEditNotAllowed is returned by Edit when write mode is off or nobody
	// is signed in. The entry is left untouched.
	ErrEditNotAllowed = errors.New("editing is not allowed: enable write mode and sign in")
	// ErrSecretGone means the secret was deleted from the vault after it was listed.
	ErrSecretGone = errors.New("secret no longer exists in the vault")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("entry closed")
)

// Store is the slice of the vault client an entry needs.
type Store interface {
	GetSecretValue(ctx context.Context, name string) (string, bool, error)
	SetSecretValue(ctx context.Context, name, value, contentType string) (string, error)
}

// View is a snapshot of an entry for presentation.
type View struct {
	Name       string
	Descriptor keyvault.SecretDescriptor
	Phase      Phase
	// Display is the value when revealed or editing, Mask otherwise.
	Display string
	// Draft is the pending edit while Editing or Saving.
	Draft    string
	HasValue bool
	CanEdit  bool
	Version  string
	Err      error
}

// Controller owns one secret's local state.
type Controller struct {
	desc   keyvault.SecretDescriptor
	store  Store
	loop   *dispatch.Loop
	guard  func() bool
	logger *logging.Logger

	flight singleflight.Group

	mu      sync.RWMutex
	phase   Phase
	value   *secure.Buffer // nil until first fetch
	draft   *secure.Buffer
	canEdit bool
	version string
	lastErr error
	closed  bool

	observers observe.List[View]
}

// Option configures a Controller.
type Option func(*Controller)

// WithGuard sets the edit capability check, evaluated on the dispatch loop.
// Without one, editing is never allowed.
func WithGuard(guard func() bool) Option {
	return func(c *Controller) { c.guard = guard }
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a Masked entry for desc. Construct it on the dispatch loop or
// before it is shared.
func New(desc keyvault.SecretDescriptor, store Store, loop *dispatch.Loop, opts ...Option) *Controller {
	c := &Controller{
		desc:   desc,
		store:  store,
		loop:   loop,
		guard:  func() bool { return false },
		logger: logging.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.canEdit = c.guard()
	return c
}

// Name is the secret name.
func (c *Controller) Name() string {
	return c.desc.Name
}

// Descriptor is the metadata the entry was built from.
func (c *Controller) Descriptor() keyvault.SecretDescriptor {
	return c.desc
}

// Phase returns the current phase.
func (c *Controller) Phase() Phase {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.phase
}

// CanEdit is the last evaluated edit guard.
func (c *Controller) CanEdit() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.canEdit
}

// CanReveal reports whether Reveal would do anything.
func (c *Controller) CanReveal() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.closed && (c.phase == Masked || c.phase == Revealed || c.phase == Revealing)
}

// View returns a snapshot.
func (c *Controller) View() View {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.viewLocked()
}

// Subscribe registers fn for every state change. fn runs on the dispatch loop.
func (c *Controller) Subscribe(fn func(View)) (unsubscribe func()) {
	return c.observers.Subscribe(fn)
}

// Reveal toggles visibility. From Masked it fetches the value unless one is
// cached; from Revealed it masks again. A Reveal while a fetch is in flight
// waits for that fetch instead of starting another.
func (c *Controller) Reveal(ctx context.Context) error {
	var (
		fetch, join bool
		closed      bool
	)
	c.mutate(func() bool {
		if c.closed {
			closed = true
			return false
		}
		switch c.phase {
		case Revealed:
			c.phase = Masked
			return true
		case Masked:
			if c.value != nil {
				c.phase = Revealed
				return true
			}
			c.phase = Revealing
			c.lastErr = nil
			fetch = true
			return true
		case Revealing:
			join = true
		}
		return false
	})

	switch {
	case closed:
		return ErrClosed
	case join:
		_, err := c.load(ctx)
		return err
	case !fetch:
		return nil
	}

	value, err := c.load(ctx)
	return c.finishFetch(value, err, Revealed)
}

// Edit enters Editing, or saves when already Editing. It is a no-op
// returning ErrEditNotAllowed while the guard is false. Entering from Masked
// without a cached value fetches first; if the guard turns false during
// that fetch the entry stays Masked and ErrEditNotAllowed is returned.
func (c *Controller) Edit(ctx context.Context) error {
	var (
		fetch, save bool
		draft       string
		err         error
	)
	c.mutate(func() bool {
		if c.closed {
			err = ErrClosed
			return false
		}
		if !c.guard() {
			err = ErrEditNotAllowed
			return false
		}
		switch c.phase {
		case Masked, Revealed:
			if c.value == nil {
				c.phase = Revealing
				c.lastErr = nil
				fetch = true
				return true
			}
			err = c.beginEditLocked()
			return err == nil
		case Editing:
			draft, err = c.draft.Reveal()
			if err != nil {
				return false
			}
			c.phase = Saving
			c.lastErr = nil
			save = true
			return true
		}
		return false
	})

	switch {
	case err != nil:
		return err
	case fetch:
		value, err := c.load(ctx)
		return c.finishFetch(value, err, Editing)
	case save:
		return c.save(ctx, draft)
	}
	return nil
}

// SetDraft replaces the pending edit. It returns false unless Editing.
func (c *Controller) SetDraft(text string) bool {
	var ok bool
	c.mutate(func() bool {
		if c.closed || c.phase != Editing {
			return false
		}
		if c.draft != nil {
			c.draft.Destroy()
		}
		c.draft = secure.NewString(text)
		ok = true
		return true
	})
	return ok
}

// CancelEdit drops the draft and returns to Revealed.
func (c *Controller) CancelEdit() {
	c.mutate(func() bool {
		if c.closed || c.phase != Editing {
			return false
		}
		c.dropDraftLocked()
		c.phase = Revealed
		return true
	})
}

// Recompute re-evaluates the edit guard and notifies observers if it
// changed. It must be called from the dispatch loop.
func (c *Controller) Recompute() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	was := c.canEdit
	c.canEdit = c.guard()
	changed := was != c.canEdit
	view := c.viewLocked()
	c.mu.Unlock()

	if changed {
		c.observers.Notify(view)
	}
}

// Close wipes the cached value and draft. Later operations return
// ErrClosed and in-flight results are discarded. Safe to call from the
// dispatch loop.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	if c.value != nil {
		c.value.Destroy()
		c.value = nil
	}
	c.dropDraftLocked()
}

// load fetches the value, collapsing concurrent callers into one request.
// Each caller stops waiting when its own ctx is done; the fetch itself runs
// under the ctx of the caller that started it.
func (c *Controller) load(ctx context.Context) (string, error) {
	ch := c.flight.DoChan(c.desc.Name, func() (any, error) {
		value, found, err := c.store.GetSecretValue(ctx, c.desc.Name)
		if err != nil {
			return "", err
		}
		if !found {
			return "", ErrSecretGone
		}
		return value, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// finishFetch commits a fetch started from Masked. On failure the entry
// goes back to Masked; a cancelled fetch records no error.
func (c *Controller) finishFetch(value string, fetchErr error, target Phase) error {
	var err error
	c.mutate(func() bool {
		if c.closed || c.phase != Revealing {
			err = ErrClosed
			return false
		}
		if fetchErr != nil {
			c.phase = Masked
			if !kverrors.IsCanceled(fetchErr) {
				c.lastErr = fetchErr
			}
			return true
		}

		if c.value != nil {
			c.value.Destroy()
		}
		c.value = secure.NewString(value)
		c.phase = Revealed

		if target == Editing {
			c.canEdit = c.guard()
			if !c.canEdit {
				// Keep the fetched value cached but stay where Edit started.
				c.phase = Masked
				err = ErrEditNotAllowed
				return true
			}
			err = c.beginEditLocked()
		}
		return true
	})

	if fetchErr != nil {
		c.logger.Debug("Fetching %s failed: %v", c.desc.Name, fetchErr)
		return fmt.Errorf("reveal %s: %w", c.desc.Name, fetchErr)
	}
	return err
}

// save writes draft. Success makes the draft the value; any failure,
// including cancellation, returns to Editing with draft and value intact.
func (c *Controller) save(ctx context.Context, draft string) error {
	contentType := ""
	if c.desc.ContentType != nil {
		contentType = *c.desc.ContentType
	}

	version, saveErr := c.store.SetSecretValue(ctx, c.desc.Name, draft, contentType)

	c.mutate(func() bool {
		if c.closed || c.phase != Saving {
			return false
		}
		if saveErr != nil {
			c.phase = Editing
			if !kverrors.IsCanceled(saveErr) {
				c.lastErr = saveErr
			}
			return true
		}

		if c.value != nil {
			c.value.Destroy()
		}
		c.value = c.draft
		c.draft = nil
		c.version = version
		c.phase = Revealed
		return true
	})

	if saveErr != nil {
		c.logger.Debug("Saving %s failed: %v", c.desc.Name, saveErr)
		return fmt.Errorf("save %s: %w", c.desc.Name, saveErr)
	}
	c.logger.Info("Saved %s (version %s)", c.desc.Name, version)
	return nil
}

func (c *Controller) beginEditLocked() error {
	value, err := c.value.Reveal()
	if err != nil {
		return err
	}
	c.dropDraftLocked()
	c.draft = secure.NewString(value)
	c.phase = Editing
	return nil
}

func (c *Controller) dropDraftLocked() {
	if c.draft != nil {
		c.draft.Destroy()
		c.draft = nil
	}
}

// mutate runs fn under the lock on the dispatch loop and notifies
// observers there when fn reports a change.
func (c *Controller) mutate(fn func() bool) {
	apply := func() {
		c.mu.Lock()
		changed := fn()
		view := c.viewLocked()
		c.mu.Unlock()

		if changed {
			c.observers.Notify(view)
		}
	}
	if !c.loop.Do(apply) {
		apply()
	}
}

func (c *Controller) viewLocked() View {
	v := View{
		Name:       c.desc.Name,
		Descriptor: c.desc,
		Phase:      c.phase,
		Display:    Mask,
		HasValue:   c.value != nil,
		CanEdit:    c.canEdit,
		Version:    c.version,
		Err:        c.lastErr,
	}
	if c.value != nil && (c.phase == Revealed || c.phase == Editing || c.phase == Saving) {
		if plain, err := c.value.Reveal(); err == nil {
			v.Display = plain
		}
	}
	if c.draft != nil {
		if plain, err := c.draft.Reveal(); err == nil {
			v.Draft = plain
		}
	}
	return v
}
