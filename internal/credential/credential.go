// Package credential stores the device's backend registration.
//
// The credential survives power cycles in the kv_store table under the
// "api" namespace (keys url, token and registered). At runtime a Holder
// publishes the current value through an atomic pointer: any goroutine
// may read it, and only the dispatcher writes it.
package credential

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
)

// Namespace and keys used in the key-value store.
const (
	Namespace     = "api"
	KeyURL        = "url"
	KeyToken      = "token"
	KeyRegistered = "registered"
)

// ErrNotFound is returned by a Store holding no credential.
var ErrNotFound = errors.New("credential: not found")

// Credential is the device's registration with the backend.
type Credential struct {
	BackendURL  string
	DeviceToken string
	Registered  bool
}

// Usable reports whether authenticated backend calls can be made.
func (c Credential) Usable() bool {
	return c.Registered && c.DeviceToken != "" && c.BackendURL != ""
}

// Invalidated returns c with the token dropped and registration cleared.
// The URL is kept so the user only has to supply a new code.
func (c Credential) Invalidated() Credential {
	return Credential{BackendURL: c.BackendURL}
}

// Store persists a Credential.
type Store interface {
	Load(ctx context.Context) (Credential, error)
	Save(ctx context.Context, c Credential) error
}

// Holder is the in-memory view of the credential, kept in sync with a Store.
type Holder struct {
	store   Store
	current atomic.Pointer[Credential]
}

// NewHolder creates a Holder starting from initial.
func NewHolder(store Store, initial Credential) *Holder {
	h := &Holder{store: store}
	h.current.Store(&initial)
	return h
}

// LoadHolder reads the persisted credential. A missing credential yields
// an unregistered one pointing at fallbackURL.
//
// Parameters:
//   - ctx: Context for the store read
//   - store: Persistent store
//   - fallbackURL: Backend URL used when nothing is stored
//
// Returns:
//   - *Holder: holder with the stored or fallback credential
//   - error: any store error other than ErrNotFound
func LoadHolder(ctx context.Context, store Store, fallbackURL string) (*Holder, error) {
	c, err := store.Load(ctx)
	switch {
	case errors.Is(err, ErrNotFound):
		c = Credential{BackendURL: fallbackURL}
	case err != nil:
		return nil, fmt.Errorf("loading credential: %w", err)
	}
	if c.BackendURL == "" {
		c.BackendURL = fallbackURL
	}
	return NewHolder(store, c), nil
}

// Current returns the credential in effect.
func (h *Holder) Current() Credential {
	return *h.current.Load()
}

// Set persists c and then makes it current. On a store error the
// in-memory value is still updated so the running device stays consistent
// with what the backend just told it.
func (h *Holder) Set(ctx context.Context, c Credential) error {
	h.current.Store(&c)
	if err := h.store.Save(ctx, c); err != nil {
		return fmt.Errorf("saving credential: %w", err)
	}
	return nil
}

// Invalidate drops the token and persists the result.
func (h *Holder) Invalidate(ctx context.Context) error {
	return h.Set(ctx, h.Current().Invalidated())
}
