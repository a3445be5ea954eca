package display

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"k8s.io/utils/clock"
)

// ErrDisplayBusy is returned when a claim of higher priority holds the screen.
var ErrDisplayBusy = errors.New("display: busy")

// Priority orders competing claims. Higher wins.
type Priority int

const (
	// PriorityResult is a backend result such as the remaining weight.
	PriorityResult Priority = iota + 1
	// PriorityError is a failed request.
	PriorityError
	// PrioritySystem is a device-level notice such as a lost network link.
	PrioritySystem
)

// Claim is a time-boxed hold on the screen.
type Claim struct {
	ID       uuid.UUID
	Owner    string
	Priority Priority
	Expires  time.Time
}

// Arbiter hands out display claims. It is safe for concurrent use.
type Arbiter struct {
	clock clock.PassiveClock

	mu     sync.Mutex
	active *Claim
}

// NewArbiter creates an Arbiter. A nil clock uses the real clock.
func NewArbiter(clk clock.PassiveClock) *Arbiter {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Arbiter{clock: clk}
}

// Acquire takes the screen for d. It succeeds when no claim is active or
// the active claim's priority is not higher than p.
//
// Parameters:
//   - owner: Name of the component drawing, for logs
//   - p: Priority of the content
//   - d: How long the claim holds the screen unless released earlier
//
// Returns:
//   - Claim: the granted claim, to pass to Release
//   - error: ErrDisplayBusy if a higher-priority claim is active
func (a *Arbiter) Acquire(owner string, p Priority, d time.Duration) (Claim, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.clock.Now()
	if a.active != nil && now.Before(a.active.Expires) && a.active.Priority > p {
		return Claim{}, ErrDisplayBusy
	}

	c := Claim{
		ID:       uuid.New(),
		Owner:    owner,
		Priority: p,
		Expires:  now.Add(d),
	}
	a.active = &c
	return c, nil
}

// Release ends c early. A claim that has already been replaced or has
// expired is left alone.
//
// Returns:
//   - bool: true if c was still the active claim
func (a *Arbiter) Release(c Claim) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.active == nil || a.active.ID != c.ID {
		return false
	}
	a.active = nil
	return true
}

// Active returns the claim holding the screen, if any.
func (a *Arbiter) Active() (Claim, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.active == nil {
		return Claim{}, false
	}
	if !a.clock.Now().Before(a.active.Expires) {
		a.active = nil
		return Claim{}, false
	}
	return *a.active, true
}

// Busy reports whether any claim holds the screen.
func (a *Arbiter) Busy() bool {
	_, ok := a.Active()
	return ok
}
