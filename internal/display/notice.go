package display

import (
	"sync"
	"time"
)

// Notice draws short messages under a display claim, so lower-priority
// content such as the live weight waits until the notice is cleared or
// its claim expires.
type Notice struct {
	arbiter  *Arbiter
	renderer Renderer
	owner    string
	priority Priority
	duration time.Duration

	mu    sync.Mutex
	claim *Claim
}

// NewNotice creates a Notice drawing on r under claims from a.
//
// Parameters:
//   - a: Arbiter handing out the claims
//   - r: Renderer to draw on; it must not block
//   - owner: Claim owner, for logs
//   - p: Priority of every message shown
//   - d: How long a message holds the screen unless cleared
//
// Returns:
//   - *Notice: notice ready for use
func NewNotice(a *Arbiter, r Renderer, owner string, p Priority, d time.Duration) *Notice {
	return &Notice{arbiter: a, renderer: r, owner: owner, priority: p, duration: d}
}

// ShowText claims the screen and draws text. Nothing is drawn while a
// claim of higher priority holds the screen.
func (n *Notice) ShowText(text string) {
	c, err := n.arbiter.Acquire(n.owner, n.priority, n.duration)
	if err != nil {
		return
	}

	n.mu.Lock()
	n.claim = &c
	n.mu.Unlock()

	n.renderer.ShowText(text)
}

// Clear gives the screen back if the last message still holds it.
func (n *Notice) Clear() {
	n.mu.Lock()
	c := n.claim
	n.claim = nil
	n.mu.Unlock()

	if c != nil {
		n.arbiter.Release(*c)
	}
}
