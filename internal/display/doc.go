// Package display arbitrates the scale's screen.
//
// The orchestrator renders the live weight whenever nobody else holds the
// screen. Anything that needs to show a transient message (the remaining
// weight returned by the backend, an error banner, a write in progress)
// takes a Claim from the Arbiter. A claim carries an owner, a priority and
// an expiry; releasing it with a stale claim does nothing, so an old
// owner can never cut short a newer takeover.
package display
