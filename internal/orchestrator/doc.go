// Package orchestrator runs the control loop.
//
// One goroutine iterates at a fixed period (50 ms by default). Each
// iteration drains user intents, runs the periodic checks (link,
// heartbeat, status row), steps the tag coordinator so the stability
// detector samples on its own one-second cadence, and renders the weight
// unless a display claim or a tag write has the screen. The loop never
// waits on the network: backend calls go through the dispatch queue.
//
// Every iteration beats the liveness Supervisor. If the loop stops
// beating for longer than the timeout, the Supervisor restarts the
// appliance once.
package orchestrator
