// Package device holds the single shared state of the spool scale.
//
// The Registry is an owned-state actor: one goroutine (Run) owns the State
// value and every read or write is a message to it. Nothing else ever
// holds a pointer to the live state, so concurrent producers (the hardware
// bridge, the tag coordinator, the dispatcher, the connectivity watchdog,
// the orchestrator and the local UI) cannot race on it.
//
//	┌──────────────┐  SetWeight   ┌──────────────────────┐   Change   ┌────────────┐
//	│ hardware     │─────────────▶│                      │───────────▶│ websocket  │
//	│ bridge       │              │   Registry (actor)   │            │ hub        │
//	├──────────────┤  Update(fn)  │                      │            ├────────────┤
//	│ tag          │─────────────▶│   owns State         │───────────▶│ core state │
//	│ coordinator  │              │                      │            │ publisher  │
//	├──────────────┤  SetLink     └──────────────────────┘            └────────────┘
//	│ watchdog,    │─────────────▶        ▲
//	│ dispatcher   │                      │ Snapshot
//	└──────────────┘               orchestrator, API
//
// # Writers
//
// Each field has one designated writer:
//
//   - Weight, ScaleCalibrated, AutoTare: hardware bridge
//   - TagState, active identity, TagPayload, TagProcessed: tag coordinator
//   - LastWeight, StabilityCount: tag coordinator on the orchestrator cadence
//   - LinkUp, LinkFailureCount: connectivity watchdog
//   - BackendConnected, Registered: dispatcher
//   - DisplayTakeover: orchestrator (mirror of the display arbiter)
//
// Compound transitions that must be atomic go through Update, which runs
// the function inside the actor.
//
// # Notifications
//
// Subscribe returns a channel of Change events. A subscriber that falls
// behind loses events; the actor never blocks on a subscriber.
package device
