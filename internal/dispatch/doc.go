// Package dispatch carries outbound backend calls off the control loop.
//
// Producers (the tag coordinator, the orchestrator, the local API) put a
// Request on the Queue and never wait for it. A single Dispatcher
// goroutine claims one request per tick and executes it against the
// backend with a per-kind timeout, then applies the outcome: device
// state flags, the persisted credential, a display banner.
//
//	producers ──Enqueue──▶ Queue (FIFO ring, N slots) ──Claim──▶ Dispatcher ──▶ backend
//	                 │                                                │
//	           drop when full,                               registry / credential /
//	           lock wait exceeded,                            display / telemetry
//	           or heartbeat already pending
//
// Nothing is retried and nothing survives a restart. Register is the one
// kind with a caller waiting: its Reply channel receives the outcome.
package dispatch
