// Package api implements the scale's local HTTP API and WebSocket server.
//
// This package provides:
//   - Setup endpoints for backend registration and device configuration
//   - The tag write endpoint used by the inventory backend
//   - A WebSocket hub pushing tag, weight and status updates to the web UI
//   - Middleware stack (request ID, logging, recovery, body limit, per-IP rate limit)
//
// # Architecture
//
// The server never calls the backend itself. Registration is queued on
// the request dispatch queue and the handler waits for the dispatcher's
// reply; scale commands become orchestrator intents; tag writes go to the
// tag coordinator. State pushes follow the device registry's change feed.
package api
