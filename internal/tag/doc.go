// Package tag coordinates the identity-tag session with the weight
// stability detector.
//
// The Coordinator is the only writer of the tag fields of device.State.
// Every transition is checked against a fixed edge table:
//
//	Idle ──detected──▶ Reading ──read──▶ ReadSuccess
//	                      │
//	                      └──fail──▶ ReadError
//	ReadSuccess, ReadError, WriteSuccess, WriteError, Reading ──removed──▶ Idle
//	any state but Writing ──begin write──▶ Writing ──▶ WriteSuccess | WriteError
//
// Reports to the backend are enqueued, never sent inline: a settled weight
// after a read, the weight after a successful write, and a location
// update when a location tag is read while a spool is active.
package tag
