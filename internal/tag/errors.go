package tag

import "errors"

var (
	// ErrInvalidTransition is returned for an event the current state has
	// no edge for. The state is left untouched.
	ErrInvalidTransition = errors.New("tag: invalid transition")

	// ErrTagBusy is returned by BeginWrite while a write is in progress.
	ErrTagBusy = errors.New("tag: write in progress")

	// ErrNoWriter is returned by BeginWrite when no tag driver is attached.
	ErrNoWriter = errors.New("tag: no writer attached")
)
