package hardware

import "errors"

var (
	// ErrInvalidMessage is returned for a bus message that cannot be decoded.
	ErrInvalidMessage = errors.New("hardware: invalid message")

	// ErrUnknownEvent is returned for an nfc event the core does not handle.
	ErrUnknownEvent = errors.New("hardware: unknown event")

	// ErrCommandQueueFull is returned when scale commands arrive faster
	// than the bus takes them.
	ErrCommandQueueFull = errors.New("hardware: command queue full")
)
