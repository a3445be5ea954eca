package device

import "errors"

var (
	// ErrClosed is returned by every Registry call once Run has returned.
	ErrClosed = errors.New("device: registry closed")

	// ErrUnknownTagState is returned when parsing an unrecognised tag state name.
	ErrUnknownTagState = errors.New("device: unknown tag state")
)
