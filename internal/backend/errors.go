package backend

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConfigured is returned before any network attempt when no
	// backend URL is set.
	ErrNotConfigured = errors.New("backend: url not configured")

	// ErrNotRegistered is returned before any network attempt when an
	// authenticated call has no device token.
	ErrNotRegistered = errors.New("backend: device not registered")

	// ErrUnauthorized is returned when the backend rejects the device token.
	ErrUnauthorized = errors.New("backend: device token rejected")

	// ErrRequestFailed covers transport errors, timeouts and unexpected statuses.
	ErrRequestFailed = errors.New("backend: request failed")
)

// StatusError reports an unexpected HTTP status.
// It matches ErrRequestFailed, or ErrUnauthorized for 401.
type StatusError struct {
	Endpoint string
	Code     int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend: %s returned status %d", e.Endpoint, e.Code)
}

// Is lets errors.Is match the sentinel for this status.
func (e *StatusError) Is(target error) bool {
	if e.Code == 401 {
		return target == ErrUnauthorized
	}
	return target == ErrRequestFailed
}
