package common

import (
	"errors"
	"fmt"
)

// ErrInvalidChannel caller requested a channel outside the closed set.
// Returned before any state mutation.
var ErrInvalidChannel = errors.New("invalid channel")

// ErrNotRunning the hub was used before Start or after Shutdown
var ErrNotRunning = errors.New("event hub is not running")

// ErrRateLimited an inbound control message exceeded the connection's
// rolling window allowance. The connection remains open.
var ErrRateLimited = errors.New("rate limited")

// ErrUnknownConnection operation referenced a connection id not present
// in the registry
var ErrUnknownConnection = errors.New("unknown connection")

// NewInvalidChannelError tag ErrInvalidChannel with the offending name
func NewInvalidChannelError(name string) error {
	return fmt.Errorf("%w: %s", ErrInvalidChannel, name)
}

// TransportWriteError write against a connection's sink failed. It is
// contained to that connection and never propagated to an emitter.
type TransportWriteError struct {
	ConnectionID string
	Cause        error
}

// Error implements error
func (e TransportWriteError) Error() string {
	return fmt.Sprintf("transport write failed for connection %s: %s", e.ConnectionID, e.Cause)
}

// Unwrap expose the underlying sink failure
func (e TransportWriteError) Unwrap() error {
	return e.Cause
}
