package interaction

import (
	"errors"
	"fmt"
)

// Tracker errors.
var (
	ErrReservedID  = errors.New("message id 0 is reserved for events")
	ErrDuplicateID = errors.New("message id already pending")
)

// ConnectionClosedError resolves requests still pending when the session ends.
type ConnectionClosedError struct {
	Reason string
}

func (e *ConnectionClosedError) Error() string {
	if e.Reason == "" {
		return "connection closed"
	}
	return "connection closed: " + e.Reason
}

// TransportError reports that a request could not be written.
type TransportError struct {
	ID  uint32
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("send message %d: %v", e.ID, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
