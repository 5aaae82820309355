package wire

import (
	"fmt"
)

// ProtocolError reports a malformed envelope or an unrecognized kind.
// The offending envelope (or device description) is rejected; the rest of
// the frame is unaffected.
type ProtocolError struct {
	// Kind is the offending message or command kind, if known.
	Kind string

	// Reason describes what was wrong.
	Reason string

	// Err is the underlying decode error, if any.
	Err error
}

func (e *ProtocolError) Error() string {
	msg := "protocol error"
	if e.Kind != "" {
		msg += " (" + e.Kind + ")"
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// ServerError is an Error message received from the server.
type ServerError struct {
	Code    ErrorCode
	Message string

	// ID is the correlated request's Id, or EventID when unsolicited.
	ID uint32
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error %s: %s", e.Code, e.Message)
}

// NewServerError converts an Error payload into an error value.
func NewServerError(id uint32, p *Error) *ServerError {
	return &ServerError{Code: p.ErrorCode, Message: p.ErrorMessage, ID: id}
}

// ValidationError is a local, pre-transmission rejection.
// A command failing validation is never sent.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid command: " + e.Reason
	}
	return fmt.Sprintf("invalid command: %s: %s", e.Field, e.Reason)
}
