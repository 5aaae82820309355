package transport

import (
	"context"
	"errors"
)

// Transport errors.
var (
	ErrConnectionClosed = errors.New("connection closed")
)

// Handler receives connection events.
type Handler struct {
	// OnMessage is called for each text frame, from the reader goroutine.
	OnMessage func(data []byte)

	// OnClose is called once when the connection ends. err is nil for a
	// normal closure.
	OnClose func(err error)
}

// Conn is an open connection to a server.
type Conn interface {
	// SendText writes one text frame.
	SendText(ctx context.Context, data []byte) error

	// Close closes the connection. It does not wait for the reader.
	Close() error

	// Done is closed after the reader has exited and OnClose returned.
	Done() <-chan struct{}
}

// Dialer opens connections.
type Dialer interface {
	Dial(ctx context.Context, url string, h Handler) (Conn, error)
}

// Compile-time interface satisfaction checks.
var (
	_ Dialer = (*WebSocketDialer)(nil)
	_ Conn   = (*WebSocketConn)(nil)
)
