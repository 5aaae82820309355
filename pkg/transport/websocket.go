package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocket defaults.
const (
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultWriteTimeout     = 10 * time.Second

	// DefaultMaxMessageSize bounds a single incoming frame (device lists
	// with many devices can be large).
	DefaultMaxMessageSize = 4 << 20

	closeGracePeriod = time.Second
)

// WebSocketDialer dials servers over WebSocket.
type WebSocketDialer struct {
	// HandshakeTimeout bounds the opening handshake (default: 10s).
	HandshakeTimeout time.Duration

	// WriteTimeout bounds a write without a context deadline (default: 10s).
	WriteTimeout time.Duration

	// MaxMessageSize is the read limit per frame (default: 4 MiB).
	MaxMessageSize int64

	// Header is sent with the opening handshake.
	Header http.Header
}

// Dial connects to url and starts the reader.
func (d *WebSocketDialer) Dial(ctx context.Context, url string, h Handler) (Conn, error) {
	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
	}
	if dialer.HandshakeTimeout == 0 {
		dialer.HandshakeTimeout = DefaultHandshakeTimeout
	}

	ws, resp, err := dialer.DialContext(ctx, url, d.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	limit := d.MaxMessageSize
	if limit == 0 {
		limit = DefaultMaxMessageSize
	}
	ws.SetReadLimit(limit)

	writeTimeout := d.WriteTimeout
	if writeTimeout == 0 {
		writeTimeout = DefaultWriteTimeout
	}

	c := &WebSocketConn{
		ws:           ws,
		handler:      h,
		writeTimeout: writeTimeout,
		closeCh:      make(chan struct{}),
		done:         make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// WebSocketConn is a client WebSocket connection.
type WebSocketConn struct {
	ws           *websocket.Conn
	handler      Handler
	writeTimeout time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeCh   chan struct{}
	done      chan struct{}
	local     atomic.Bool
}

// SendText writes data as one text frame. The context deadline, if any,
// bounds the write.
func (c *WebSocketConn) SendText(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.closeCh:
		return ErrConnectionClosed
	default:
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.writeTimeout)
	}
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Close sends a close frame and closes the socket. Safe to call more than
// once and from within the handler callbacks.
func (c *WebSocketConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.local.Store(true)

		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeGracePeriod))
		close(c.closeCh)
		c.writeMu.Unlock()

		// Unblocks the reader.
		err = c.ws.Close()
	})
	return err
}

// Done is closed after the reader has exited and OnClose returned.
func (c *WebSocketConn) Done() <-chan struct{} {
	return c.done
}

func (c *WebSocketConn) readLoop() {
	defer close(c.done)

	var readErr error
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			readErr = err
			break
		}
		if c.handler.OnMessage != nil {
			c.handler.OnMessage(data)
		}
	}

	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		close(c.closeCh)
		c.writeMu.Unlock()
		_ = c.ws.Close()
	})

	if c.handler.OnClose != nil {
		c.handler.OnClose(closeReason(readErr, c.local.Load()))
	}
}

// closeReason maps the reader's terminal error to the OnClose argument.
func closeReason(err error, local bool) error {
	if local {
		return nil
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) && (ce.Code == websocket.CloseNormalClosure || ce.Code == websocket.CloseGoingAway) {
		return nil
	}
	return err
}
