package client

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/bpclient/bpclient-go/pkg/connection"
	"github.com/bpclient/bpclient-go/pkg/device"
	"github.com/bpclient/bpclient-go/pkg/event"
	"github.com/bpclient/bpclient-go/pkg/interaction"
	"github.com/bpclient/bpclient-go/pkg/log"
	"github.com/bpclient/bpclient-go/pkg/transport"
	"github.com/bpclient/bpclient-go/pkg/wire"
)

// Client is a Buttplug protocol client. It is safe for concurrent use.
type Client struct {
	config         Config
	dialer         transport.Dialer
	logger         *slog.Logger
	protocolLogger log.Logger
	metrics        *Metrics

	machine  *connection.Machine
	registry *device.Registry
	events   *event.Dispatcher

	session atomic.Pointer[session]

	mu     sync.Mutex
	closed bool
}

// New creates a client. No connection is made until Connect.
func New(config Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		config:         config,
		dialer:         config.Dialer,
		logger:         config.Logger,
		protocolLogger: config.ProtocolLogger,
		machine:        connection.NewMachine(),
		registry:       device.NewRegistry(),
		events:         event.NewDispatcher(),
	}
	if c.dialer == nil {
		c.dialer = &transport.WebSocketDialer{}
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	c.metrics = newMetrics(config.Registerer, c)
	c.machine.OnBegin(c.registry.Clear)
	c.machine.OnStateChange(c.stateChanged)
	return c, nil
}

// Connect opens a session with the server at url and performs the
// handshake. It returns once the session is active, or with the error that
// ended the attempt; a failed attempt leaves the client closed. Connecting
// while a session is live fails with connection.ErrConnecting or
// connection.ErrAlreadyConnected.
//
// Every session starts with an empty device registry. Devices already
// attached to the server are learnt from DeviceAdded events or
// RequestDeviceList.
func (c *Client) Connect(ctx context.Context, url string) error {
	if err := c.machine.Begin(); err != nil {
		return err
	}

	s := newSession(c, url)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.machine.End(connection.StateClosed)
		return ErrClosed
	}
	c.session.Store(s)
	c.mu.Unlock()

	c.trace(s, log.Event{
		Layer:       log.LayerSession,
		Category:    log.CategoryState,
		StateChange: &log.StateChangeEvent{NewState: connection.StateConnecting.String(), Reason: "connect " + url},
	})
	c.logger.Info("connecting", "conn", s.id, "url", url)

	conn, err := c.dialer.Dial(ctx, url, transport.Handler{
		OnMessage: s.receive,
		OnClose:   s.transportClosed,
	})
	if err != nil {
		s.teardown(connection.StateClosed, err, originCaller)
		return err
	}
	if !s.attach(conn) {
		return &interaction.ConnectionClosedError{Reason: "closed while connecting"}
	}

	if err := c.machine.Transition(connection.StateHandshaking); err != nil {
		s.teardown(connection.StateClosed, err, originCaller)
		return &interaction.ConnectionClosedError{Reason: "closed while connecting"}
	}

	info, err := s.handshake(ctx)
	if err != nil {
		s.teardown(connection.StateClosed, err, originCaller)
		return fmt.Errorf("handshake: %w", err)
	}

	if err := c.machine.Transition(connection.StateActive); err != nil {
		s.teardown(connection.StateClosed, err, originCaller)
		return &interaction.ConnectionClosedError{Reason: "closed during handshake"}
	}
	c.logger.Info("session active",
		"conn", s.id,
		"server", info.ServerName,
		"messageVersion", info.MessageVersion,
		"maxPingTime", info.MaxPingTime)

	s.startKeepAlive(info.MaxPingTime)
	return nil
}

// Disconnect ends the current session. Pending requests fail with
// *interaction.ConnectionClosedError. It returns connection.ErrNotConnected
// when there is no session to end.
func (c *Client) Disconnect() error {
	s := c.session.Load()
	if s == nil || s.torn.Load() {
		return connection.ErrNotConnected
	}
	c.logger.Info("disconnecting", "conn", s.id)
	s.teardown(connection.StateClosed, nil, originCaller)
	return nil
}

// Close ends the session, delivers the events already queued and stops
// every subscriber. The client cannot be reused. Close must not be called
// from an event handler; use Disconnect there.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	if s := c.session.Load(); s != nil {
		s.teardown(connection.StateClosed, nil, originCaller)
	}
	c.events.Close()
	return nil
}

// State returns the lifecycle state.
func (c *Client) State() connection.State {
	return c.machine.State()
}

// Connected reports whether a session is active.
func (c *Client) Connected() bool {
	return c.machine.IsActive()
}

// ServerInfo returns the handshake reply of the current session.
func (c *Client) ServerInfo() (wire.ServerInfo, bool) {
	s := c.session.Load()
	if s == nil {
		return wire.ServerInfo{}, false
	}
	return s.serverInfo()
}

// ConnectionID returns the identifier of the current session, as used in
// logs and protocol traces.
func (c *Client) ConnectionID() string {
	if s := c.session.Load(); s != nil {
		return s.id
	}
	return ""
}

// Subscribe registers h for session events and returns a function that
// unregisters it. Handlers run on their own goroutine, one per subscriber,
// in publication order.
func (c *Client) Subscribe(h event.Handler) (unsubscribe func()) {
	return c.events.Subscribe(h)
}

// stateChanged observes the machine.
func (c *Client) stateChanged(from, to connection.State) {
	c.metrics.setState(float64(to))
	c.logger.Info("state changed", "from", from, "to", to)

	// Connect traces the start of a session under its new identity.
	if to != connection.StateConnecting {
		c.traceState(c.session.Load(), from, to, "")
	}
	c.events.Publish(event.Event{Type: event.StateChanged, PrevState: from, State: to})
}

func (c *Client) pendingRequests() int {
	if s := c.session.Load(); s != nil {
		return s.tracker.Pending()
	}
	return 0
}
