package client

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/bpclient/bpclient-go/pkg/connection"
	"github.com/bpclient/bpclient-go/pkg/device"
	"github.com/bpclient/bpclient-go/pkg/event"
	"github.com/bpclient/bpclient-go/pkg/interaction"
	"github.com/bpclient/bpclient-go/pkg/log"
	"github.com/bpclient/bpclient-go/pkg/transport"
	"github.com/bpclient/bpclient-go/pkg/wire"
)

// origin identifies the goroutine a teardown runs on, so it never waits
// for itself.
type origin uint8

const (
	originCaller origin = iota
	originReader
	originKeepAlive
)

// session is one connection attempt and, if the handshake succeeds, the
// established session on it. It is never reused.
type session struct {
	client  *Client
	id      string
	url     string
	tracker *interaction.Tracker

	mu        sync.Mutex
	conn      transport.Conn
	keepAlive *transport.KeepAlive
	info      *wire.ServerInfo

	torn atomic.Bool
	done chan struct{}
}

func newSession(c *Client, url string) *session {
	s := &session{
		client: c,
		id:     uuid.NewString(),
		url:    url,
		done:   make(chan struct{}),
	}
	s.tracker = interaction.NewTracker(s)
	return s
}

// attach records the dialled connection. It returns false, after closing
// conn, if the session was torn down while dialling.
func (s *session) attach(conn transport.Conn) bool {
	s.mu.Lock()
	if s.torn.Load() {
		s.mu.Unlock()
		_ = conn.Close()
		<-conn.Done()
		return false
	}
	s.conn = conn
	s.mu.Unlock()
	return true
}

func (s *session) serverInfo() (wire.ServerInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.info == nil {
		return wire.ServerInfo{}, false
	}
	return *s.info, true
}

// SendText implements interaction.Sender.
func (s *session) SendText(ctx context.Context, data []byte) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return transport.ErrConnectionClosed
	}

	s.client.traceFrame(s, log.DirectionOut, data)
	if err := conn.SendText(ctx, data); err != nil {
		return err
	}
	s.client.metrics.frame("out")
	return nil
}

// handshake exchanges RequestServerInfo for ServerInfo.
func (s *session) handshake(ctx context.Context) (*wire.ServerInfo, error) {
	c := s.client
	if c.config.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.HandshakeTimeout)
		defer cancel()
	}

	reply, err := c.roundTrip(ctx, s, &wire.RequestServerInfo{
		ClientName:     c.config.ClientName,
		MessageVersion: wire.MessageVersion,
	})
	if err != nil {
		return nil, err
	}
	info, ok := reply.Payload.(*wire.ServerInfo)
	if !ok {
		return nil, unexpectedReply(reply, wire.KindServerInfo)
	}

	s.mu.Lock()
	s.info = info
	s.mu.Unlock()
	return info, nil
}

// startKeepAlive starts probing at half of maxPingTime (milliseconds).
func (s *session) startKeepAlive(maxPingTime uint32) {
	if maxPingTime == 0 {
		return
	}
	c := s.client

	interval := transport.KeepAliveInterval(time.Duration(maxPingTime) * time.Millisecond)
	ka := transport.NewKeepAlive(transport.KeepAliveConfig{
		Interval:     interval,
		ProbeTimeout: c.config.ProbeTimeout,
	}, s.ping, s.keepAliveFailed)
	ka.SetProbeSucceededCallback(func(_ uint32, latency time.Duration) {
		c.metrics.probe(latency.Seconds())
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.torn.Load() {
		return
	}
	s.keepAlive = ka
	ka.Start(context.Background())
	c.logger.Debug("keep-alive started", "conn", s.id, "interval", interval)
}

func (s *session) ping(ctx context.Context, _ uint32) error {
	reply, err := s.client.roundTrip(ctx, s, &wire.Ping{})
	if err != nil {
		return err
	}
	return expectKind(reply, wire.KindOk)
}

func (s *session) keepAliveFailed(err error) {
	c := s.client
	c.metrics.keepAliveFault()
	c.logger.Warn("keep-alive failed", "conn", s.id, "error", err)
	s.teardown(connection.StatePingFault, err, originKeepAlive)
}

// receive handles one text frame. It runs on the reader goroutine.
func (s *session) receive(data []byte) {
	c := s.client
	c.metrics.frame("in")
	c.traceFrame(s, log.DirectionIn, data)
	c.logger.Debug("frame received", "conn", s.id, "size", len(data))

	msgs, err := wire.DecodeFrame(data)
	if err != nil {
		c.metrics.decodeError()
		c.logger.Warn("discarding undecodable message", "conn", s.id, "error", err)
		c.traceError(s, log.LayerWire, err, "decode frame")
		c.events.Publish(event.Event{Type: event.ProtocolError, Err: err})
	}
	for _, msg := range msgs {
		s.route(msg)
	}
}

// route resolves a reply or dispatches an event.
func (s *session) route(msg wire.Message) {
	c := s.client

	if call := s.tracker.Resolve(msg); call != nil {
		c.traceMessage(s, log.DirectionIn, log.MessageTypeReply, msg, time.Since(call.Sent))
		return
	}
	c.traceMessage(s, log.DirectionIn, log.MessageTypeEvent, msg, 0)
	c.metrics.event(msg.Kind())

	if !msg.IsEvent() {
		c.logger.Warn("unmatched reply", "conn", s.id, "id", msg.ID, "kind", msg.Kind())
	}

	switch p := msg.Payload.(type) {
	case *wire.DeviceAdded:
		s.deviceAdded(p.DeviceInfo)

	case *wire.DeviceRemoved:
		d, ok := c.registry.Remove(p.DeviceIndex)
		if !ok {
			c.logger.Debug("removal of unknown device", "conn", s.id, "index", p.DeviceIndex)
			return
		}
		c.logger.Info("device removed", "conn", s.id, "index", d.Index, "name", d.Label())
		c.events.Publish(event.Event{Type: event.DeviceRemoved, Device: d})

	case *wire.ScanningFinished:
		c.events.Publish(event.Event{Type: event.ScanningFinished})

	case *wire.Error:
		serr := wire.NewServerError(msg.ID, p)
		c.logger.Warn("server error", "conn", s.id, "code", serr.Code, "message", serr.Message)
		c.traceError(s, log.LayerWire, serr, "server event")
		c.events.Publish(event.Event{Type: event.ServerError, Err: serr})

	case *wire.SensorReading:
		c.events.Publish(event.Event{Type: event.SensorReading, Reading: p})

	default:
		c.logger.Warn("ignoring message", "conn", s.id, "id", msg.ID, "kind", msg.Kind())
	}
}

func (s *session) deviceAdded(info wire.DeviceInfo) {
	c := s.client

	d, err := c.registry.Add(info)
	switch {
	case errors.Is(err, device.ErrDuplicateDevice):
		c.logger.Warn("duplicate device announcement", "conn", s.id, "index", info.DeviceIndex, "name", info.DeviceName)
	case err != nil:
		c.logger.Warn("rejecting device", "conn", s.id, "index", info.DeviceIndex, "error", err)
		c.traceError(s, log.LayerSession, err, "device added")
		c.events.Publish(event.Event{Type: event.ProtocolError, Err: err})
	default:
		c.logger.Info("device added", "conn", s.id, "index", d.Index, "name", d.Label())
		c.events.Publish(event.Event{Type: event.DeviceAdded, Device: d})
	}
}

// transportClosed is the connection's close hook. It runs on the reader
// goroutine, after which no more frames arrive.
func (s *session) transportClosed(err error) {
	if err == nil {
		err = transport.ErrConnectionClosed
	}
	s.teardown(connection.StateClosed, err, originReader)
}

// teardown ends the session: the keep-alive is stopped, the state moves to
// to, every pending request is failed and the transport is closed. Only the
// first call acts; a later call from a caller waits for it to finish.
//
// A non-nil cause on an active session is published as a Fault event.
func (s *session) teardown(to connection.State, cause error, from origin) {
	if !s.torn.CompareAndSwap(false, true) {
		if from == originCaller {
			<-s.done
		}
		return
	}
	defer close(s.done)
	c := s.client

	s.mu.Lock()
	conn := s.conn
	ka := s.keepAlive
	s.mu.Unlock()

	if ka != nil {
		ka.Stop()
	}
	prev, ended := c.machine.End(to)

	reason := "disconnected"
	if cause != nil {
		reason = cause.Error()
	}
	if n := s.tracker.DrainAll(reason); n > 0 {
		c.logger.Debug("failed pending requests", "conn", s.id, "count", n)
	}

	if conn != nil {
		_ = conn.Close()
		if from != originReader {
			<-conn.Done()
		}
	}
	if ka != nil && from != originKeepAlive {
		ka.Wait()
	}

	if ended && prev == connection.StateActive && cause != nil {
		c.logger.Warn("session lost", "conn", s.id, "error", cause)
		c.traceError(s, log.LayerSession, cause, "teardown")
		c.events.Publish(event.Event{Type: event.Fault, Err: cause})
	}
}
