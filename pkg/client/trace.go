package client

import (
	"time"

	"github.com/bpclient/bpclient-go/pkg/connection"
	"github.com/bpclient/bpclient-go/pkg/log"
	"github.com/bpclient/bpclient-go/pkg/wire"
)

// trace stamps ev with the session's identity and hands it to the protocol
// logger, if one is configured.
func (c *Client) trace(s *session, ev log.Event) {
	if c.protocolLogger == nil || s == nil {
		return
	}
	ev.Timestamp = time.Now()
	ev.ConnectionID = s.id
	ev.RemoteAddr = s.url
	if info, ok := s.serverInfo(); ok {
		ev.ServerName = info.ServerName
	}
	c.protocolLogger.Log(ev)
}

func (c *Client) traceFrame(s *session, dir log.Direction, data []byte) {
	if c.protocolLogger == nil {
		return
	}
	c.trace(s, log.Event{
		Direction: dir,
		Layer:     log.LayerTransport,
		Category:  log.CategoryMessage,
		Frame:     log.NewFrameEvent(data),
	})
}

func (c *Client) traceMessage(s *session, dir log.Direction, typ log.MessageType, msg wire.Message, latency time.Duration) {
	if c.protocolLogger == nil {
		return
	}

	me := &log.MessageEvent{
		Type: typ,
		ID:   msg.ID,
		Kind: string(msg.Kind()),
	}
	switch p := msg.Payload.(type) {
	case *wire.DeviceAdded:
		idx := p.DeviceIndex
		me.DeviceIndex = &idx
	case *wire.Error:
		code := uint8(p.ErrorCode)
		me.ErrorCode = &code
	case interface{ TargetDevice() uint32 }:
		idx := p.TargetDevice()
		me.DeviceIndex = &idx
	}
	if latency > 0 {
		me.Latency = &latency
	}

	category := log.CategoryMessage
	if msg.Kind() == wire.KindPing {
		category = log.CategoryKeepAlive
	}
	c.trace(s, log.Event{
		Direction: dir,
		Layer:     log.LayerWire,
		Category:  category,
		Message:   me,
	})
}

func (c *Client) traceState(s *session, from, to connection.State, reason string) {
	c.trace(s, log.Event{
		Layer:    log.LayerSession,
		Category: log.CategoryState,
		StateChange: &log.StateChangeEvent{
			OldState: from.String(),
			NewState: to.String(),
			Reason:   reason,
		},
	})
}

func (c *Client) traceError(s *session, layer log.Layer, err error, context string) {
	data := &log.ErrorEventData{
		Layer:   layer,
		Message: err.Error(),
		Context: context,
	}
	if serr, ok := err.(*wire.ServerError); ok {
		code := int(serr.Code)
		data.Code = &code
	}
	c.trace(s, log.Event{
		Layer:    layer,
		Category: log.CategoryError,
		Error:    data,
	})
}
