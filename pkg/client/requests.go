package client

import (
	"context"
	"fmt"

	"github.com/bpclient/bpclient-go/pkg/connection"
	"github.com/bpclient/bpclient-go/pkg/event"
	"github.com/bpclient/bpclient-go/pkg/log"
	"github.com/bpclient/bpclient-go/pkg/wire"
)

// active returns the session if it is established.
func (c *Client) active() (*session, error) {
	s := c.session.Load()
	if s == nil || s.torn.Load() || !c.machine.IsActive() {
		return nil, connection.ErrNotConnected
	}
	return s, nil
}

// roundTrip sends payload on s and waits for the reply.
func (c *Client) roundTrip(ctx context.Context, s *session, payload wire.Payload) (wire.Message, error) {
	call := s.tracker.Send(ctx, payload)
	c.metrics.request(payload.Kind())
	c.traceMessage(s, log.DirectionOut, log.MessageTypeRequest, call.Request, 0)
	return call.Wait(ctx)
}

func (c *Client) request(ctx context.Context, payload wire.Payload) (wire.Message, error) {
	s, err := c.active()
	if err != nil {
		return wire.Message{}, err
	}
	return c.roundTrip(ctx, s, payload)
}

func (c *Client) requestOk(ctx context.Context, payload wire.Payload) error {
	reply, err := c.request(ctx, payload)
	if err != nil {
		return err
	}
	return expectKind(reply, wire.KindOk)
}

func expectKind(reply wire.Message, want wire.Kind) error {
	if reply.Kind() != want {
		return unexpectedReply(reply, want)
	}
	return nil
}

func unexpectedReply(reply wire.Message, want wire.Kind) error {
	return &wire.ProtocolError{
		Kind:   string(reply.Kind()),
		Reason: fmt.Sprintf("unexpected reply to request %d, want %s", reply.ID, want),
	}
}

// RequestDeviceList asks the server for its devices. Devices missing from
// the registry are added and announced as DeviceAdded events; devices the
// registry already holds are kept. It returns the registry contents.
func (c *Client) RequestDeviceList(ctx context.Context) ([]*Device, error) {
	s, err := c.active()
	if err != nil {
		return nil, err
	}
	reply, err := c.roundTrip(ctx, s, &wire.RequestDeviceList{})
	if err != nil {
		return nil, err
	}
	list, ok := reply.Payload.(*wire.DeviceList)
	if !ok {
		return nil, unexpectedReply(reply, wire.KindDeviceList)
	}

	added, err := c.registry.Reconcile(list.Devices)
	if err != nil {
		c.logger.Warn("device list contained invalid devices", "conn", s.id, "error", err)
		c.events.Publish(event.Event{Type: event.ProtocolError, Err: err})
	}
	for _, d := range added {
		c.logger.Info("device added", "conn", s.id, "index", d.Index, "name", d.Label())
		c.events.Publish(event.Event{Type: event.DeviceAdded, Device: d})
	}
	return c.Devices(), nil
}

// StartScanning asks the server to look for devices. Found devices arrive
// as DeviceAdded events.
func (c *Client) StartScanning(ctx context.Context) error {
	return c.requestOk(ctx, &wire.StartScanning{})
}

// StopScanning asks the server to stop looking for devices.
func (c *Client) StopScanning(ctx context.Context) error {
	return c.requestOk(ctx, &wire.StopScanning{})
}

// StopAllDevices stops every device on the server.
func (c *Client) StopAllDevices(ctx context.Context) error {
	return c.requestOk(ctx, &wire.StopAllDevices{})
}

// SendDeviceCommand sends cmd to the device at index and returns the reply.
//
// The command is checked before anything is written: an unknown device
// fails with device.ErrDeviceUnavailable, a command the device does not
// declare with device.ErrCommandUnsupported (both as *device.CommandError),
// and invalid parameters with *wire.ValidationError. If the device declares
// a message timing gap, the call waits until the gap since its previous
// command has passed.
func (c *Client) SendDeviceCommand(ctx context.Context, index uint32, cmd wire.DeviceCommand) (wire.Message, error) {
	s, err := c.active()
	if err != nil {
		return wire.Message{}, err
	}
	d, err := c.registry.Prepare(index, cmd)
	if err != nil {
		return wire.Message{}, err
	}
	if err := d.Wait(ctx); err != nil {
		return wire.Message{}, err
	}
	return c.roundTrip(ctx, s, cmd)
}

// Devices returns the registered devices ordered by index.
func (c *Client) Devices() []*Device {
	list := c.registry.List()
	out := make([]*Device, 0, len(list))
	for _, d := range list {
		out = append(out, &Device{Device: d, client: c})
	}
	return out
}

// Device returns the registered device at index.
func (c *Client) Device(index uint32) (*Device, bool) {
	d, ok := c.registry.Get(index)
	if !ok {
		return nil, false
	}
	return &Device{Device: d, client: c}, true
}
