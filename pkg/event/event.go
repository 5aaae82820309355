// Package event fans session events out to subscribers.
//
// Each subscriber owns a mailbox drained by its own goroutine, so a slow
// subscriber delays neither the receive path nor other subscribers. Events
// reach a subscriber in publish order.
package event

import (
	"github.com/bpclient/bpclient-go/pkg/connection"
	"github.com/bpclient/bpclient-go/pkg/device"
	"github.com/bpclient/bpclient-go/pkg/wire"
)

// Type identifies the kind of event.
type Type uint8

const (
	// DeviceAdded - a device was registered.
	DeviceAdded Type = iota

	// DeviceRemoved - a registered device went away.
	DeviceRemoved

	// ScanningFinished - the server stopped scanning on its own.
	ScanningFinished

	// ServerError - an unsolicited Error message.
	ServerError

	// SensorReading - a sensor subscription delivered data.
	SensorReading

	// StateChanged - the session lifecycle state changed.
	StateChanged

	// Fault - the session ended because of a failure (keep-alive or
	// transport).
	Fault

	// ProtocolError - an inbound frame or envelope could not be decoded.
	ProtocolError
)

// String returns the event type name.
func (t Type) String() string {
	switch t {
	case DeviceAdded:
		return "DEVICE_ADDED"
	case DeviceRemoved:
		return "DEVICE_REMOVED"
	case ScanningFinished:
		return "SCANNING_FINISHED"
	case ServerError:
		return "SERVER_ERROR"
	case SensorReading:
		return "SENSOR_READING"
	case StateChanged:
		return "STATE_CHANGED"
	case Fault:
		return "FAULT"
	case ProtocolError:
		return "PROTOCOL_ERROR"
	default:
		return "UNKNOWN"
	}
}

// Event is a session event.
type Event struct {
	Type Type

	// Device is set for DeviceAdded and DeviceRemoved.
	Device *device.Device

	// Reading is set for SensorReading.
	Reading *wire.SensorReading

	// PrevState and State are set for StateChanged.
	PrevState connection.State
	State     connection.State

	// Err is set for ServerError (*wire.ServerError), Fault and
	// ProtocolError.
	Err error
}

// Handler handles events.
type Handler func(Event)
