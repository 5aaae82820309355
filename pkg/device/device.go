package device

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/bpclient/bpclient-go/pkg/capability"
	"github.com/bpclient/bpclient-go/pkg/wire"
)

// Registry errors.
var (
	ErrDuplicateDevice    = errors.New("device already registered")
	ErrDeviceUnavailable  = errors.New("device not available")
	ErrCommandUnsupported = errors.New("device does not accept message type")
	ErrNoCapabilities     = errors.New("device accepts no messages")
)

// CommandError is a local rejection of a device command.
// It wraps ErrDeviceUnavailable or ErrCommandUnsupported.
type CommandError struct {
	Index uint32
	Kind  wire.Kind
	Err   error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("device %d: %s: %v", e.Index, e.Kind, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// Device is a server-side device as seen by the client.
type Device struct {
	// Index is the server-assigned identifier, unique while present.
	Index uint32

	Name string

	// DisplayName is the user's override, empty if unset.
	DisplayName string

	// TimingGap is the minimum spacing between commands, 0 if unspecified.
	TimingGap time.Duration

	// Capabilities maps command kind to its descriptor. Never empty.
	Capabilities map[string]capability.Descriptor

	limiter *rate.Limiter
}

// New decodes a device description.
func New(info wire.DeviceInfo) (*Device, error) {
	if len(info.DeviceMessages) == 0 {
		return nil, fmt.Errorf("device %d: %w", info.DeviceIndex, ErrNoCapabilities)
	}

	caps, err := capability.Decode(info.DeviceMessages)
	if err != nil {
		return nil, fmt.Errorf("device %d: %w", info.DeviceIndex, err)
	}

	d := &Device{
		Index:        info.DeviceIndex,
		Name:         info.DeviceName,
		DisplayName:  info.DeviceDisplayName,
		Capabilities: caps,
	}
	if info.DeviceMessageTimingGap != nil && *info.DeviceMessageTimingGap > 0 {
		d.TimingGap = time.Duration(*info.DeviceMessageTimingGap) * time.Millisecond
		d.limiter = rate.NewLimiter(rate.Every(d.TimingGap), 1)
	}
	return d, nil
}

// Label returns the display name if set, else the name.
func (d *Device) Label() string {
	if d.DisplayName != "" {
		return d.DisplayName
	}
	return d.Name
}

// Accepts reports whether the device accepts the command kind.
func (d *Device) Accepts(kind wire.Kind) bool {
	_, ok := d.Capabilities[string(authorizingKind(kind))]
	return ok
}

// Descriptor returns the descriptor that governs the command kind.
func (d *Device) Descriptor(kind wire.Kind) (capability.Descriptor, bool) {
	desc, ok := d.Capabilities[string(authorizingKind(kind))]
	return desc, ok
}

// Wait blocks until the device's timing gap allows another command.
func (d *Device) Wait(ctx context.Context) error {
	if d.limiter == nil {
		return nil
	}
	return d.limiter.Wait(ctx)
}

// authorizingKind maps a command kind to the capability entry that
// permits it. Unsubscribing is allowed wherever subscribing is.
func authorizingKind(kind wire.Kind) wire.Kind {
	if kind == wire.KindSensorUnsubscribeCmd {
		return wire.KindSensorSubscribeCmd
	}
	return kind
}
