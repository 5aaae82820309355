package device

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/bpclient/bpclient-go/pkg/capability"
	"github.com/bpclient/bpclient-go/pkg/wire"
)

// Registry holds the devices of one server, keyed by index.
type Registry struct {
	mu      sync.RWMutex
	devices map[uint32]*Device
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		devices: make(map[uint32]*Device),
	}
}

// Add decodes and registers a device. A description that fails to decode is
// rejected with a *wire.ProtocolError (or ErrNoCapabilities). An index that
// is already present returns the registered device and ErrDuplicateDevice;
// the registered entry is kept.
func (r *Registry) Add(info wire.DeviceInfo) (*Device, error) {
	d, err := New(info)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.devices[d.Index]; ok {
		return existing, fmt.Errorf("device %d: %w", d.Index, ErrDuplicateDevice)
	}
	r.devices[d.Index] = d
	return d, nil
}

// Remove deletes a device. It returns the removed device and true, or nil
// and false when the index was not present.
func (r *Registry) Remove(index uint32) (*Device, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[index]
	if !ok {
		return nil, false
	}
	delete(r.devices, index)
	return d, true
}

// Reconcile adds every device of an authoritative list that is not yet
// registered and returns the added devices. Registered devices missing from
// the list are kept. Descriptions that fail to decode are skipped and
// reported in the joined error.
func (r *Registry) Reconcile(list []wire.DeviceInfo) ([]*Device, error) {
	var added []*Device
	var errs []error

	for _, info := range list {
		d, err := r.Add(info)
		switch {
		case err == nil:
			added = append(added, d)
		case errors.Is(err, ErrDuplicateDevice):
		default:
			errs = append(errs, err)
		}
	}
	return added, errors.Join(errs...)
}

// Get returns the device at index.
func (r *Registry) Get(index uint32) (*Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[index]
	return d, ok
}

// List returns all devices ordered by index.
func (r *Registry) List() []*Device {
	r.mu.RLock()
	out := make([]*Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, d)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// Len returns the number of registered devices.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// Clear removes every device without notification.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices = make(map[uint32]*Device)
}

// Prepare checks cmd against the device at index and stamps the index onto
// it. Nothing is sent; a non-nil error means the command must not be sent.
func (r *Registry) Prepare(index uint32, cmd wire.DeviceCommand) (*Device, error) {
	kind := cmd.Kind()

	d, ok := r.Get(index)
	if !ok {
		return nil, &CommandError{Index: index, Kind: kind, Err: ErrDeviceUnavailable}
	}

	desc, ok := d.Descriptor(kind)
	if !ok {
		return nil, &CommandError{Index: index, Kind: kind, Err: ErrCommandUnsupported}
	}

	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	if err := checkFeatures(cmd, desc); err != nil {
		return nil, err
	}

	cmd.SetTargetDevice(index)
	return d, nil
}

// checkFeatures verifies that cmd only addresses features desc declares.
func checkFeatures(cmd wire.DeviceCommand, desc capability.Descriptor) error {
	switch c := cmd.(type) {
	case *wire.ScalarCmd:
		g, _ := desc.(capability.Generic)
		for _, s := range c.Scalars {
			if err := checkIndex("Scalars.Index", s.Index, g.FeatureCount()); err != nil {
				return err
			}
			if want := g.Features[s.Index].Actuator; want != "" && want != s.ActuatorType {
				return &wire.ValidationError{
					Field:  "Scalars.ActuatorType",
					Reason: fmt.Sprintf("feature %d is %s, not %s", s.Index, want, s.ActuatorType),
				}
			}
		}
	case *wire.LinearCmd:
		for _, v := range c.Vectors {
			if err := checkIndex("Vectors.Index", v.Index, desc.FeatureCount()); err != nil {
				return err
			}
		}
	case *wire.RotateCmd:
		for _, rot := range c.Rotations {
			if err := checkIndex("Rotations.Index", rot.Index, desc.FeatureCount()); err != nil {
				return err
			}
		}
	case *wire.SensorReadCmd:
		return checkSensor(c.SensorRef, desc)
	case *wire.SensorSubscribeCmd:
		return checkSensor(c.SensorRef, desc)
	case *wire.SensorUnsubscribeCmd:
		return checkSensor(c.SensorRef, desc)
	case *wire.RawWriteCmd:
		return checkEndpoint(c.Endpoint, desc)
	case *wire.RawReadCmd:
		return checkEndpoint(c.Endpoint, desc)
	}
	return nil
}

func checkIndex(field string, index uint32, count int) error {
	if int64(index) >= int64(count) {
		return &wire.ValidationError{
			Field:  field,
			Reason: fmt.Sprintf("feature %d out of range (device has %d)", index, count),
		}
	}
	return nil
}

func checkSensor(ref wire.SensorRef, desc capability.Descriptor) error {
	s, _ := desc.(capability.Sensor)
	if err := checkIndex("SensorIndex", ref.SensorIndex, s.FeatureCount()); err != nil {
		return err
	}
	if want := s.Features[ref.SensorIndex].Type; want != ref.SensorType {
		return &wire.ValidationError{
			Field:  "SensorType",
			Reason: fmt.Sprintf("sensor %d is %s, not %s", ref.SensorIndex, want, ref.SensorType),
		}
	}
	return nil
}

func checkEndpoint(endpoint string, desc capability.Descriptor) error {
	raw, _ := desc.(capability.Raw)
	if !raw.HasEndpoint(endpoint) {
		return &wire.ValidationError{Field: "Endpoint", Reason: fmt.Sprintf("unknown endpoint %q", endpoint)}
	}
	return nil
}
