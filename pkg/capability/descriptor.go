package capability

import (
	"github.com/bpclient/bpclient-go/pkg/wire"
)

// Kind discriminates the Descriptor variants.
type Kind uint8

const (
	// KindNull describes a command without parameters.
	KindNull Kind = iota

	// KindRaw describes raw endpoint access.
	KindRaw

	// KindSensor describes sensor features.
	KindSensor

	// KindGeneric describes actuator features (scalar, linear, rotate).
	KindGeneric
)

// String returns the variant name.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "NULL"
	case KindRaw:
		return "RAW"
	case KindSensor:
		return "SENSOR"
	case KindGeneric:
		return "GENERIC"
	default:
		return "UNKNOWN"
	}
}

// Descriptor describes the parameters a device accepts for one command kind.
// The set of implementations is closed: Null, Raw, Sensor and Generic.
type Descriptor interface {
	Kind() Kind

	// FeatureCount returns the number of addressable features, 0 for
	// descriptors without indexed features.
	FeatureCount() int

	sealed()
}

// Null is the descriptor of a parameterless command such as StopDeviceCmd.
type Null struct{}

// Raw lists the endpoints reachable through raw commands.
type Raw struct {
	Endpoints []string
}

// Range is an inclusive numeric range reported for a sensor.
type Range struct {
	Min int32
	Max int32
}

// SensorFeature is one readable sensor.
type SensorFeature struct {
	Name   string
	Type   wire.SensorType
	Ranges []Range
}

// Sensor lists the sensors in index order.
type Sensor struct {
	Features []SensorFeature
}

// GenericFeature is one actuator.
type GenericFeature struct {
	Name      string
	Actuator  wire.ActuatorType
	StepCount uint32
}

// Generic lists the actuators in index order.
type Generic struct {
	Features []GenericFeature
}

func (Null) Kind() Kind    { return KindNull }
func (Raw) Kind() Kind     { return KindRaw }
func (Sensor) Kind() Kind  { return KindSensor }
func (Generic) Kind() Kind { return KindGeneric }

func (Null) FeatureCount() int      { return 0 }
func (Raw) FeatureCount() int       { return 0 }
func (s Sensor) FeatureCount() int  { return len(s.Features) }
func (g Generic) FeatureCount() int { return len(g.Features) }

func (Null) sealed()    {}
func (Raw) sealed()     {}
func (Sensor) sealed()  {}
func (Generic) sealed() {}

// HasEndpoint reports whether the endpoint is listed.
func (r Raw) HasEndpoint(name string) bool {
	for _, e := range r.Endpoints {
		if e == name {
			return true
		}
	}
	return false
}

// Actuators returns the indices of features driving the given actuator type.
func (g Generic) Actuators(t wire.ActuatorType) []uint32 {
	var out []uint32
	for i, f := range g.Features {
		if f.Actuator == t {
			out = append(out, uint32(i))
		}
	}
	return out
}

// Find returns the index of the first sensor of the given type.
func (s Sensor) Find(t wire.SensorType) (uint32, bool) {
	for i, f := range s.Features {
		if f.Type == t {
			return uint32(i), true
		}
	}
	return 0, false
}

// Compile-time interface satisfaction checks.
var (
	_ Descriptor = Null{}
	_ Descriptor = Raw{}
	_ Descriptor = Sensor{}
	_ Descriptor = Generic{}
)
