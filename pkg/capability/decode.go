package capability

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/bpclient/bpclient-go/pkg/wire"
)

// decodeFunc decodes one attribute value.
type decodeFunc func(raw json.RawMessage) (Descriptor, error)

// decoders is the dispatch table keyed by command kind.
var decoders = map[string]decodeFunc{
	string(wire.KindStopDeviceCmd):      decodeNull,
	string(wire.KindRawReadCmd):         decodeRaw,
	string(wire.KindRawWriteCmd):        decodeRaw,
	"RawSubscribeCmd":                   decodeRaw,
	string(wire.KindSensorReadCmd):      decodeSensor,
	string(wire.KindSensorSubscribeCmd): decodeSensor,
	string(wire.KindScalarCmd):          decodeGeneric,
	string(wire.KindLinearCmd):          decodeGeneric,
	string(wire.KindRotateCmd):          decodeGeneric,
}

// Known reports whether kind has a decoder.
func Known(kind string) bool {
	_, ok := decoders[kind]
	return ok
}

// Decode decodes a device's capability map. Any entry with an unknown kind
// or a malformed value fails the whole map with a *wire.ProtocolError.
func Decode(messages map[string]json.RawMessage) (map[string]Descriptor, error) {
	out := make(map[string]Descriptor, len(messages))

	// Sorted for a deterministic first error.
	kinds := make([]string, 0, len(messages))
	for k := range messages {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)

	for _, kind := range kinds {
		decode, ok := decoders[kind]
		if !ok {
			return nil, &wire.ProtocolError{Kind: kind, Reason: "unknown device message type"}
		}
		d, err := decode(messages[kind])
		if err != nil {
			return nil, &wire.ProtocolError{Kind: kind, Reason: "invalid attributes", Err: err}
		}
		out[kind] = d
	}
	return out, nil
}

func decodeNull(json.RawMessage) (Descriptor, error) {
	return Null{}, nil
}

func decodeRaw(raw json.RawMessage) (Descriptor, error) {
	var attrs struct {
		Endpoints []string `json:"Endpoints"`
	}
	if err := json.Unmarshal(raw, &attrs); err != nil {
		return nil, err
	}
	return Raw{Endpoints: attrs.Endpoints}, nil
}

func decodeSensor(raw json.RawMessage) (Descriptor, error) {
	var attrs []struct {
		FeatureDescriptor string          `json:"FeatureDescriptor"`
		SensorType        wire.SensorType `json:"SensorType"`
		SensorRange       [][]int32       `json:"SensorRange"`
	}
	if err := json.Unmarshal(raw, &attrs); err != nil {
		return nil, err
	}

	s := Sensor{Features: make([]SensorFeature, 0, len(attrs))}
	for i, a := range attrs {
		if a.SensorType == "" {
			return nil, fmt.Errorf("feature %d: missing SensorType", i)
		}
		f := SensorFeature{Name: a.FeatureDescriptor, Type: a.SensorType}
		for _, r := range a.SensorRange {
			if len(r) != 2 {
				return nil, fmt.Errorf("feature %d: range must have 2 bounds, got %d", i, len(r))
			}
			f.Ranges = append(f.Ranges, Range{Min: r[0], Max: r[1]})
		}
		s.Features = append(s.Features, f)
	}
	return s, nil
}

func decodeGeneric(raw json.RawMessage) (Descriptor, error) {
	var attrs []struct {
		FeatureDescriptor string            `json:"FeatureDescriptor"`
		ActuatorType      wire.ActuatorType `json:"ActuatorType"`
		StepCount         uint32            `json:"StepCount"`
	}
	if err := json.Unmarshal(raw, &attrs); err != nil {
		return nil, err
	}

	g := Generic{Features: make([]GenericFeature, 0, len(attrs))}
	for _, a := range attrs {
		g.Features = append(g.Features, GenericFeature{
			Name:      a.FeatureDescriptor,
			Actuator:  a.ActuatorType,
			StepCount: a.StepCount,
		})
	}
	return g, nil
}
