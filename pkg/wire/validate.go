package wire

import (
	"fmt"
	"math"
)

// checkUnit rejects values outside [0,1]. Out-of-range values are never
// clamped.
func checkUnit(field string, v float64) error {
	if math.IsNaN(v) || v < 0 || v > 1 {
		return &ValidationError{Field: field, Reason: fmt.Sprintf("%v outside [0,1]", v)}
	}
	return nil
}

// Validate implements DeviceCommand.
func (c *StopDeviceCmd) Validate() error {
	return nil
}

// Validate implements DeviceCommand.
func (c *ScalarCmd) Validate() error {
	if len(c.Scalars) == 0 {
		return &ValidationError{Field: "Scalars", Reason: "empty"}
	}
	seen := make(map[uint32]bool, len(c.Scalars))
	for i, s := range c.Scalars {
		if err := checkUnit(fmt.Sprintf("Scalars[%d].Scalar", i), s.Scalar); err != nil {
			return err
		}
		if s.ActuatorType == "" {
			return &ValidationError{Field: fmt.Sprintf("Scalars[%d].ActuatorType", i), Reason: "empty"}
		}
		if seen[s.Index] {
			return &ValidationError{Field: fmt.Sprintf("Scalars[%d].Index", i), Reason: "duplicate feature index"}
		}
		seen[s.Index] = true
	}
	return nil
}

// Validate implements DeviceCommand.
func (c *LinearCmd) Validate() error {
	if len(c.Vectors) == 0 {
		return &ValidationError{Field: "Vectors", Reason: "empty"}
	}
	for i, v := range c.Vectors {
		if err := checkUnit(fmt.Sprintf("Vectors[%d].Position", i), v.Position); err != nil {
			return err
		}
	}
	return nil
}

// Validate implements DeviceCommand.
func (c *RotateCmd) Validate() error {
	if len(c.Rotations) == 0 {
		return &ValidationError{Field: "Rotations", Reason: "empty"}
	}
	for i, r := range c.Rotations {
		if err := checkUnit(fmt.Sprintf("Rotations[%d].Speed", i), r.Speed); err != nil {
			return err
		}
	}
	return nil
}

func (r *SensorRef) validate() error {
	if r.SensorType == "" {
		return &ValidationError{Field: "SensorType", Reason: "empty"}
	}
	return nil
}

// Validate implements DeviceCommand.
func (c *SensorReadCmd) Validate() error { return c.validate() }

// Validate implements DeviceCommand.
func (c *SensorSubscribeCmd) Validate() error { return c.validate() }

// Validate implements DeviceCommand.
func (c *SensorUnsubscribeCmd) Validate() error { return c.validate() }

// Validate implements DeviceCommand.
func (c *RawWriteCmd) Validate() error {
	if c.Endpoint == "" {
		return &ValidationError{Field: "Endpoint", Reason: "empty"}
	}
	if len(c.Data) == 0 {
		return &ValidationError{Field: "Data", Reason: "empty"}
	}
	return nil
}

// Validate implements DeviceCommand.
func (c *RawReadCmd) Validate() error {
	if c.Endpoint == "" {
		return &ValidationError{Field: "Endpoint", Reason: "empty"}
	}
	return nil
}

// Compile-time interface satisfaction checks.
var (
	_ DeviceCommand = (*StopDeviceCmd)(nil)
	_ DeviceCommand = (*ScalarCmd)(nil)
	_ DeviceCommand = (*LinearCmd)(nil)
	_ DeviceCommand = (*RotateCmd)(nil)
	_ DeviceCommand = (*SensorReadCmd)(nil)
	_ DeviceCommand = (*SensorSubscribeCmd)(nil)
	_ DeviceCommand = (*SensorUnsubscribeCmd)(nil)
	_ DeviceCommand = (*RawWriteCmd)(nil)
	_ DeviceCommand = (*RawReadCmd)(nil)
)
