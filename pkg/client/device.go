package client

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/bpclient/bpclient-go/pkg/capability"
	"github.com/bpclient/bpclient-go/pkg/device"
	"github.com/bpclient/bpclient-go/pkg/wire"
)

// Device is a registered device bound to the client that reported it.
// Every method sends through Client.SendDeviceCommand.
type Device struct {
	*device.Device
	client *Client
}

func (d *Device) send(ctx context.Context, cmd wire.DeviceCommand) (wire.Message, error) {
	return d.client.SendDeviceCommand(ctx, d.Index, cmd)
}

func (d *Device) sendOk(ctx context.Context, cmd wire.DeviceCommand) error {
	reply, err := d.send(ctx, cmd)
	if err != nil {
		return err
	}
	return expectKind(reply, wire.KindOk)
}

// features returns the generic descriptor for kind.
func (d *Device) features(kind wire.Kind) (capability.Generic, error) {
	desc, ok := d.Descriptor(kind)
	if g, isGeneric := desc.(capability.Generic); ok && isGeneric {
		return g, nil
	}
	return capability.Generic{}, &device.CommandError{Index: d.Index, Kind: kind, Err: device.ErrCommandUnsupported}
}

// Vibrate sets every vibrator of the device to speed, in [0,1].
func (d *Device) Vibrate(ctx context.Context, speed float64) error {
	g, err := d.features(wire.KindScalarCmd)
	if err != nil {
		return err
	}
	indices := g.Actuators(wire.ActuatorVibrate)
	if len(indices) == 0 {
		return &device.CommandError{Index: d.Index, Kind: wire.KindScalarCmd, Err: device.ErrCommandUnsupported}
	}

	cmd := &wire.ScalarCmd{}
	for _, i := range indices {
		cmd.Scalars = append(cmd.Scalars, wire.ScalarSubcommand{
			Index:        i,
			Scalar:       speed,
			ActuatorType: wire.ActuatorVibrate,
		})
	}
	return d.sendOk(ctx, cmd)
}

// Scalar sets individual actuator levels.
func (d *Device) Scalar(ctx context.Context, scalars ...wire.ScalarSubcommand) error {
	return d.sendOk(ctx, &wire.ScalarCmd{Scalars: scalars})
}

// Linear moves every linear actuator to position, in [0,1], over duration.
func (d *Device) Linear(ctx context.Context, duration time.Duration, position float64) error {
	g, err := d.features(wire.KindLinearCmd)
	if err != nil {
		return err
	}

	ms := duration.Milliseconds()
	if ms < 0 || ms > math.MaxUint32 {
		return &wire.ValidationError{Field: "Duration", Reason: fmt.Sprintf("%s outside [0, %dms]", duration, uint32(math.MaxUint32))}
	}

	cmd := &wire.LinearCmd{}
	for i := range g.Features {
		cmd.Vectors = append(cmd.Vectors, wire.VectorSubcommand{
			Index:    uint32(i),
			Duration: uint32(ms),
			Position: position,
		})
	}
	return d.sendOk(ctx, cmd)
}

// Rotate spins every rotation feature at speed, in [0,1].
func (d *Device) Rotate(ctx context.Context, speed float64, clockwise bool) error {
	g, err := d.features(wire.KindRotateCmd)
	if err != nil {
		return err
	}

	cmd := &wire.RotateCmd{}
	for i := range g.Features {
		cmd.Rotations = append(cmd.Rotations, wire.RotateSubcommand{
			Index:     uint32(i),
			Speed:     speed,
			Clockwise: clockwise,
		})
	}
	return d.sendOk(ctx, cmd)
}

// Stop stops the device.
func (d *Device) Stop(ctx context.Context) error {
	return d.sendOk(ctx, &wire.StopDeviceCmd{})
}

// ReadSensor reads a sensor once.
func (d *Device) ReadSensor(ctx context.Context, index uint32, sensorType wire.SensorType) ([]int32, error) {
	cmd := &wire.SensorReadCmd{SensorRef: wire.SensorRef{SensorIndex: index, SensorType: sensorType}}
	reply, err := d.send(ctx, cmd)
	if err != nil {
		return nil, err
	}
	reading, ok := reply.Payload.(*wire.SensorReading)
	if !ok {
		return nil, unexpectedReply(reply, wire.KindSensorReading)
	}
	return reading.Data, nil
}

// Battery returns the battery level as a fraction of the sensor's range.
func (d *Device) Battery(ctx context.Context) (float64, error) {
	desc, _ := d.Descriptor(wire.KindSensorReadCmd)
	sensors, _ := desc.(capability.Sensor)
	index, ok := sensors.Find(wire.SensorBattery)
	if !ok {
		return 0, &device.CommandError{Index: d.Index, Kind: wire.KindSensorReadCmd, Err: device.ErrCommandUnsupported}
	}

	data, err := d.ReadSensor(ctx, index, wire.SensorBattery)
	if err != nil {
		return 0, err
	}
	if len(data) == 0 {
		return 0, &wire.ProtocolError{Kind: string(wire.KindSensorReading), Reason: "empty battery reading"}
	}

	return batteryLevel(data[0], sensors.Features[index].Ranges), nil
}

// batteryLevel scales a reading to the first reported range, or to [0,100]
// when the sensor reports none.
func batteryLevel(reading int32, ranges []capability.Range) float64 {
	lo, hi := 0.0, 100.0
	if len(ranges) > 0 && ranges[0].Max > ranges[0].Min {
		lo, hi = float64(ranges[0].Min), float64(ranges[0].Max)
	}
	return (float64(reading) - lo) / (hi - lo)
}

// SubscribeSensor asks the server to push readings of a sensor. Readings
// arrive as SensorReading events.
func (d *Device) SubscribeSensor(ctx context.Context, index uint32, sensorType wire.SensorType) error {
	return d.sendOk(ctx, &wire.SensorSubscribeCmd{SensorRef: wire.SensorRef{SensorIndex: index, SensorType: sensorType}})
}

// UnsubscribeSensor cancels a sensor subscription.
func (d *Device) UnsubscribeSensor(ctx context.Context, index uint32, sensorType wire.SensorType) error {
	return d.sendOk(ctx, &wire.SensorUnsubscribeCmd{SensorRef: wire.SensorRef{SensorIndex: index, SensorType: sensorType}})
}

// RawWrite writes data to a device endpoint.
func (d *Device) RawWrite(ctx context.Context, endpoint string, data []byte, withResponse bool) error {
	return d.sendOk(ctx, &wire.RawWriteCmd{
		Endpoint:          endpoint,
		Data:              data,
		WriteWithResponse: withResponse,
	})
}

// RawRead reads up to expectedLength bytes from a device endpoint.
func (d *Device) RawRead(ctx context.Context, endpoint string, expectedLength uint32, waitForData bool) ([]byte, error) {
	reply, err := d.send(ctx, &wire.RawReadCmd{
		Endpoint:       endpoint,
		ExpectedLength: expectedLength,
		WaitForData:    waitForData,
	})
	if err != nil {
		return nil, err
	}
	reading, ok := reply.Payload.(*wire.RawReading)
	if !ok {
		return nil, unexpectedReply(reply, wire.KindRawReading)
	}
	return reading.Data, nil
}
