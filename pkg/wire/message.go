package wire

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// EventID is the Id carried by server-originated, non-correlated messages.
const EventID uint32 = 0

// MessageVersion is the protocol message version announced in the handshake.
const MessageVersion uint32 = 3

// Payload is the body of an envelope. Each message kind has one payload type.
type Payload interface {
	Kind() Kind
}

// Message is a decoded envelope.
type Message struct {
	ID      uint32
	Payload Payload
}

// Kind returns the payload's kind, or "" for an empty message.
func (m Message) Kind() Kind {
	if m.Payload == nil {
		return ""
	}
	return m.Payload.Kind()
}

// IsEvent reports whether the message is a server event (Id 0).
func (m Message) IsEvent() bool {
	return m.ID == EventID
}

// DeviceRef addresses a device by its server-assigned index.
// Embedded in every device command and device event.
type DeviceRef struct {
	DeviceIndex uint32 `json:"DeviceIndex"`
}

// TargetDevice returns the addressed device index.
func (r *DeviceRef) TargetDevice() uint32 {
	return r.DeviceIndex
}

// SetTargetDevice stamps the device index.
func (r *DeviceRef) SetTargetDevice(index uint32) {
	r.DeviceIndex = index
}

// DeviceCommand is a payload addressed to a single device.
type DeviceCommand interface {
	Payload
	TargetDevice() uint32
	SetTargetDevice(index uint32)

	// Validate checks the command locally before anything is sent.
	Validate() error
}

// RequestServerInfo opens the handshake.
type RequestServerInfo struct {
	ClientName     string `json:"ClientName"`
	MessageVersion uint32 `json:"MessageVersion"`
}

// ServerInfo answers RequestServerInfo.
// MaxPingTime is in milliseconds; 0 disables the keep-alive requirement.
type ServerInfo struct {
	ServerName     string `json:"ServerName"`
	MessageVersion uint32 `json:"MessageVersion"`
	MaxPingTime    uint32 `json:"MaxPingTime"`
}

// Ok acknowledges a request.
type Ok struct{}

// Error reports a failure, correlated (Id > 0) or unsolicited (Id 0).
type Error struct {
	ErrorMessage string    `json:"ErrorMessage"`
	ErrorCode    ErrorCode `json:"ErrorCode"`
}

// Ping is the keep-alive probe.
type Ping struct{}

// RequestDeviceList asks for the server's current device snapshot.
type RequestDeviceList struct{}

// DeviceInfo describes one device as reported by the server.
// DeviceMessages is kept raw; package capability decodes it.
type DeviceInfo struct {
	DeviceIndex            uint32                     `json:"DeviceIndex"`
	DeviceName             string                     `json:"DeviceName"`
	DeviceDisplayName      string                     `json:"DeviceDisplayName,omitempty"`
	DeviceMessageTimingGap *uint32                    `json:"DeviceMessageTimingGap,omitempty"`
	DeviceMessages         map[string]json.RawMessage `json:"DeviceMessages"`
}

// DeviceList answers RequestDeviceList.
type DeviceList struct {
	Devices []DeviceInfo `json:"Devices"`
}

// DeviceAdded announces a newly connected device.
type DeviceAdded struct {
	DeviceInfo
}

// DeviceRemoved announces a disconnected device.
type DeviceRemoved struct {
	DeviceRef
}

// StartScanning asks the server to look for devices.
type StartScanning struct{}

// StopScanning asks the server to stop looking for devices.
type StopScanning struct{}

// ScanningFinished is sent when the server stops scanning on its own.
type ScanningFinished struct{}

// StopAllDevices stops every device on the server.
type StopAllDevices struct{}

// StopDeviceCmd stops one device. It takes no parameters.
type StopDeviceCmd struct {
	DeviceRef
}

// ScalarSubcommand drives one actuator feature to a level in [0,1].
type ScalarSubcommand struct {
	Index        uint32       `json:"Index"`
	Scalar       float64      `json:"Scalar"`
	ActuatorType ActuatorType `json:"ActuatorType"`
}

// ScalarCmd sets actuator levels.
type ScalarCmd struct {
	DeviceRef
	Scalars []ScalarSubcommand `json:"Scalars"`
}

// VectorSubcommand moves a linear feature to Position over Duration ms.
type VectorSubcommand struct {
	Index    uint32  `json:"Index"`
	Duration uint32  `json:"Duration"`
	Position float64 `json:"Position"`
}

// LinearCmd moves linear actuators.
type LinearCmd struct {
	DeviceRef
	Vectors []VectorSubcommand `json:"Vectors"`
}

// RotateSubcommand spins a rotation feature.
type RotateSubcommand struct {
	Index     uint32  `json:"Index"`
	Speed     float64 `json:"Speed"`
	Clockwise bool    `json:"Clockwise"`
}

// RotateCmd drives rotation features.
type RotateCmd struct {
	DeviceRef
	Rotations []RotateSubcommand `json:"Rotations"`
}

// SensorRef addresses one sensor feature of a device.
type SensorRef struct {
	DeviceRef
	SensorIndex uint32     `json:"SensorIndex"`
	SensorType  SensorType `json:"SensorType"`
}

// SensorReadCmd reads a sensor once; the reply is a SensorReading.
type SensorReadCmd struct {
	SensorRef
}

// SensorSubscribeCmd subscribes to sensor updates delivered as events.
type SensorSubscribeCmd struct {
	SensorRef
}

// SensorUnsubscribeCmd cancels a sensor subscription.
type SensorUnsubscribeCmd struct {
	SensorRef
}

// SensorReading carries sensor data, as a reply or as an event.
type SensorReading struct {
	SensorRef
	Data []int32 `json:"Data"`
}

// RawWriteCmd writes bytes to a device endpoint.
type RawWriteCmd struct {
	DeviceRef
	Endpoint          string `json:"Endpoint"`
	Data              Bytes  `json:"Data"`
	WriteWithResponse bool   `json:"WriteWithResponse"`
}

// RawReadCmd reads bytes from a device endpoint.
type RawReadCmd struct {
	DeviceRef
	Endpoint       string `json:"Endpoint"`
	ExpectedLength uint32 `json:"ExpectedLength"`
	WaitForData    bool   `json:"WaitForData"`
}

// RawReading answers RawReadCmd.
type RawReading struct {
	DeviceRef
	Endpoint string `json:"Endpoint"`
	Data     Bytes  `json:"Data"`
}

func (*RequestServerInfo) Kind() Kind    { return KindRequestServerInfo }
func (*ServerInfo) Kind() Kind           { return KindServerInfo }
func (*Ok) Kind() Kind                   { return KindOk }
func (*Error) Kind() Kind                { return KindError }
func (*Ping) Kind() Kind                 { return KindPing }
func (*RequestDeviceList) Kind() Kind    { return KindRequestDeviceList }
func (*DeviceList) Kind() Kind           { return KindDeviceList }
func (*DeviceAdded) Kind() Kind          { return KindDeviceAdded }
func (*DeviceRemoved) Kind() Kind        { return KindDeviceRemoved }
func (*StartScanning) Kind() Kind        { return KindStartScanning }
func (*StopScanning) Kind() Kind         { return KindStopScanning }
func (*ScanningFinished) Kind() Kind     { return KindScanningFinished }
func (*StopAllDevices) Kind() Kind       { return KindStopAllDevices }
func (*StopDeviceCmd) Kind() Kind        { return KindStopDeviceCmd }
func (*ScalarCmd) Kind() Kind            { return KindScalarCmd }
func (*LinearCmd) Kind() Kind            { return KindLinearCmd }
func (*RotateCmd) Kind() Kind            { return KindRotateCmd }
func (*SensorReadCmd) Kind() Kind        { return KindSensorReadCmd }
func (*SensorSubscribeCmd) Kind() Kind   { return KindSensorSubscribeCmd }
func (*SensorUnsubscribeCmd) Kind() Kind { return KindSensorUnsubscribeCmd }
func (*SensorReading) Kind() Kind        { return KindSensorReading }
func (*RawWriteCmd) Kind() Kind          { return KindRawWriteCmd }
func (*RawReadCmd) Kind() Kind           { return KindRawReadCmd }
func (*RawReading) Kind() Kind           { return KindRawReading }

// payloadFactories is the decode dispatch table.
var payloadFactories = map[Kind]func() Payload{
	KindRequestServerInfo:    func() Payload { return &RequestServerInfo{} },
	KindServerInfo:           func() Payload { return &ServerInfo{} },
	KindOk:                   func() Payload { return &Ok{} },
	KindError:                func() Payload { return &Error{} },
	KindPing:                 func() Payload { return &Ping{} },
	KindRequestDeviceList:    func() Payload { return &RequestDeviceList{} },
	KindDeviceList:           func() Payload { return &DeviceList{} },
	KindDeviceAdded:          func() Payload { return &DeviceAdded{} },
	KindDeviceRemoved:        func() Payload { return &DeviceRemoved{} },
	KindStartScanning:        func() Payload { return &StartScanning{} },
	KindStopScanning:         func() Payload { return &StopScanning{} },
	KindScanningFinished:     func() Payload { return &ScanningFinished{} },
	KindStopAllDevices:       func() Payload { return &StopAllDevices{} },
	KindStopDeviceCmd:        func() Payload { return &StopDeviceCmd{} },
	KindScalarCmd:            func() Payload { return &ScalarCmd{} },
	KindLinearCmd:            func() Payload { return &LinearCmd{} },
	KindRotateCmd:            func() Payload { return &RotateCmd{} },
	KindSensorReadCmd:        func() Payload { return &SensorReadCmd{} },
	KindSensorSubscribeCmd:   func() Payload { return &SensorSubscribeCmd{} },
	KindSensorUnsubscribeCmd: func() Payload { return &SensorUnsubscribeCmd{} },
	KindSensorReading:        func() Payload { return &SensorReading{} },
	KindRawWriteCmd:          func() Payload { return &RawWriteCmd{} },
	KindRawReadCmd:           func() Payload { return &RawReadCmd{} },
	KindRawReading:           func() Payload { return &RawReading{} },
}

// Bytes is raw endpoint data. It is encoded as a JSON array of numbers
// rather than encoding/json's default base64 string.
type Bytes []byte

// MarshalJSON encodes the bytes as a number array.
func (b Bytes) MarshalJSON() ([]byte, error) {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, v := range b {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.Itoa(int(v)))
	}
	sb.WriteByte(']')
	return []byte(sb.String()), nil
}

// UnmarshalJSON decodes a number array into bytes.
func (b *Bytes) UnmarshalJSON(data []byte) error {
	var values []int
	if err := json.Unmarshal(data, &values); err != nil {
		return err
	}
	out := make([]byte, len(values))
	for i, v := range values {
		if v < 0 || v > 255 {
			return fmt.Errorf("byte value out of range: %d", v)
		}
		out[i] = byte(v)
	}
	*b = out
	return nil
}
