package wire

// Kind is the envelope tag naming a message type.
type Kind string

// Handshake and session messages.
const (
	KindRequestServerInfo Kind = "RequestServerInfo"
	KindServerInfo        Kind = "ServerInfo"
	KindOk                Kind = "Ok"
	KindError             Kind = "Error"
	KindPing              Kind = "Ping"
)

// Enumeration messages.
const (
	KindRequestDeviceList Kind = "RequestDeviceList"
	KindDeviceList        Kind = "DeviceList"
	KindDeviceAdded       Kind = "DeviceAdded"
	KindDeviceRemoved     Kind = "DeviceRemoved"
	KindStartScanning     Kind = "StartScanning"
	KindStopScanning      Kind = "StopScanning"
	KindScanningFinished  Kind = "ScanningFinished"
)

// Device commands and their readings.
const (
	KindStopAllDevices       Kind = "StopAllDevices"
	KindStopDeviceCmd        Kind = "StopDeviceCmd"
	KindScalarCmd            Kind = "ScalarCmd"
	KindLinearCmd            Kind = "LinearCmd"
	KindRotateCmd            Kind = "RotateCmd"
	KindSensorReadCmd        Kind = "SensorReadCmd"
	KindSensorSubscribeCmd   Kind = "SensorSubscribeCmd"
	KindSensorUnsubscribeCmd Kind = "SensorUnsubscribeCmd"
	KindSensorReading        Kind = "SensorReading"
	KindRawWriteCmd          Kind = "RawWriteCmd"
	KindRawReadCmd           Kind = "RawReadCmd"
	KindRawReading           Kind = "RawReading"
)

// String returns the kind tag.
func (k Kind) String() string {
	return string(k)
}

// IsKnown reports whether the kind has a registered payload decoder.
func (k Kind) IsKnown() bool {
	_, ok := payloadFactories[k]
	return ok
}

// ErrorCode classifies server Error messages.
type ErrorCode uint8

const (
	// ErrorUnknown is an error the server could not classify.
	ErrorUnknown ErrorCode = 0

	// ErrorInit indicates a handshake failure.
	ErrorInit ErrorCode = 1

	// ErrorPing indicates the server's ping timer expired.
	ErrorPing ErrorCode = 2

	// ErrorMsg indicates a malformed or unexpected message.
	ErrorMsg ErrorCode = 3

	// ErrorDevice indicates a device-level failure.
	ErrorDevice ErrorCode = 4
)

// String returns the error code name.
func (c ErrorCode) String() string {
	switch c {
	case ErrorUnknown:
		return "ERROR_UNKNOWN"
	case ErrorInit:
		return "ERROR_INIT"
	case ErrorPing:
		return "ERROR_PING"
	case ErrorMsg:
		return "ERROR_MSG"
	case ErrorDevice:
		return "ERROR_DEVICE"
	default:
		return "ERROR_INVALID"
	}
}

// ActuatorType names the output a Generic feature drives.
type ActuatorType string

const (
	ActuatorVibrate   ActuatorType = "Vibrate"
	ActuatorRotate    ActuatorType = "Rotate"
	ActuatorOscillate ActuatorType = "Oscillate"
	ActuatorConstrict ActuatorType = "Constrict"
	ActuatorInflate   ActuatorType = "Inflate"
	ActuatorPosition  ActuatorType = "Position"
)

// SensorType names the input a Sensor feature reads.
type SensorType string

const (
	SensorBattery  SensorType = "Battery"
	SensorRSSI     SensorType = "RSSI"
	SensorButton   SensorType = "Button"
	SensorPressure SensorType = "Pressure"
)
