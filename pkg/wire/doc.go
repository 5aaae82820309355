// Package wire defines the JSON wire format of the Buttplug control protocol.
//
// Every frame is a JSON array of envelopes. An envelope is an object with a
// single key naming the message kind; its value carries the message fields
// plus a mandatory "Id":
//
//	[
//	  {"RequestServerInfo": {"ClientName": "bpctl", "MessageVersion": 3, "Id": 1}},
//	  {"Ping": {"Id": 2}}
//	]
//
// # Identifiers
//
// Id 0 is reserved for server-originated events (DeviceAdded, DeviceRemoved,
// ScanningFinished, SensorReading, unsolicited Error). Replies carry the Id
// of the request they answer.
//
// # Decoding
//
// DecodeFrame dispatches each envelope through a table keyed by kind name.
// An envelope that is malformed or names an unknown kind yields a
// ProtocolError; the remaining envelopes of the frame are still decoded.
//
// Device capability maps (DeviceMessages) are kept raw here and decoded by
// package capability when a device is registered.
package wire
