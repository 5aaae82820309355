// Package capability decodes device capability schemas.
//
// A device announces what it accepts as a map from command kind to an
// attribute value whose shape depends on the kind:
//
//	"StopDeviceCmd":      {}
//	"RawWriteCmd":        {"Endpoints": ["tx"]}
//	"SensorReadCmd":      [{"FeatureDescriptor": "Battery Level", "SensorType": "Battery", "SensorRange": [[0, 100]]}]
//	"ScalarCmd":          [{"FeatureDescriptor": "Clitoral Stimulator", "ActuatorType": "Vibrate", "StepCount": 20}]
//
// Decode dispatches each entry by kind name to one of four decoders and
// returns a closed Descriptor variant per entry: Null, Raw, Sensor or
// Generic. A kind outside the dispatch table rejects the whole map.
package capability
