// Package device tracks the devices a server has announced and what each of
// them accepts.
//
// The Registry is fed by DeviceAdded and DeviceRemoved events and by
// DeviceList replies. Every entry carries a decoded, non-empty capability
// map; a device whose description fails to decode is never registered.
// Before a device command is sent, Prepare checks that the device is
// present, that it accepts the command kind and that the command addresses
// features the device actually has.
package device
