package tasmota

import "errors"

// Domain errors for the Tasmota bridge package.
var (
	// ErrUnexpectedStatus is returned when a device answers with a non-200 status.
	ErrUnexpectedStatus = errors.New("tasmota: unexpected HTTP status")

	// ErrMalformedResponse is returned when a device reply is not valid JSON.
	ErrMalformedResponse = errors.New("tasmota: malformed response")

	// ErrDeviceNotFound is returned when a device ID is not managed by the bridge.
	ErrDeviceNotFound = errors.New("tasmota: device not found")

	// ErrPropertyNotFound is returned when a device has no property of that name.
	ErrPropertyNotFound = errors.New("tasmota: property not found")

	// ErrReadOnly is returned when writing a read-only property.
	ErrReadOnly = errors.New("tasmota: property is read-only")

	// ErrInvalidValue is returned when a written value has the wrong type or format.
	ErrInvalidValue = errors.New("tasmota: invalid property value")

	// ErrInvalidCapabilities is returned when a light's capability set cannot
	// be composed (e.g. ColorMode without Color and ColorTemperature).
	ErrInvalidCapabilities = errors.New("tasmota: invalid capability set")

	// ErrDetectionFailed is returned when a device type cannot be detected.
	ErrDetectionFailed = errors.New("tasmota: device type detection failed")
)
