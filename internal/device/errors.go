package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrInvalidPayload) {
//	    // drop the message
//	}
var (
	// ErrInvalidTopic is returned when a topic lacks the segments a parser needs.
	ErrInvalidTopic = errors.New("device: invalid topic")

	// ErrInvalidPayload is returned when a payload is not valid JSON.
	ErrInvalidPayload = errors.New("device: invalid payload")

	// ErrMissingField is returned when a required payload field is absent.
	ErrMissingField = errors.New("device: missing required field")

	// ErrInvalidCommand is returned for unknown command types.
	ErrInvalidCommand = errors.New("device: invalid command")

	// ErrDeviceIDRequired is returned when an operation needs a device ID.
	ErrDeviceIDRequired = errors.New("device: device id is required")

	// ErrPublishFailed wraps a transport publish error. When the transport
	// buffered the message the error is advisory.
	ErrPublishFailed = errors.New("device: publish failed")
)
