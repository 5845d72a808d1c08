package bridge

import "errors"

// Domain errors for the bridge package.
var (
	// ErrUnknownDevice is returned for a serial number the bridge does not manage.
	ErrUnknownDevice = errors.New("bridge: unknown device")

	// ErrUnknownField is returned for a command field the device does not accept.
	ErrUnknownField = errors.New("bridge: unknown field")

	// ErrInvalidPayload is returned when a command payload cannot be parsed.
	ErrInvalidPayload = errors.New("bridge: invalid payload")

	// ErrInvalidTopic is returned for a message on a topic outside the command tree.
	ErrInvalidTopic = errors.New("bridge: invalid topic")
)
