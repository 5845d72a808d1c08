package cloud

import "errors"

var (
	// ErrStreamClosed is returned when an operation needs a stream that has been closed.
	ErrStreamClosed = errors.New("cloud: stream closed")

	// ErrHandshake is returned when the STOMP broker refuses CONNECT or SUBSCRIBE.
	ErrHandshake = errors.New("cloud: stomp handshake failed")

	// ErrBadFrame is returned for frames that do not follow the STOMP layout.
	ErrBadFrame = errors.New("cloud: malformed stomp frame")

	// ErrEmptyResponse is returned when a command call returns no acknowledgement.
	ErrEmptyResponse = errors.New("cloud: empty command response")

	// ErrNotRegistered is returned when the installation key was never registered.
	ErrNotRegistered = errors.New("cloud: installation key not registered")
)
