package local

import "errors"

var (
	// ErrStreamClosed is returned when an operation needs a stream that has been closed.
	ErrStreamClosed = errors.New("local: stream closed")

	// ErrNoHost is returned when the client is built without a host.
	ErrNoHost = errors.New("local: host is required")
)
