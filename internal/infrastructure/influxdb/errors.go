package influxdb

import "errors"

var (
	// ErrDisabled is returned by Connect when influxdb.enabled is false.
	ErrDisabled = errors.New("influxdb: disabled")

	ErrConnectionFailed = errors.New("influxdb: cannot reach server")
	ErrNotConnected     = errors.New("influxdb: client closed")
	ErrUnhealthy        = errors.New("influxdb: server reports unhealthy")

	// ErrWriteFailed wraps errors from the batch writer. They only reach
	// the SetOnError callback since writes never block.
	ErrWriteFailed = errors.New("influxdb: batch write rejected")
)
