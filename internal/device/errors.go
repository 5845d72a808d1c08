package device

import (
	"errors"
	"fmt"

	"github.com/nerrad567/lmbridge/internal/lmerr"
	"github.com/nerrad567/lmbridge/internal/model"
)

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDeviceNotFound is returned when a serial number is not registered.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrDeviceExists is returned when registering a serial number twice.
	ErrDeviceExists = errors.New("device: already exists")

	// ErrInvalidConfig is returned when a façade is constructed without its required parts.
	ErrInvalidConfig = errors.New("device: invalid config")

	// ErrClosed is returned when connecting a stream on a closed façade.
	ErrClosed = errors.New("device: closed")
)

// CommandError is a command the cloud accepted but the machine did not
// carry out.
type CommandError struct {
	Command  string
	Response model.CommandResponse
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("device: command %s %s", e.Command, e.Response.Status)
	if e.Response.ErrorCode != "" {
		msg += ": " + e.Response.ErrorCode
	}
	return msg
}

// Unwrap maps a timed-out confirmation to lmerr.ErrTransient and any other
// failure to lmerr.ErrRequestFailed.
func (e *CommandError) Unwrap() error {
	if e.Response.Status == model.CommandTimeout {
		return lmerr.ErrTransient
	}
	return lmerr.ErrRequestFailed
}

func commandError(cmd model.Command, resp model.CommandResponse) error {
	switch resp.Status {
	case model.CommandError, model.CommandTimeout:
		return &CommandError{Command: cmd.Name, Response: resp}
	}
	return nil
}
