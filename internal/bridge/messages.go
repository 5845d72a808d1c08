package bridge

import (
	"context"
	"errors"
	"time"

	"github.com/nerrad567/lmbridge/internal/audit"
	"github.com/nerrad567/lmbridge/internal/device"
	"github.com/nerrad567/lmbridge/internal/lmerr"
	"github.com/nerrad567/lmbridge/internal/model"
)

// Availability payloads published on {prefix}/{serial}/availability.
const (
	AvailabilityOnline  = "online"
	AvailabilityOffline = "offline"
)

// AckStatus represents the outcome of a command.
type AckStatus string

const (
	// AckAccepted indicates the machine carried out the command.
	AckAccepted AckStatus = "accepted"

	// AckFailed indicates the command was rejected or could not be sent.
	AckFailed AckStatus = "failed"

	// AckTimeout indicates the machine did not confirm the command in time.
	AckTimeout AckStatus = "timeout"
)

// Error codes for failed commands.
const (
	ErrCodeNotConfigured     = "NOT_CONFIGURED"
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeUnsupported       = "UNSUPPORTED"
	ErrCodeAuth              = "AUTH"
	ErrCodeRateLimited       = "RATE_LIMITED"
	ErrCodeTimeout           = "TIMEOUT"
	ErrCodeDeviceUnreachable = "DEVICE_UNREACHABLE"
	ErrCodeRejected          = "REJECTED"
	ErrCodeBridgeError       = "BRIDGE_ERROR"
)

// Outcome is the result of one dispatched command.
type Outcome struct {
	device.Result

	// Firmware is set by the firmware install command.
	Firmware *model.UpdateDetails `json:"firmware,omitempty"`
}

// AckMessage is published on {prefix}/{serial}/ack after every command.
type AckMessage struct {
	Serial    string    `json:"serial_number"`
	Field     string    `json:"field"`
	Status    AckStatus `json:"status"`
	Timestamp time.Time `json:"timestamp"`

	// Transport and CommandID describe an accepted command.
	Transport device.Transport     `json:"transport,omitempty"`
	CommandID string               `json:"command_id,omitempty"`
	Firmware  *model.UpdateDetails `json:"firmware,omitempty"`

	Error *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`

	// RetryAfter is the server's hint in seconds when rate limited.
	RetryAfter float64 `json:"retry_after,omitempty"`
}

// NewAckMessage builds the acknowledgement for a finished command.
func NewAckMessage(serial, field string, out Outcome, err error) AckMessage {
	ack := AckMessage{
		Serial:    serial,
		Field:     field,
		Timestamp: time.Now().UTC(),
	}
	if err == nil {
		ack.Status = AckAccepted
		ack.Transport = out.Transport
		ack.CommandID = out.ID
		ack.Firmware = out.Firmware
		return ack
	}

	code := ErrorCode(err)
	ack.Status = AckFailed
	if code == ErrCodeTimeout {
		ack.Status = AckTimeout
	}
	ack.Error = &AckError{Code: code, Message: err.Error()}
	var rl *lmerr.RateLimitedError
	if errors.As(err, &rl) {
		ack.Error.RetryAfter = rl.RetryAfter.Seconds()
	}
	return ack
}

// ErrorCode maps a command error onto a stable code for acks and the API.
func ErrorCode(err error) string {
	var cmdErr *device.CommandError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnknownDevice), errors.Is(err, device.ErrDeviceNotFound):
		return ErrCodeNotConfigured
	case errors.Is(err, ErrUnknownField):
		return ErrCodeInvalidCommand
	case errors.Is(err, ErrInvalidPayload), errors.Is(err, lmerr.ErrValidation):
		return ErrCodeInvalidParameters
	case errors.Is(err, lmerr.ErrUnsupported):
		return ErrCodeUnsupported
	case errors.Is(err, lmerr.ErrAuth):
		return ErrCodeAuth
	case errors.Is(err, lmerr.ErrRateLimited):
		return ErrCodeRateLimited
	case errors.Is(err, lmerr.ErrTransient), errors.Is(err, context.DeadlineExceeded):
		return ErrCodeTimeout
	case errors.Is(err, lmerr.ErrConnection):
		return ErrCodeDeviceUnreachable
	case errors.As(err, &cmdErr):
		return ErrCodeRejected
	default:
		return ErrCodeBridgeError
	}
}

// AuditEntry turns an acknowledgement into a command audit record.
func AuditEntry(ack AckMessage, source audit.Source, payload []byte) *audit.Entry {
	e := &audit.Entry{
		Serial:    ack.Serial,
		Field:     ack.Field,
		Source:    source,
		Status:    string(ack.Status),
		Transport: string(ack.Transport),
		Payload:   string(payload),
		CreatedAt: ack.Timestamp,
	}
	if ack.Error != nil {
		e.ErrorCode = ack.Error.Code
	}
	return e
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	// HealthStarting is published while devices are loading.
	HealthStarting HealthStatus = "starting"

	// HealthHealthy indicates every device is loaded and reachable.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded indicates the broker or at least one device has issues.
	HealthDegraded HealthStatus = "degraded"

	// HealthStopping is published during graceful shutdown.
	HealthStopping HealthStatus = "stopping"
)

// DeviceKind distinguishes machines from grinders in health reports.
type DeviceKind string

const (
	KindMachine DeviceKind = "machine"
	KindGrinder DeviceKind = "grinder"
)

// DeviceHealth is the per-device part of a health report.
type DeviceHealth struct {
	Serial    string          `json:"serial_number"`
	Kind      DeviceKind      `json:"kind"`
	Model     model.ModelName `json:"model,omitempty"`
	Loaded    bool            `json:"loaded"`
	Connected bool            `json:"connected"`

	// Stream state, machines only.
	CloudStream bool `json:"cloud_stream,omitempty"`
	LocalStream bool `json:"local_stream,omitempty"`
}

// HealthMessage is published on {prefix}/system/health and served by the API.
type HealthMessage struct {
	Status        HealthStatus   `json:"status"`
	Reason        string         `json:"reason,omitempty"`
	Version       string         `json:"version"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	MQTTConnected bool           `json:"mqtt_connected"`
	Devices       []DeviceHealth `json:"devices"`
	Timestamp     time.Time      `json:"timestamp"`
}
