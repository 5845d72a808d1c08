package device

import (
	"context"
	"encoding/json"
	"time"
)

// HistoryEntry represents a single recorded state change.
//
// Each entry stores a full snapshot of the device at the time the change
// was merged. This provides a local audit trail even when the time-series
// database is unavailable.
type HistoryEntry struct {
	// ID is the auto-incremented primary key for the history row.
	ID int64 `json:"id"`

	// Serial is the serial number of the machine or grinder.
	Serial string `json:"serial_number"`

	// State is the JSON snapshot after the change.
	State json.RawMessage `json:"state"`

	// Source identifies the patch that produced the change.
	Source Source `json:"source"`

	// CreatedAt is the timestamp of the change (UTC).
	CreatedAt time.Time `json:"created_at"`
}

// History stores and retrieves state change history.
//
// Implementations must be thread-safe and use UTC timestamps.
type History interface {
	// Record appends a snapshot. state is serialised as JSON.
	Record(ctx context.Context, serial string, state any, source Source) error

	// Recent returns up to limit entries for serial, newest first.
	Recent(ctx context.Context, serial string, limit int) ([]HistoryEntry, error)
}
