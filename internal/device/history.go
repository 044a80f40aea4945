package device

import (
	"context"
	"time"
)

// History source values.
const (
	HistorySourcePoll    = "poll"
	HistorySourceCommand = "command"
)

// HistoryEntry represents a single property change record.
//
// Entries give a local audit trail of what each Tasmota device reported
// and what was written to it, independent of the time-series store.
type HistoryEntry struct {
	// ID is the auto-incremented primary key for the history row.
	ID int64 `json:"id"`

	// DeviceID is the unique identifier of the device.
	DeviceID string `json:"device_id"`

	// Property is the property name (on, brightness, color, power...).
	Property string `json:"property"`

	// Value is the decoded JSON value that was recorded.
	Value any `json:"value"`

	// Source identifies how the change was observed (poll, command).
	Source string `json:"source"`

	// CreatedAt is the timestamp of the change (UTC).
	CreatedAt time.Time `json:"created_at"`
}

// HistoryRepository stores and retrieves property change history.
//
// Implementations must be thread-safe and use UTC timestamps.
type HistoryRepository interface {
	// RecordChange records one property change.
	RecordChange(ctx context.Context, deviceID, property string, value any, source string) error

	// GetHistory returns recent changes for a device, newest first.
	GetHistory(ctx context.Context, deviceID string, limit int) ([]HistoryEntry, error)

	// GetPropertyHistory returns recent changes of one property, newest first.
	GetPropertyHistory(ctx context.Context, deviceID, property string, limit int) ([]HistoryEntry, error)

	// PruneHistory deletes entries older than the given age.
	PruneHistory(ctx context.Context, olderThan time.Duration) (int64, error)
}
