package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500

	// historyTimeFormat is fixed width so created_at sorts lexically.
	historyTimeFormat = "2006-01-02T15:04:05.000000Z"
)

// SQLiteHistoryRepository implements HistoryRepository using SQLite.
//
// Values are stored as JSON in the property_history table.
type SQLiteHistoryRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteHistoryRepository creates a new SQLite history repository.
func NewSQLiteHistoryRepository(db *sql.DB) *SQLiteHistoryRepository {
	return &SQLiteHistoryRepository{db: db, now: time.Now}
}

// RecordChange inserts a history row for one property change.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - deviceID: Unique device identifier
//   - property: Property name
//   - value: Any JSON-encodable value
//   - source: Origin of the change (poll, command); defaults to poll
//
// Returns:
//   - error: nil on success, otherwise a validation or database error
func (r *SQLiteHistoryRepository) RecordChange(ctx context.Context, deviceID, property string, value any, source string) error {
	if deviceID == "" {
		return fmt.Errorf("%w: device id is required", ErrInvalidHistory)
	}
	if property == "" {
		return fmt.Errorf("%w: property is required", ErrInvalidHistory)
	}
	if source == "" {
		source = HistorySourcePoll
	}

	valueJSON, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%w: marshalling value: %w", ErrInvalidHistory, err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO property_history (device_id, property, value, source, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		deviceID,
		property,
		string(valueJSON),
		source,
		formatHistoryTime(r.now()),
	)
	if err != nil {
		return fmt.Errorf("inserting property history: %w", err)
	}

	return nil
}

// GetHistory returns recent history entries for a device, ordered newest first.
//
// limit defaults to 50 and is capped at 500.
func (r *SQLiteHistoryRepository) GetHistory(ctx context.Context, deviceID string, limit int) ([]HistoryEntry, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("%w: device id is required", ErrInvalidHistory)
	}

	return r.query(ctx,
		`SELECT id, device_id, property, value, source, created_at
		 FROM property_history
		 WHERE device_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		deviceID,
		clampHistoryLimit(limit),
	)
}

// GetPropertyHistory returns recent history entries for one property of a
// device, ordered newest first.
func (r *SQLiteHistoryRepository) GetPropertyHistory(ctx context.Context, deviceID, property string, limit int) ([]HistoryEntry, error) {
	if deviceID == "" || property == "" {
		return nil, fmt.Errorf("%w: device id and property are required", ErrInvalidHistory)
	}

	return r.query(ctx,
		`SELECT id, device_id, property, value, source, created_at
		 FROM property_history
		 WHERE device_id = ? AND property = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		deviceID,
		property,
		clampHistoryLimit(limit),
	)
}

// PruneHistory deletes history entries older than the given duration.
//
// Returns:
//   - int64: Number of rows deleted
//   - error: nil on success, otherwise the underlying database error
func (r *SQLiteHistoryRepository) PruneHistory(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("%w: olderThan must be positive", ErrInvalidHistory)
	}

	cutoff := formatHistoryTime(r.now().Add(-olderThan))
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM property_history WHERE created_at < ?",
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("deleting property history: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}

	return rowsAffected, nil
}

func (r *SQLiteHistoryRepository) query(ctx context.Context, query string, args ...any) ([]HistoryEntry, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying property history: %w", err)
	}
	defer rows.Close()

	entries := make([]HistoryEntry, 0)
	for rows.Next() {
		var entry HistoryEntry
		var valueJSON string
		var createdAt string

		if err := rows.Scan(&entry.ID, &entry.DeviceID, &entry.Property, &valueJSON, &entry.Source, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning property history: %w", err)
		}

		if err := json.Unmarshal([]byte(valueJSON), &entry.Value); err != nil {
			return nil, fmt.Errorf("unmarshalling value: %w", err)
		}

		timestamp, err := parseHistoryTime(createdAt)
		if err != nil {
			return nil, err
		}
		entry.CreatedAt = timestamp

		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating property history: %w", err)
	}

	return entries, nil
}

func clampHistoryLimit(limit int) int {
	if limit <= 0 {
		return defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		return maxHistoryLimit
	}
	return limit
}

func formatHistoryTime(t time.Time) string {
	return t.UTC().Format(historyTimeFormat)
}

// parseHistoryTime accepts the fixed-width format and plain RFC 3339.
func parseHistoryTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("created_at is empty")
	}

	timestamp, err := time.Parse(historyTimeFormat, value)
	if err == nil {
		return timestamp, nil
	}

	fallback, fallbackErr := time.Parse(time.RFC3339, value)
	if fallbackErr == nil {
		return fallback.UTC(), nil
	}

	return time.Time{}, fmt.Errorf("parsing created_at: %w", err)
}
