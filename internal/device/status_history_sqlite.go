package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200

	// historyTimeLayout is fixed-width so created_at orders lexically.
	historyTimeLayout = "2006-01-02T15:04:05.000Z07:00"
)

// SQLiteStatusHistoryRepository keeps status reports in the
// device_status_history table, one JSON snapshot per row.
type SQLiteStatusHistoryRepository struct {
	db *sql.DB
}

func NewSQLiteStatusHistoryRepository(db *sql.DB) *SQLiteStatusHistoryRepository {
	return &SQLiteStatusHistoryRepository{db: db}
}

func (r *SQLiteStatusHistoryRepository) RecordStatus(ctx context.Context, status Status, source string) error {
	if status.DeviceID == "" {
		return ErrDeviceIDRequired
	}
	if source == "" {
		source = StatusSourceReport
	}

	snapshot, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("encoding status: %w", err)
	}

	if _, err := r.db.ExecContext(ctx,
		"INSERT INTO device_status_history (device_id, status, healthy, source, created_at) VALUES (?, ?, ?, ?, ?)",
		status.DeviceID, string(snapshot), status.IsHealthy(), source,
		time.Now().UTC().Format(historyTimeLayout),
	); err != nil {
		return fmt.Errorf("recording status for %s: %w", status.DeviceID, err)
	}
	return nil
}

func (r *SQLiteStatusHistoryRepository) GetHistory(ctx context.Context, q HistoryQuery) ([]StatusHistoryEntry, error) {
	if q.DeviceID == "" {
		return nil, ErrDeviceIDRequired
	}
	limit := clampHistoryLimit(q.Limit)

	// An empty lower bound sorts before every stored timestamp.
	since := ""
	if !q.Since.IsZero() {
		since = q.Since.UTC().Format(historyTimeLayout)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, device_id, status, healthy, source, created_at
		 FROM device_status_history
		 WHERE device_id = ? AND created_at >= ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		q.DeviceID, since, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying status history for %s: %w", q.DeviceID, err)
	}
	defer rows.Close()

	entries := []StatusHistoryEntry{}
	for rows.Next() {
		entry, err := scanHistoryEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating status history: %w", err)
	}
	return entries, nil
}

// PruneHistory deletes entries older than olderThan and returns how many
// were removed.
func (r *SQLiteStatusHistoryRepository) PruneHistory(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, errors.New("prune window must be positive")
	}

	cutoff := time.Now().UTC().Add(-olderThan).Format(historyTimeLayout)
	res, err := r.db.ExecContext(ctx, "DELETE FROM device_status_history WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning status history: %w", err)
	}
	return res.RowsAffected()
}

func clampHistoryLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultHistoryLimit
	case limit > maxHistoryLimit:
		return maxHistoryLimit
	default:
		return limit
	}
}

func scanHistoryEntry(rows *sql.Rows) (StatusHistoryEntry, error) {
	var (
		entry     StatusHistoryEntry
		snapshot  string
		createdAt string
	)
	if err := rows.Scan(&entry.ID, &entry.DeviceID, &snapshot, &entry.Healthy, &entry.Source, &createdAt); err != nil {
		return entry, fmt.Errorf("scanning status history: %w", err)
	}
	if err := json.Unmarshal([]byte(snapshot), &entry.Status); err != nil {
		return entry, fmt.Errorf("decoding status snapshot %d: %w", entry.ID, err)
	}

	t, err := parseHistoryTimestamp(createdAt)
	if err != nil {
		return entry, fmt.Errorf("status history %d: %w", entry.ID, err)
	}
	entry.CreatedAt = t
	return entry, nil
}

// parseHistoryTimestamp accepts the layout written by RecordStatus and the
// space-separated form SQLite's datetime() produces.
func parseHistoryTimestamp(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateTime, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing created_at %q: %w", value, err)
	}
	return t.UTC(), nil
}
