package device

import (
	"context"
	"time"
)

// Status history source values.
const (
	StatusSourceReport  = "report"
	StatusSourceRequest = "request"
)

// StatusHistoryEntry is one recorded reader status report. The local trail
// survives InfluxDB outages.
type StatusHistoryEntry struct {
	ID        int64     `json:"id"`
	DeviceID  string    `json:"device_id"`
	Status    Status    `json:"status"`
	Healthy   bool      `json:"healthy"` // Status.IsHealthy() when recorded
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
}

// HistoryQuery selects status history for one device.
type HistoryQuery struct {
	DeviceID string
	Since    time.Time // zero means no lower bound; otherwise inclusive
	Limit    int       // default 50, max 200
}

// StatusHistoryRepository stores and retrieves device status history.
// Implementations must be safe for concurrent use.
type StatusHistoryRepository interface {
	// RecordStatus persists a report. source is StatusSourceReport or
	// StatusSourceRequest; empty means report.
	RecordStatus(ctx context.Context, status Status, source string) error

	// GetHistory returns entries matching q, newest first.
	GetHistory(ctx context.Context, q HistoryQuery) ([]StatusHistoryEntry, error)
}
