package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AuditLog represents a single audit trail entry.
type AuditLog struct { //nolint:revive // audit.AuditLog is clearer than audit.Log in calling code
	ID         string         `json:"id"`
	Action     string         `json:"action"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id,omitempty"`
	UserID     string         `json:"user_id,omitempty"`
	Source     string         `json:"source"`
	Details    map[string]any `json:"details,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Audit actions recorded by the access control core.
const (
	ActionUnlock    = "unlock"
	ActionLock      = "lock"
	ActionStatus    = "status_request"
	ActionLockdown  = "emergency_lockdown"
	ActionPublish   = "publish"
	ActionMQTTState = "mqtt_state_change"
)

// Audit sources.
const (
	SourceAPI    = "api"
	SourceMQTT   = "mqtt"
	SourceSystem = "system"
)

// Filter controls which audit logs to return.
type Filter struct {
	Action     string    // optional: filter by action (unlock, lock, emergency_lockdown, publish, ...)
	EntityType string    // optional: filter by entity type (device, topic, connection)
	EntityID   string    // optional: filter by specific entity ID
	Source     string    // optional: filter by source (api, mqtt, system)
	Since      time.Time // optional: entries at or after this time
	Until      time.Time // optional: entries before this time
	Limit      int       // default 50, max 200
	Offset     int       // pagination offset
}

// ListResult contains the paginated audit log results.
type ListResult struct {
	Logs   []AuditLog `json:"logs"`
	Total  int        `json:"total"`
	Limit  int        `json:"limit"`
	Offset int        `json:"offset"`
}

// Repository defines the interface for audit log and message log operations.
type Repository interface {
	Create(ctx context.Context, log *AuditLog) error
	List(ctx context.Context, filter Filter) (*ListResult, error)

	RecordMessage(ctx context.Context, topic string, payload []byte) error
	ListMessages(ctx context.Context, filter MessageFilter) (*MessageListResult, error)
	GetMessage(ctx context.Context, id string) (*MessageLog, error)
}

// SQLiteRepository stores audit logs and the MQTT message log in SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new audit log repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create stores entry, filling in ID, CreatedAt and Source when they are
// empty. Action and EntityType are required.
func (r *SQLiteRepository) Create(ctx context.Context, entry *AuditLog) error {
	if entry.Action == "" || entry.EntityType == "" {
		return ErrActionRequired
	}
	if entry.ID == "" {
		entry.ID = "aud-" + uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.Source == "" {
		entry.Source = SourceSystem
	}

	var details any
	if len(entry.Details) > 0 {
		b, err := json.Marshal(entry.Details)
		if err != nil {
			return fmt.Errorf("encoding details for %s: %w", entry.Action, err)
		}
		details = string(b)
	}

	if _, err := r.db.ExecContext(ctx,
		"INSERT INTO audit_logs ("+auditColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		entry.ID, entry.Action, entry.EntityType,
		nullableString(entry.EntityID), nullableString(entry.UserID),
		entry.Source, details, entry.CreatedAt.UTC().Format(timeLayout),
	); err != nil {
		return fmt.Errorf("storing audit entry %s: %w", entry.Action, err)
	}
	return nil
}

// List returns audit logs matching the filter, newest first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	filter.Limit, filter.Offset = clampPage(filter.Limit, filter.Offset)

	var w where
	w.eq("action", filter.Action)
	w.eq("entity_type", filter.EntityType)
	w.eq("entity_id", filter.EntityID)
	w.eq("source", filter.Source)
	w.timeRange("created_at", filter.Since, filter.Until)

	total, rows, err := page(ctx, r.db, "audit_logs", auditColumns, &w, filter.Limit, filter.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := []AuditLog{}
	for rows.Next() {
		entry, err := scanAuditLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit logs: %w", err)
	}

	return &ListResult{
		Logs:   logs,
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	}, nil
}

const auditColumns = "id, action, entity_type, entity_id, user_id, source, details, created_at"

func scanAuditLog(row rowScanner) (AuditLog, error) {
	var (
		entry                     AuditLog
		entityID, userID, details sql.NullString
		createdAt                 string
	)
	if err := row.Scan(&entry.ID, &entry.Action, &entry.EntityType,
		&entityID, &userID, &entry.Source, &details, &createdAt); err != nil {
		return AuditLog{}, fmt.Errorf("scanning audit log: %w", err)
	}

	entry.EntityID = entityID.String
	entry.UserID = userID.String

	// Details that no longer decode are dropped rather than failing the page.
	if details.String != "" {
		_ = json.Unmarshal([]byte(details.String), &entry.Details)
	}

	t, err := parseTimestamp(createdAt)
	if err != nil {
		return AuditLog{}, fmt.Errorf("parsing audit log timestamp %q: %w", createdAt, err)
	}
	entry.CreatedAt = t
	return entry, nil
}
