package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MessageLog is one MQTT message as it arrived, or a record derived from one
// (acks, status snapshots, alerts).
type MessageLog struct {
	ID        string    `json:"id"`
	Topic     string    `json:"topic"`
	Payload   string    `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
}

// MessageFilter controls which message logs to return.
type MessageFilter struct {
	TopicPrefix string    // optional: only topics starting with this prefix
	Since       time.Time // optional: only messages at or after this time
	Limit       int       // default 50, max 200
	Offset      int       // pagination offset
}

// MessageListResult contains the paginated message log results.
type MessageListResult struct {
	Messages []MessageLog `json:"messages"`
	Total    int          `json:"total"`
	Limit    int          `json:"limit"`
	Offset   int          `json:"offset"`
}

// RecordMessage appends a message to the mqtt_messages table.
// It satisfies router.MessageRecorder and device.MessageRecorder.
func (r *SQLiteRepository) RecordMessage(ctx context.Context, topic string, payload []byte) error {
	if topic == "" {
		return ErrTopicRequired
	}

	_, err := r.db.ExecContext(ctx,
		"INSERT INTO mqtt_messages (id, topic, payload, created_at) VALUES (?, ?, ?, ?)",
		"msg-"+uuid.NewString(),
		topic,
		string(payload),
		time.Now().UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting message log: %w", err)
	}
	return nil
}

// ListMessages returns message logs matching the filter, newest first.
func (r *SQLiteRepository) ListMessages(ctx context.Context, filter MessageFilter) (*MessageListResult, error) {
	filter.Limit, filter.Offset = clampPage(filter.Limit, filter.Offset)

	var w where
	w.prefix("topic", filter.TopicPrefix)
	w.timeRange("created_at", filter.Since, time.Time{})

	total, rows, err := page(ctx, r.db, "mqtt_messages", messageColumns, &w, filter.Limit, filter.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []MessageLog{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message logs: %w", err)
	}

	return &MessageListResult{
		Messages: messages,
		Total:    total,
		Limit:    filter.Limit,
		Offset:   filter.Offset,
	}, nil
}

// GetMessage returns a single message log by ID.
// Returns ErrMessageNotFound if no such message exists.
func (r *SQLiteRepository) GetMessage(ctx context.Context, id string) (*MessageLog, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+messageColumns+" FROM mqtt_messages WHERE id = ?", id)

	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMessageNotFound
	}
	return m, err
}

// PruneMessages deletes message logs older than the given duration and
// returns the number removed.
func (r *SQLiteRepository) PruneMessages(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := time.Now().UTC().Add(-olderThan).Format(timeLayout)
	result, err := r.db.ExecContext(ctx, "DELETE FROM mqtt_messages WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting message logs: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

const messageColumns = "id, topic, payload, created_at"

func scanMessage(row rowScanner) (*MessageLog, error) {
	var m MessageLog
	var createdAt string
	if err := row.Scan(&m.ID, &m.Topic, &m.Payload, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning message log: %w", err)
	}

	t, err := parseTimestamp(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing message log timestamp %q: %w", createdAt, err)
	}
	m.CreatedAt = t
	return &m, nil
}
