package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// timeLayout is fixed-width so created_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000Z07:00"

// Page size bounds shared by audit and message queries.
const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// clampPage applies the default and maximum page size.
func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// where accumulates parameterised conditions. Only fixed SQL fragments are
// ever appended to conds; caller values go through args.
type where struct {
	conds []string
	args  []any
}

func (w *where) eq(column, value string) {
	if value == "" {
		return
	}
	w.conds = append(w.conds, column+" = ?")
	w.args = append(w.args, value)
}

func (w *where) prefix(column, value string) {
	if value == "" {
		return
	}
	w.conds = append(w.conds, "substr("+column+", 1, ?) = ?")
	w.args = append(w.args, len(value), value)
}

func (w *where) timeRange(column string, from, to time.Time) {
	if !from.IsZero() {
		w.conds = append(w.conds, column+" >= ?")
		w.args = append(w.args, from.UTC().Format(timeLayout))
	}
	if !to.IsZero() {
		w.conds = append(w.conds, column+" < ?")
		w.args = append(w.args, to.UTC().Format(timeLayout))
	}
}

func (w *where) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

// page counts the rows of table matching w and returns the requested page,
// newest first. columns is the SELECT list handed to the caller's scanner.
func page(ctx context.Context, db *sql.DB, table, columns string, w *where, limit, offset int) (int, *sql.Rows, error) {
	clause := w.String()

	var total int
	countQuery := "SELECT COUNT(*) FROM " + table + clause
	if err := db.QueryRowContext(ctx, countQuery, w.args...).Scan(&total); err != nil {
		return 0, nil, fmt.Errorf("counting %s: %w", table, err)
	}

	query := "SELECT " + columns + " FROM " + table + clause +
		" ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?"
	args := append(append([]any(nil), w.args...), limit, offset)

	rows, err := db.QueryContext(ctx, query, args...) //nolint:sqlclosecheck // closed by caller
	if err != nil {
		return 0, nil, fmt.Errorf("querying %s: %w", table, err)
	}
	return total, rows, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// parseTimestamp accepts the RFC 3339 forms written by this package and
// the SQLite strftime default.
func parseTimestamp(value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err == nil {
		return t, nil
	}
	if t, fallbackErr := time.Parse("2006-01-02T15:04:05Z", value); fallbackErr == nil {
		return t, nil
	}
	return time.Time{}, err
}

// nullableString maps "" to SQL NULL for optional TEXT columns.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
