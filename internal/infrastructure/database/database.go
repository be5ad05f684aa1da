package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/nerrad567/access-control-core/internal/infrastructure/config"
)

// MemoryPath opens a private in-memory database (tests, dry runs).
const MemoryPath = ":memory:"

const (
	// dirPermissions is the permission mode for the database directory.
	dirPermissions = 0750

	// filePermissions is the permission mode for the database file.
	filePermissions = 0600

	// defaultBusyTimeout applies when the config leaves busy_timeout at zero.
	defaultBusyTimeout = 5 * time.Second

	// connectionTimeout bounds the initial ping.
	connectionTimeout = 5 * time.Second

	// connMaxIdleTime is how long idle connections are kept open.
	connMaxIdleTime = 30 * time.Minute
)

// DB wraps a sql.DB holding the audit trail, message log and device
// status history.
type DB struct {
	*sql.DB
	path string
}

// Open connects to the SQLite database at cfg.Path, creating its directory
// when missing, and pings it. Path MemoryPath opens a private in-memory
// database.
func Open(cfg config.DatabaseConfig) (*DB, error) {
	if cfg.Path == "" {
		return nil, errors.New("database path is required")
	}

	memory := cfg.Path == MemoryPath
	if !memory {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), dirPermissions); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite3", buildDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite has a single writer, and a second in-memory connection would
	// see a different, empty database.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	if !memory {
		sqlDB.SetConnMaxIdleTime(connMaxIdleTime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("verifying database connection: %w", err)
	}

	if !memory {
		// The file exists after the ping; tighten it before anything is written.
		if err := os.Chmod(cfg.Path, filePermissions); err != nil && !errors.Is(err, fs.ErrNotExist) {
			sqlDB.Close() //nolint:errcheck // already failing
			return nil, fmt.Errorf("restricting database file: %w", err)
		}
	}

	return &DB{DB: sqlDB, path: cfg.Path}, nil
}

// buildDSN renders the go-sqlite3 connection string for cfg.
func buildDSN(cfg config.DatabaseConfig) string {
	busy := time.Duration(cfg.BusyTimeout) * time.Second
	if busy <= 0 {
		busy = defaultBusyTimeout
	}

	params := url.Values{}
	params.Set("_busy_timeout", strconv.FormatInt(busy.Milliseconds(), 10))
	params.Set("_foreign_keys", "on")
	if cfg.WALMode && cfg.Path != MemoryPath {
		params.Set("_journal_mode", "WAL")
		params.Set("_synchronous", "NORMAL")
	}
	return "file:" + cfg.Path + "?" + params.Encode()
}

// Close closes the database connection.
func (db *DB) Close() error {
	if db.DB == nil {
		return nil
	}
	if err := db.DB.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}

// Path returns the filesystem path to the database file.
func (db *DB) Path() string {
	return db.path
}

// HealthCheck verifies the database answers a trivial query.
func (db *DB) HealthCheck(ctx context.Context) error {
	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}
