package database

import (
	"cmp"
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"slices"
	"strings"
	"time"
)

// Migration is one versioned schema change, loaded from a pair of files
// named VERSION_description.up.sql and VERSION_description.down.sql where
// VERSION is YYYYMMDD_HHMMSS. The down file is optional.
type Migration struct {
	Version string
	Name    string
	UpSQL   string
	DownSQL string
}

// MigrationRecord is a row in schema_migrations.
type MigrationRecord struct {
	Version   string
	AppliedAt time.Time
}

const schemaMigrationsDDL = `CREATE TABLE IF NOT EXISTS schema_migrations (
	version TEXT PRIMARY KEY,
	applied_at TEXT NOT NULL
) STRICT`

// Migrate applies the pending migrations in fsys, oldest first, each in its
// own transaction. After a failure the earlier ones stay applied and the
// next run resumes at the one that failed.
func (db *DB) Migrate(ctx context.Context, fsys fs.FS) error {
	_, pending, err := db.MigrationStatus(ctx, fsys)
	if err != nil {
		return err
	}

	for _, m := range pending {
		err := db.inTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, m.UpSQL); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx,
				"INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)",
				m.Version, time.Now().UTC().Format(time.RFC3339))
			return err
		})
		if err != nil {
			return fmt.Errorf("migration %s_%s: %w", m.Version, m.Name, err)
		}
	}
	return nil
}

// MigrateDown reverts the newest applied migration. It is a no-op when
// nothing has been applied.
func (db *DB) MigrateDown(ctx context.Context, fsys fs.FS) error {
	applied, _, err := db.MigrationStatus(ctx, fsys)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		return nil
	}
	version := applied[len(applied)-1].Version

	all, err := LoadMigrations(fsys)
	if err != nil {
		return err
	}
	i := slices.IndexFunc(all, func(m Migration) bool { return m.Version == version })
	switch {
	case i < 0:
		return fmt.Errorf("applied migration %s has no files", version)
	case all[i].DownSQL == "":
		return fmt.Errorf("migration %s has no down file", version)
	}

	err = db.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, all[i].DownSQL); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, "DELETE FROM schema_migrations WHERE version = ?", version)
		return err
	})
	if err != nil {
		return fmt.Errorf("reverting migration %s: %w", version, err)
	}
	return nil
}

// MigrationStatus reports which migrations in fsys have been applied and
// which are pending.
func (db *DB) MigrationStatus(ctx context.Context, fsys fs.FS) (applied []MigrationRecord, pending []Migration, err error) {
	if _, err := db.ExecContext(ctx, schemaMigrationsDDL); err != nil {
		return nil, nil, fmt.Errorf("creating schema_migrations: %w", err)
	}

	applied, err = db.appliedMigrations(ctx)
	if err != nil {
		return nil, nil, err
	}
	all, err := LoadMigrations(fsys)
	if err != nil {
		return nil, nil, err
	}

	for _, m := range all {
		isApplied := slices.ContainsFunc(applied, func(r MigrationRecord) bool { return r.Version == m.Version })
		if !isApplied {
			pending = append(pending, m)
		}
	}
	return applied, pending, nil
}

func (db *DB) appliedMigrations(ctx context.Context) ([]MigrationRecord, error) {
	rows, err := db.QueryContext(ctx, "SELECT version, applied_at FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("reading schema_migrations: %w", err)
	}
	defer rows.Close()

	var records []MigrationRecord
	for rows.Next() {
		var (
			r  MigrationRecord
			at string
		)
		if err := rows.Scan(&r.Version, &at); err != nil {
			return nil, fmt.Errorf("reading schema_migrations: %w", err)
		}
		r.AppliedAt, _ = time.Parse(time.RFC3339, at) //nolint:errcheck // informational
		records = append(records, r)
	}
	return records, rows.Err()
}

// inTx runs fn in a transaction, committing only if fn succeeds.
func (db *DB) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback() //nolint:errcheck // fn's error is the one that matters
		return err
	}
	return tx.Commit()
}

// LoadMigrations reads the migrations at the root of fsys, sorted by
// version. Files outside the naming scheme and down files without an up
// file are ignored.
func LoadMigrations(fsys fs.FS) ([]Migration, error) {
	if fsys == nil {
		return nil, nil
	}

	names, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		return nil, fmt.Errorf("listing migrations: %w", err)
	}

	byVersion := make(map[string]*Migration)
	for _, file := range names {
		version, isUp, ok := parseMigrationFilename(file)
		if !ok {
			continue
		}
		body, err := fs.ReadFile(fsys, file)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", file, err)
		}

		m, seen := byVersion[version]
		if !seen {
			m = &Migration{Version: version, Name: extractMigrationName(file)}
			byVersion[version] = m
		}
		if isUp {
			m.UpSQL = string(body)
		} else {
			m.DownSQL = string(body)
		}
	}

	out := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.UpSQL != "" {
			out = append(out, *m)
		}
	}
	slices.SortFunc(out, func(a, b Migration) int { return cmp.Compare(a.Version, b.Version) })
	return out, nil
}

// splitMigrationFilename breaks "20261019_120000_initial_schema.up.sql"
// into its version, description and direction.
func splitMigrationFilename(file string) (version, name string, isUp, ok bool) {
	stem, found := strings.CutSuffix(file, ".sql")
	if !found {
		return "", "", false, false
	}
	if s, up := strings.CutSuffix(stem, ".up"); up {
		stem, isUp = s, true
	} else if s, down := strings.CutSuffix(stem, ".down"); down {
		stem = s
	} else {
		return "", "", false, false
	}

	date, rest, found := strings.Cut(stem, "_")
	if !found {
		return "", "", false, false
	}
	clock, name, _ := strings.Cut(rest, "_")
	return date + "_" + clock, name, isUp, true
}

func parseMigrationFilename(file string) (version string, isUp bool, ok bool) {
	version, _, isUp, ok = splitMigrationFilename(file)
	return version, isUp, ok
}

// extractMigrationName returns the description part of a migration file
// name, or the bare stem when there is none.
func extractMigrationName(file string) string {
	if _, name, _, ok := splitMigrationFilename(file); ok && name != "" {
		return name
	}
	stem := strings.TrimSuffix(file, ".sql")
	stem = strings.TrimSuffix(stem, ".up")
	return strings.TrimSuffix(stem, ".down")
}
