// Package database provides SQLite connectivity for the access control core.
//
// It manages:
//   - the connection, with WAL mode and a busy timeout for concurrent access
//   - versioned schema migrations read from an fs.FS (see package migrations)
//   - health checks for the /health endpoint
//
// All queries elsewhere use parameterised statements and the database file
// is created with 0600 permissions.
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migrations are additive: new columns must be nullable or carry a default,
// and every .up.sql has a matching .down.sql.
package database
