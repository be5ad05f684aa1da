package main

import (
	"context"
	"fmt"
	"io"

	"github.com/nerrad567/access-control-core/internal/infrastructure/config"
	"github.com/nerrad567/access-control-core/internal/infrastructure/database"
	"github.com/nerrad567/access-control-core/migrations"
)

const migrateUsage = "usage: accessd migrate [up|down|status]"

// runMigrate handles "accessd migrate". With no argument it applies pending
// migrations, the same step run performs at startup.
func runMigrate(ctx context.Context, args []string, out io.Writer) error {
	action := "up"
	if len(args) > 0 {
		action = args[0]
	}
	if len(args) > 1 {
		return fmt.Errorf("%s", migrateUsage)
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	switch action {
	case "up":
		if err := db.Migrate(ctx, migrations.FS); err != nil {
			return err
		}
	case "down":
		if err := db.MigrateDown(ctx, migrations.FS); err != nil {
			return err
		}
	case "status":
	default:
		return fmt.Errorf("unknown migrate action %q; %s", action, migrateUsage)
	}

	applied, pending, err := db.MigrationStatus(ctx, migrations.FS)
	if err != nil {
		return err
	}
	for _, r := range applied {
		fmt.Fprintf(out, "applied  %s  %s\n", r.Version, r.AppliedAt.Format("2006-01-02 15:04:05"))
	}
	for _, m := range pending {
		fmt.Fprintf(out, "pending  %s  %s\n", m.Version, m.Name)
	}
	return nil
}
