// Command migrate manages the analysis schema.
//
//	go run ./cmd/migrate          # apply pending migrations
//	go run ./cmd/migrate status   # print the applied version
//	go run ./cmd/migrate down     # revert the latest migration
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"anamnesis-backend/internal/shared/config"
	"anamnesis-backend/internal/shared/storage/db"
	"anamnesis-backend/internal/shared/telemetry"
)

func main() {
	cfg := config.Load()
	telemetry.SetLevel(cfg.LogLevel)

	action := "up"
	if len(os.Args) > 1 {
		action = os.Args[1]
	}
	if err := run(context.Background(), cfg.DatabaseURL, action); err != nil {
		telemetry.Error("migrate.failed", map[string]any{"action": action, "error": err.Error()})
		os.Exit(1)
	}
}

func run(ctx context.Context, databaseURL, action string) error {
	step, ok := actions[action]
	if !ok {
		return fmt.Errorf("unknown action %q (want up, down or status)", action)
	}
	sqlDB, err := db.Connect(ctx, databaseURL, db.OptionsFromEnv(db.DefaultMigrateOptions()))
	if err != nil {
		return err
	}
	defer sqlDB.Close()
	return step(ctx, sqlDB)
}

var actions = map[string]func(context.Context, *sql.DB) error{
	"up": func(ctx context.Context, d *sql.DB) error {
		if err := db.RunMigrations(ctx, d); err != nil {
			return err
		}
		telemetry.Info("migrate.done", nil)
		return nil
	},
	"down": func(ctx context.Context, d *sql.DB) error {
		if err := db.RollbackMigration(ctx, d); err != nil {
			return err
		}
		return report(ctx, d, "migrate.rolled_back")
	},
	"status": func(ctx context.Context, d *sql.DB) error {
		return report(ctx, d, "migrate.status")
	},
}

func report(ctx context.Context, d *sql.DB, event string) error {
	version, err := db.SchemaVersion(ctx, d)
	if err != nil {
		return err
	}
	telemetry.Info(event, map[string]any{"version": version})
	return nil
}
