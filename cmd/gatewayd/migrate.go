package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nevindra/taskgate/internal/config"
	"github.com/nevindra/taskgate/store/postgres"
	"github.com/nevindra/taskgate/store/sqlite"
)

func newMigrateCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations without starting the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd.Context(), config.Load(*configPath))
		},
	}
}

// runMigrate applies schema migrations for the configured store driver.
// SQLite has no separate migration step: Store.Init's schema-version
// reconciliation (store/sqlite/sqlite.go) runs the rename-aside-or-delete
// check and recreates tables in place, so it doubles as its own migrate
// command. Postgres uses golang-migrate against the embedded migrations
// directory (store/postgres/migrate.go).
func runMigrate(ctx context.Context, cfg config.Config) error {
	switch cfg.Store.Driver {
	case "", "sqlite":
		s := sqlite.New(cfg.Store.DSN)
		defer s.Close()
		if err := s.Init(ctx); err != nil {
			return fmt.Errorf("reconcile sqlite schema: %w", err)
		}
		fmt.Println("sqlite schema is up to date")
		return nil
	case "postgres":
		if err := postgres.Migrate(cfg.Store.DSN); err != nil {
			return fmt.Errorf("apply postgres migrations: %w", err)
		}
		fmt.Println("postgres migrations applied")
		return nil
	default:
		return fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}
