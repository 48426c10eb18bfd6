package postgres

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver for golang-migrate
)

//go:embed migrations
var migrationsFS embed.FS

// Migrate applies every pending versioned migration to the database named
// by dsn, tracking applied versions in golang-migrate's own
// schema_migrations table. This is the production schema-versioning path
// (the "gatewayd migrate" subcommand); Store.Init's inline DDL remains the
// fast path used directly against an already-open pool in tests and local
// development, grounded on the same CREATE TABLE IF NOT EXISTS statements
// so the two never drift.
//
// Grounded on codeready-toolchain-tarsy's pkg/database/client.go, which
// wires golang-migrate the same way: an embedded iofs source driver over a
// postgres database driver built from a database/sql connection opened
// with the pgx stdlib driver.
func Migrate(dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create postgres migration driver: %w", err)
	}
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("open embedded migrations: %w", err)
	}
	defer source.Close()

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}
