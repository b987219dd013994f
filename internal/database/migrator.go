package database

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

type Migrator struct {
	db *sqlx.DB

	logger *slog.Logger
}

func NewDatabaseMigrator(db *sqlx.DB, logger *slog.Logger) *Migrator {
	return &Migrator{
		db:     db,
		logger: logger,
	}
}

// Migrate creates schemaName when missing and applies every pending migration
// inside it.
func (m *Migrator) Migrate(ctx context.Context, schemaName string) error {
	instance, closeFn, err := m.instance(ctx, schemaName)
	if err != nil {
		return err
	}
	defer closeFn()

	m.logger.InfoContext(ctx, "Starting migrations...", slog.String("schema", schemaName))
	if err := instance.Up(); err != nil {
		if !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("migrate: failed to migrate: %w", err)
		}
		m.logger.InfoContext(ctx, "No migrations to run.")
	}
	m.logger.InfoContext(ctx, "Migrations completed successfully.")
	return nil
}

// Down reverts every migration in schemaName.
func (m *Migrator) Down(ctx context.Context, schemaName string) error {
	instance, closeFn, err := m.instance(ctx, schemaName)
	if err != nil {
		return err
	}
	defer closeFn()
	if err := instance.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate: failed to migrate down: %w", err)
	}
	return nil
}

func (m *Migrator) instance(ctx context.Context, schemaName string) (*migrate.Migrate, func(), error) {
	dbName, err := CurrentDatabase(ctx, m.db)
	if err != nil {
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}

	conn, err := m.db.Conn(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("migrate: failed to connect to db: %w", err)
	}

	_, err = conn.ExecContext(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", pq.QuoteIdentifier(schemaName)))
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("migrate: failed to create schema: %w", err)
	}

	_, err = conn.ExecContext(ctx, fmt.Sprintf("SET search_path TO %s", pq.QuoteIdentifier(schemaName)))
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("migrate: failed to set search path: %w", err)
	}

	migrationSource, err := iofs.New(embeddedMigrations, "migrations")
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("migrate: failed to create driver from embedded migrations: %w", err)
	}

	dbDriver, err := postgres.WithConnection(ctx, conn, &postgres.Config{
		DatabaseName: dbName,
		SchemaName:   schemaName,
	})
	if err != nil {
		migrationSource.Close()
		conn.Close()
		return nil, nil, fmt.Errorf("migrate: failed to create postgres driver: %w", err)
	}

	instance, err := migrate.NewWithInstance("iofs", migrationSource, "postgres", dbDriver)
	if err != nil {
		migrationSource.Close()
		conn.Close()
		return nil, nil, fmt.Errorf("migrate: failed to create migration instance: %w", err)
	}
	// Closing the instance closes the source and the driver, which owns conn.
	return instance, func() { instance.Close() }, nil
}
