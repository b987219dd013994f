package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/l0p7/coursemart/internal/config"
)

// NewPostgresDatabase opens the connection pool and verifies it with a ping.
func NewPostgresDatabase(ctx context.Context, cfg config.DatabaseConfig) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to db: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxOpenConns)
	}
	return db, nil
}

// CurrentDatabase returns the name of the database the pool is connected to.
func CurrentDatabase(ctx context.Context, db *sqlx.DB) (string, error) {
	var name string
	if err := db.GetContext(ctx, &name, "SELECT current_database()"); err != nil {
		return "", fmt.Errorf("failed to read current database: %w", err)
	}
	return name, nil
}
