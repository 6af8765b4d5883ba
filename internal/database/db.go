package database

import (
	"context"
	"database/sql"
	"fmt"

	"pricealerts/internal/config"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// Open opens the Postgres pool and verifies the connection.
func Open(ctx context.Context, cfg config.Database, log *zap.Logger) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info("Database connection established",
		zap.Int("max_open_conns", cfg.MaxOpenConns),
		zap.Int("max_idle_conns", cfg.MaxIdleConns),
	)
	return db, nil
}

// schema is applied by Migrate. Statements are idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS principals (
		id TEXT PRIMARY KEY
	)`,
	`CREATE TABLE IF NOT EXISTS alerts (
		id BIGSERIAL PRIMARY KEY,
		owner_id TEXT NOT NULL REFERENCES principals(id) ON DELETE CASCADE,
		target_price DOUBLE PRECISION NOT NULL CHECK (target_price > 0),
		status VARCHAR(20) NOT NULL DEFAULT 'created',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS alerts_owner_status_id_idx ON alerts (owner_id, status, id)`,
}

// Migrate creates the principals and alerts tables if they are missing.
func Migrate(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin migration: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range schema {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return tx.Commit()
}

// RegisterPrincipal inserts a principal row so alerts can reference it.
// The identity provider owns principals; this exists for local setups.
func RegisterPrincipal(ctx context.Context, db *sql.DB, id string) error {
	_, err := db.ExecContext(ctx, `INSERT INTO principals (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, id)
	if err != nil {
		return fmt.Errorf("failed to register principal %q: %w", id, err)
	}
	return nil
}
