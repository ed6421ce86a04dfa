package database

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
)

//go:embed migrations/001_tasks.up.sql
var tasksMigrationSQL string

// schemaLockID serializes schema setup when several servers share a database.
const schemaLockID = 0x7472616e73666572

// EnsureSchema applies the task schema. The statements are idempotent, so it
// runs on every start inside a transaction holding an advisory lock.
func (db *DB) EnsureSchema(ctx context.Context) error {
	if db == nil || db.Pool == nil {
		return errors.New("database pool is not initialized")
	}

	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin schema transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(schemaLockID)); err != nil {
		return fmt.Errorf("lock schema: %w", err)
	}
	if _, err := tx.Exec(ctx, tasksMigrationSQL); err != nil {
		return fmt.Errorf("apply task migration: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}

	slog.Info("database schema ensured")
	return nil
}
