// Package health provides readiness checks for the feed service's
// external dependencies.
package health

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrSchemaMissing is returned when the database is reachable but the feed
// schema has not been migrated.
var ErrSchemaMissing = errors.New("feed schema not migrated")

// DBChecker checks PostgreSQL connectivity and that the content catalog
// table exists.
type DBChecker struct {
	db *sql.DB
}

// NewDBChecker creates a new database health checker.
func NewDBChecker(db *sql.DB) *DBChecker {
	return &DBChecker{db: db}
}

// HealthCheck pings the database, then confirms the catalog table is present.
func (d *DBChecker) HealthCheck(ctx context.Context) error {
	if err := d.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}

	var present bool
	err := d.db.QueryRowContext(ctx, `SELECT to_regclass('public.content_items') IS NOT NULL`).Scan(&present)
	if err != nil {
		return fmt.Errorf("schema check: %w", err)
	}
	if !present {
		return ErrSchemaMissing
	}
	return nil
}
