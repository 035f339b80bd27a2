package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// schema is the full DDL for backlist's tables. Statements are idempotent
// so Migrate can run on every start.
var schema = []string{
	`CREATE EXTENSION IF NOT EXISTS pg_trgm`,

	`CREATE TABLE IF NOT EXISTS harvest_months (
		year            INT NOT NULL,
		month           INT NOT NULL CHECK (month BETWEEN 1 AND 12),
		status          TEXT NOT NULL DEFAULT 'pending'
			CHECK (status IN ('pending', 'processing', 'completed', 'failed', 'retry')),
		retry_count     INT NOT NULL DEFAULT 0,
		started_at      TIMESTAMPTZ,
		completed_at    TIMESTAMPTZ,
		last_retry_at   TIMESTAMPTZ,
		books_generated INT NOT NULL DEFAULT 0,
		isbns_resolved  INT NOT NULL DEFAULT 0,
		resolution_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
		isbns_queued    INT NOT NULL DEFAULT 0,
		error_message   TEXT,
		PRIMARY KEY (year, month)
	)`,

	`CREATE INDEX IF NOT EXISTS idx_harvest_months_status
		ON harvest_months (status, year DESC, month DESC)`,

	`CREATE TABLE IF NOT EXISTS books (
		id                TEXT PRIMARY KEY,
		isbn13            TEXT UNIQUE,
		title             TEXT NOT NULL,
		author            TEXT NOT NULL DEFAULT '',
		normalized_title  TEXT NOT NULL DEFAULT '',
		normalized_author TEXT NOT NULL DEFAULT '',
		created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE INDEX IF NOT EXISTS idx_books_normalized_title
		ON books USING gin (normalized_title gin_trgm_ops)`,

	`CREATE TABLE IF NOT EXISTS related_identifiers (
		book_id TEXT NOT NULL REFERENCES books (id),
		isbn13  TEXT NOT NULL,
		PRIMARY KEY (book_id, isbn13)
	)`,

	`CREATE INDEX IF NOT EXISTS idx_related_identifiers_isbn13
		ON related_identifiers (isbn13)`,
}

// Migrate applies the schema. Safe to run repeatedly.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement: %w", err)
		}
	}
	return nil
}
