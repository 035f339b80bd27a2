// Package harvest is the durable progress ledger for the backfill: one row
// per calendar month, a status state machine, and the roll-up queries the
// scheduler and admin surface read.
package harvest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// monthColumns lists columns for SELECT queries on harvest_months.
const monthColumns = `year, month, status, retry_count,
	started_at, completed_at, last_retry_at,
	books_generated, isbns_resolved, resolution_rate, isbns_queued,
	error_message`

// DefaultMaxRetries bounds failed -> retry selection.
const DefaultMaxRetries = 5

// State is the harvest ledger repository.
type State struct {
	db         *sqlx.DB
	maxRetries int
}

// NewState creates a ledger repository. maxRetries <= 0 uses the default.
func NewState(db *sqlx.DB, maxRetries int) *State {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &State{db: db, maxRetries: maxRetries}
}

// MaxRetries returns the retry ceiling for failed months.
func (s *State) MaxRetries() int { return s.maxRetries }

// BeginTx opens the transaction that scopes one month's status work.
func (s *State) BeginTx(ctx context.Context) (*sqlx.Tx, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin ledger transaction: %w", err)
	}
	return tx, nil
}

// SeedRange bulk-inserts pending rows for every month of every year in
// [startYear, endYear]. Existing rows are left untouched, so seeding is
// safe to re-run. Returns the number of rows created.
func (s *State) SeedRange(ctx context.Context, startYear, endYear int) (int64, error) {
	if startYear > endYear {
		return 0, fmt.Errorf("invalid seed range %d..%d", startYear, endYear)
	}
	query := `
		INSERT INTO harvest_months (year, month, status)
		SELECT y, m, 'pending'
		FROM generate_series($1::int, $2::int) AS y,
		     generate_series(1, 12) AS m
		ON CONFLICT (year, month) DO NOTHING
	`
	res, err := s.db.ExecContext(ctx, query, startYear, endYear)
	if err != nil {
		return 0, fmt.Errorf("failed to seed harvest ledger: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count seeded rows: %w", err)
	}
	return n, nil
}

// SelectBatch reads the eligible months for one scheduler run as a single
// snapshot query: pending months plus failed/retry months under the retry
// ceiling, most recent period first.
func (s *State) SelectBatch(ctx context.Context, limit int) ([]Month, error) {
	query := `
		SELECT ` + monthColumns + `
		FROM harvest_months
		WHERE status = 'pending'
		   OR (status IN ('failed', 'retry') AND retry_count < $1)
		ORDER BY year DESC, month DESC
		LIMIT $2
	`
	months := []Month{}
	if err := s.db.SelectContext(ctx, &months, query, s.maxRetries, limit); err != nil {
		return nil, fmt.Errorf("failed to select harvest batch: %w", err)
	}
	return months, nil
}

// MarkRetry transitions a failed month to retry inside the caller's
// transaction. Reports whether a row actually moved.
func (s *State) MarkRetry(ctx context.Context, q sqlx.ExtContext, year, month int) (bool, error) {
	query := `
		UPDATE harvest_months
		SET status = 'retry', last_retry_at = NOW()
		WHERE year = $1 AND month = $2 AND status = 'failed'
	`
	res, err := q.ExecContext(ctx, query, year, month)
	if err != nil {
		return false, fmt.Errorf("failed to mark %04d-%02d retry: %w", year, month, err)
	}
	return oneRowMoved(res)
}

// MarkProcessing transitions pending|retry -> processing inside the caller's
// transaction. The status guard means a concurrently-processing row is never
// clobbered even if the advisory lock were bypassed. Reports whether the
// row actually moved; false means another runner owns it.
func (s *State) MarkProcessing(ctx context.Context, q sqlx.ExtContext, year, month int) (bool, error) {
	query := `
		UPDATE harvest_months
		SET status = 'processing', started_at = NOW(), error_message = NULL
		WHERE year = $1 AND month = $2 AND status IN ('pending', 'retry')
	`
	res, err := q.ExecContext(ctx, query, year, month)
	if err != nil {
		return false, fmt.Errorf("failed to mark %04d-%02d processing: %w", year, month, err)
	}
	return oneRowMoved(res)
}

// RecordMonthComplete finalizes a month and returns the year roll-up.
// Idempotent: the guarded UPDATE only fires while the month is not yet
// completed, so a duplicate call neither double-counts stats nor disturbs
// the roll-up.
func (s *State) RecordMonthComplete(ctx context.Context, q sqlx.ExtContext, year, month int, stats MonthStats) (YearCompletion, error) {
	update := `
		UPDATE harvest_months
		SET status = 'completed',
		    completed_at = NOW(),
		    books_generated = $3,
		    isbns_resolved = $4,
		    resolution_rate = $5,
		    isbns_queued = $6,
		    error_message = NULL
		WHERE year = $1 AND month = $2 AND status <> 'completed'
	`
	if _, err := q.ExecContext(ctx, update, year, month,
		stats.BooksGenerated, stats.ISBNsResolved, stats.ResolutionRate, stats.ISBNsQueued); err != nil {
		return YearCompletion{}, fmt.Errorf("failed to complete %04d-%02d: %w", year, month, err)
	}

	rollup := `
		SELECT
			COUNT(*) FILTER (WHERE status = 'completed') AS completed,
			COUNT(*) AS total
		FROM harvest_months
		WHERE year = $1
	`
	var agg struct {
		Completed int `db:"completed"`
		Total     int `db:"total"`
	}
	if err := sqlx.GetContext(ctx, q, &agg, rollup, year); err != nil {
		return YearCompletion{}, fmt.Errorf("failed to roll up year %d: %w", year, err)
	}

	return YearCompletion{
		Year:            year,
		MonthsCompleted: agg.Completed,
		YearIsComplete:  agg.Total > 0 && agg.Completed == agg.Total,
	}, nil
}

// RecordFailure marks a month failed and bumps its retry count. Runs outside
// the month transaction: the processing transition has already been rolled
// back, so the row is back at pending or retry. Reaching the retry ceiling
// stamps completed_at, which makes the failure terminal.
func (s *State) RecordFailure(ctx context.Context, year, month int, errMsg string) error {
	query := `
		UPDATE harvest_months
		SET status = 'failed',
		    retry_count = retry_count + 1,
		    error_message = $3,
		    completed_at = CASE WHEN retry_count + 1 >= $4 THEN NOW() ELSE completed_at END
		WHERE year = $1 AND month = $2 AND status IN ('pending', 'retry', 'processing')
	`
	if _, err := s.db.ExecContext(ctx, query, year, month, errMsg, s.maxRetries); err != nil {
		return fmt.Errorf("failed to record failure for %04d-%02d: %w", year, month, err)
	}
	return nil
}

// IncompleteYears lists years in [start, end] with any non-completed month,
// most recent first.
func (s *State) IncompleteYears(ctx context.Context, start, end int) ([]int, error) {
	query := `
		SELECT DISTINCT year
		FROM harvest_months
		WHERE year BETWEEN $1 AND $2 AND status <> 'completed'
		ORDER BY year DESC
	`
	years := []int{}
	if err := s.db.SelectContext(ctx, &years, query, start, end); err != nil {
		return nil, fmt.Errorf("failed to list incomplete years: %w", err)
	}
	return years, nil
}

// NextMonth returns the earliest non-completed month of a year, or ok=false
// when the year is fully harvested.
func (s *State) NextMonth(ctx context.Context, year int) (int, bool, error) {
	query := `
		SELECT month
		FROM harvest_months
		WHERE year = $1 AND status <> 'completed'
		ORDER BY month
		LIMIT 1
	`
	var month int
	err := s.db.GetContext(ctx, &month, query, year)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to find next month for %d: %w", year, err)
	}
	return month, true, nil
}

// IsMonthComplete reports whether the month has already been harvested.
func (s *State) IsMonthComplete(ctx context.Context, year, month int) (bool, error) {
	query := `SELECT status = 'completed' FROM harvest_months WHERE year = $1 AND month = $2`
	var done bool
	err := s.db.GetContext(ctx, &done, query, year, month)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check %04d-%02d: %w", year, month, err)
	}
	return done, nil
}

// Summary aggregates ledger-wide counters for the admin surface.
func (s *State) Summary(ctx context.Context) (Summary, error) {
	query := `
		SELECT
			COUNT(*) AS total_months,
			COUNT(*) FILTER (WHERE status = 'pending') AS pending_months,
			COUNT(*) FILTER (WHERE status = 'processing') AS processing_months,
			COUNT(*) FILTER (WHERE status = 'completed') AS completed_months,
			COUNT(*) FILTER (WHERE status = 'failed') AS failed_months,
			COUNT(*) FILTER (WHERE status = 'retry') AS retry_months,
			COALESCE(SUM(books_generated), 0) AS books_generated,
			COALESCE(SUM(isbns_resolved), 0) AS isbns_resolved,
			COALESCE(SUM(isbns_queued), 0) AS isbns_queued
		FROM harvest_months
	`
	var sum Summary
	if err := s.db.GetContext(ctx, &sum, query); err != nil {
		return Summary{}, fmt.Errorf("failed to summarize harvest ledger: %w", err)
	}
	return sum, nil
}

// ListMonths returns ledger rows, optionally filtered by status and/or year
// (zero year means all years). Most recent period first.
func (s *State) ListMonths(ctx context.Context, status Status, year int) ([]Month, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("unknown status %q", status)
	}
	query := `
		SELECT ` + monthColumns + `
		FROM harvest_months
		WHERE ($1 = '' OR status = $1)
		  AND ($2 = 0 OR year = $2)
		ORDER BY year DESC, month DESC
	`
	months := []Month{}
	if err := s.db.SelectContext(ctx, &months, query, string(status), year); err != nil {
		return nil, fmt.Errorf("failed to list harvest months: %w", err)
	}
	return months, nil
}

func oneRowMoved(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n == 1, nil
}
