package harvest

import (
	"context"
	"database/sql/driver"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
)

// monthTestColumns mirrors monthColumns for building mock rows.
var monthTestColumns = []string{
	"year", "month", "status", "retry_count",
	"started_at", "completed_at", "last_retry_at",
	"books_generated", "isbns_resolved", "resolution_rate", "isbns_queued",
	"error_message",
}

func newTestState(t *testing.T) (*State, sqlmock.Sqlmock, func()) {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}

	db := sqlx.NewDb(mockDB, "postgres")
	return NewState(db, 0), mock, func() { mockDB.Close() }
}

func expectationsMet(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func monthRow(year, month int, status Status) []driver.Value {
	return []driver.Value{year, month, string(status), 0, nil, nil, nil, 0, 0, 0.0, 0, nil}
}

func TestState_SelectBatch_DescendingSnapshot(t *testing.T) {
	state, mock, cleanup := newTestState(t)
	defer cleanup()

	rows := sqlmock.NewRows(monthTestColumns).
		AddRow(monthRow(2024, 3, StatusPending)...).
		AddRow(monthRow(2024, 2, StatusRetry)...)

	mock.ExpectQuery("FROM harvest_months").
		WithArgs(DefaultMaxRetries, 2).
		WillReturnRows(rows)

	months, err := state.SelectBatch(context.Background(), 2)
	if err != nil {
		t.Fatalf("SelectBatch() error = %v", err)
	}
	if len(months) != 2 {
		t.Fatalf("SelectBatch() returned %d months, want 2", len(months))
	}
	if months[0].Ref() != "2024-03" || months[1].Ref() != "2024-02" {
		t.Errorf("batch order = %s, %s; want 2024-03, 2024-02", months[0].Ref(), months[1].Ref())
	}

	expectationsMet(t, mock)
}

func TestState_MarkProcessing_Guarded(t *testing.T) {
	state, mock, cleanup := newTestState(t)
	defer cleanup()

	ctx := context.Background()

	// First transition moves the row.
	mock.ExpectExec("UPDATE harvest_months").
		WithArgs(2024, 3).
		WillReturnResult(sqlmock.NewResult(0, 1))

	moved, err := state.MarkProcessing(ctx, state.db, 2024, 3)
	if err != nil {
		t.Fatalf("MarkProcessing() error = %v", err)
	}
	if !moved {
		t.Error("MarkProcessing() = false, want true")
	}

	// A concurrently-processing row is not clobbered: guard matches no rows.
	mock.ExpectExec("UPDATE harvest_months").
		WithArgs(2024, 3).
		WillReturnResult(sqlmock.NewResult(0, 0))

	moved, err = state.MarkProcessing(ctx, state.db, 2024, 3)
	if err != nil {
		t.Fatalf("MarkProcessing() second call error = %v", err)
	}
	if moved {
		t.Error("MarkProcessing() on processing row = true, want false")
	}

	expectationsMet(t, mock)
}

func TestState_RecordMonthComplete_Idempotent(t *testing.T) {
	state, mock, cleanup := newTestState(t)
	defer cleanup()

	ctx := context.Background()
	stats := MonthStats{BooksGenerated: 40, ISBNsResolved: 30, ResolutionRate: 0.75, ISBNsQueued: 12}

	// First call: guarded update fires, roll-up sees 3 of 12 complete.
	mock.ExpectExec("UPDATE harvest_months").
		WithArgs(2024, 3, 40, 30, 0.75, 12).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("FROM harvest_months").
		WithArgs(2024).
		WillReturnRows(sqlmock.NewRows([]string{"completed", "total"}).AddRow(3, 12))

	first, err := state.RecordMonthComplete(ctx, state.db, 2024, 3, stats)
	if err != nil {
		t.Fatalf("RecordMonthComplete() error = %v", err)
	}

	// Second call: guard matches nothing, roll-up is unchanged.
	mock.ExpectExec("UPDATE harvest_months").
		WithArgs(2024, 3, 40, 30, 0.75, 12).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("FROM harvest_months").
		WithArgs(2024).
		WillReturnRows(sqlmock.NewRows([]string{"completed", "total"}).AddRow(3, 12))

	second, err := state.RecordMonthComplete(ctx, state.db, 2024, 3, stats)
	if err != nil {
		t.Fatalf("RecordMonthComplete() duplicate error = %v", err)
	}

	if first != second {
		t.Errorf("duplicate completion changed roll-up: first = %+v, second = %+v", first, second)
	}
	if first.MonthsCompleted != 3 || first.YearIsComplete {
		t.Errorf("roll-up = %+v, want 3 completed, year incomplete", first)
	}

	expectationsMet(t, mock)
}

func TestState_RecordMonthComplete_YearRollup(t *testing.T) {
	state, mock, cleanup := newTestState(t)
	defer cleanup()

	mock.ExpectExec("UPDATE harvest_months").
		WithArgs(2023, 12, 0, 0, 0.0, 0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("FROM harvest_months").
		WithArgs(2023).
		WillReturnRows(sqlmock.NewRows([]string{"completed", "total"}).AddRow(12, 12))

	got, err := state.RecordMonthComplete(context.Background(), state.db, 2023, 12, MonthStats{})
	if err != nil {
		t.Fatalf("RecordMonthComplete() error = %v", err)
	}
	if !got.YearIsComplete {
		t.Error("YearIsComplete = false, want true after twelfth month")
	}

	expectationsMet(t, mock)
}

func TestState_RecordFailure(t *testing.T) {
	state, mock, cleanup := newTestState(t)
	defer cleanup()

	mock.ExpectExec("UPDATE harvest_months").
		WithArgs(2024, 5, "enqueue timed out", DefaultMaxRetries).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := state.RecordFailure(context.Background(), 2024, 5, "enqueue timed out"); err != nil {
		t.Fatalf("RecordFailure() error = %v", err)
	}

	expectationsMet(t, mock)
}

func TestState_SeedRange_InvalidRange(t *testing.T) {
	state, _, cleanup := newTestState(t)
	defer cleanup()

	if _, err := state.SeedRange(context.Background(), 2024, 2020); err == nil {
		t.Error("SeedRange() with inverted range should fail")
	}
}

func TestState_IsMonthComplete_MissingRow(t *testing.T) {
	state, mock, cleanup := newTestState(t)
	defer cleanup()

	mock.ExpectQuery("SELECT status").
		WithArgs(1987, 6).
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}))

	done, err := state.IsMonthComplete(context.Background(), 1987, 6)
	if err != nil {
		t.Fatalf("IsMonthComplete() error = %v", err)
	}
	if done {
		t.Error("IsMonthComplete() for unseeded month = true, want false")
	}

	expectationsMet(t, mock)
}

func TestState_NextMonth_CompleteYear(t *testing.T) {
	state, mock, cleanup := newTestState(t)
	defer cleanup()

	mock.ExpectQuery("SELECT month").
		WithArgs(2020).
		WillReturnRows(sqlmock.NewRows([]string{"month"}))

	_, ok, err := state.NextMonth(context.Background(), 2020)
	if err != nil {
		t.Fatalf("NextMonth() error = %v", err)
	}
	if ok {
		t.Error("NextMonth() for complete year reported a month")
	}

	expectationsMet(t, mock)
}
