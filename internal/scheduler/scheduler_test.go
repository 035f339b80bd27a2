package scheduler

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/jackzampolin/backlist/internal/generator"
	"github.com/jackzampolin/backlist/internal/harvest"
	"github.com/jackzampolin/backlist/internal/types"
)

var monthColumns = []string{
	"year", "month", "status", "retry_count",
	"started_at", "completed_at", "last_retry_at",
	"books_generated", "isbns_resolved", "resolution_rate", "isbns_queued",
	"error_message",
}

type testEnv struct {
	sched      *Scheduler
	mock       sqlmock.Sqlmock
	locker     *FakeLocker
	quota      *FakeQuota
	gen        *generator.MockGenerator
	dispatcher *FakeDispatcher
}

func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { mockDB.Close() })

	env := &testEnv{
		mock:       mock,
		locker:     &FakeLocker{},
		quota:      &FakeQuota{Limit: 1000},
		gen:        generator.NewMockGenerator(nil),
		dispatcher: &FakeDispatcher{},
	}

	cfg := Config{
		State:      harvest.NewState(sqlx.NewDb(mockDB, "postgres"), 0),
		Locker:     env.locker,
		Quota:      env.quota,
		Generator:  env.gen,
		Deduper:    PassthroughDeduper{},
		Dispatcher: env.dispatcher,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	env.sched, err = New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return env
}

func monthRow(year, month int, status harvest.Status) []driver.Value {
	return []driver.Value{year, month, string(status), 0, nil, nil, nil, 0, 0, 0.0, 0, nil}
}

// twoBookResult is a generation result with two valid-identifier candidates.
func twoBookResult(titleA, titleB string) *generator.Result {
	return &generator.Result{
		Candidates: []types.Candidate{
			{ISBN: "9780306406157", Title: titleA, Authors: []string{"A"}},
			{ISBN: "9780804429573", Title: titleB, Authors: []string{"B"}},
		},
		Stats: generator.Stats{
			ModelUsed:            "mock",
			ValidIdentifierCount: 2,
			ConfidenceBuckets:    map[string]int{"high": 2},
		},
	}
}

// expectSelect queues the snapshot query returning the given months.
func (env *testEnv) expectSelect(limit int, rows *sqlmock.Rows) {
	env.mock.ExpectQuery("FROM harvest_months").
		WithArgs(harvest.DefaultMaxRetries, limit).
		WillReturnRows(rows)
}

// expectMonthSuccess queues the happy-path transaction for one month that
// generated two candidates, both queued.
func (env *testEnv) expectMonthSuccess(year, month int) {
	env.mock.ExpectBegin()
	env.mock.ExpectExec("UPDATE harvest_months").
		WithArgs(year, month).
		WillReturnResult(sqlmock.NewResult(0, 1))
	env.mock.ExpectExec("UPDATE harvest_months").
		WithArgs(year, month, 2, 2, 1.0, 2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	env.mock.ExpectQuery("FROM harvest_months").
		WithArgs(year).
		WillReturnRows(sqlmock.NewRows([]string{"completed", "total"}).AddRow(1, 12))
	env.mock.ExpectCommit()
}

func TestScheduler_EndToEndBatch(t *testing.T) {
	env := newTestEnv(t, nil)
	env.gen.Result = twoBookResult("First", "Second")

	// Ledger holds 2024-01..03 pending; batch size 2 selects the two most
	// recent months in descending order.
	env.expectSelect(2, sqlmock.NewRows(monthColumns).
		AddRow(monthRow(2024, 3, harvest.StatusPending)...).
		AddRow(monthRow(2024, 2, harvest.StatusPending)...))
	env.expectMonthSuccess(2024, 3)
	env.expectMonthSuccess(2024, 2)

	result, err := env.sched.Run(context.Background(), RunOptions{BatchSize: 2})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if result.Selected != 2 || result.Completed != 2 || result.Skipped != 0 || result.Failed != 0 {
		t.Errorf("result = %+v, want 2 selected, 2 completed", result)
	}
	if result.QuotaExhausted {
		t.Error("QuotaExhausted = true, want false")
	}

	wantOrder := []string{"2024-03", "2024-02"}
	if len(env.locker.Acquired) != 2 || env.locker.Acquired[0] != wantOrder[0] || env.locker.Acquired[1] != wantOrder[1] {
		t.Errorf("lock order = %v, want %v", env.locker.Acquired, wantOrder)
	}
	if len(env.locker.Released) != 2 {
		t.Errorf("released %d locks, want 2", len(env.locker.Released))
	}
	for _, k := range env.locker.Acquired {
		if k == "2024-01" {
			t.Error("2024-01 was touched; it should stay pending outside the batch")
		}
	}
	if env.dispatcher.MessageCount() != 4 {
		t.Errorf("enqueued %d messages, want 4 (2 per month)", env.dispatcher.MessageCount())
	}

	if err := env.mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestScheduler_RollbackIsolation(t *testing.T) {
	env := newTestEnv(t, nil)

	// Five months; the third month's dispatch blows up.
	env.gen.Results = []*generator.Result{
		twoBookResult("A1", "A2"),
		twoBookResult("B1", "B2"),
		twoBookResult("Poison", "C2"),
		twoBookResult("D1", "D2"),
		twoBookResult("E1", "E2"),
	}
	env.dispatcher.FailOnTitle = "Poison"

	rows := sqlmock.NewRows(monthColumns)
	for m := 5; m >= 1; m-- {
		rows.AddRow(monthRow(2024, m, harvest.StatusPending)...)
	}
	env.expectSelect(5, rows)

	env.expectMonthSuccess(2024, 5)
	env.expectMonthSuccess(2024, 4)

	// Month 3: processing transition, then rollback and an out-of-band
	// failure record.
	env.mock.ExpectBegin()
	env.mock.ExpectExec("UPDATE harvest_months").
		WithArgs(2024, 3).
		WillReturnResult(sqlmock.NewResult(0, 1))
	env.mock.ExpectRollback()
	env.mock.ExpectExec("UPDATE harvest_months").
		WillReturnResult(sqlmock.NewResult(0, 1))

	env.expectMonthSuccess(2024, 2)
	env.expectMonthSuccess(2024, 1)

	result, err := env.sched.Run(context.Background(), RunOptions{BatchSize: 5})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if result.Completed != 4 || result.Failed != 1 {
		t.Errorf("completed = %d, failed = %d; want 4 and 1", result.Completed, result.Failed)
	}

	for i, want := range []Outcome{OutcomeCompleted, OutcomeCompleted, OutcomeFailed, OutcomeCompleted, OutcomeCompleted} {
		if result.Months[i].Outcome != want {
			t.Errorf("month %d outcome = %s, want %s", i, result.Months[i].Outcome, want)
		}
	}

	// The failed month's lock is still released.
	if len(env.locker.Released) != 5 {
		t.Errorf("released %d locks, want 5", len(env.locker.Released))
	}

	if err := env.mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestScheduler_QuotaPreCheckExhausted(t *testing.T) {
	env := newTestEnv(t, nil)
	env.quota.Used = env.quota.Limit

	result, err := env.sched.Run(context.Background(), RunOptions{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if !result.QuotaExhausted {
		t.Error("QuotaExhausted = false, want true")
	}
	if result.Selected != 0 || len(result.Months) != 0 {
		t.Errorf("work selected despite exhausted quota: %+v", result)
	}
	if len(env.locker.Acquired) != 0 {
		t.Errorf("locks acquired despite exhausted quota: %v", env.locker.Acquired)
	}

	if err := env.mock.ExpectationsWereMet(); err != nil {
		t.Errorf("ledger touched despite exhausted quota: %v", err)
	}
}

func TestScheduler_QuotaExhaustedMidBatch(t *testing.T) {
	env := newTestEnv(t, nil)
	env.gen.Result = twoBookResult("First", "Second")

	// Quota fits the pre-check and exactly one reservation.
	env.quota.Limit = 10
	env.quota.Used = 9

	rows := sqlmock.NewRows(monthColumns)
	for m := 5; m >= 1; m-- {
		rows.AddRow(monthRow(2024, m, harvest.StatusPending)...)
	}
	env.expectSelect(5, rows)
	env.expectMonthSuccess(2024, 5)

	result, err := env.sched.Run(context.Background(), RunOptions{BatchSize: 5})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if !result.QuotaExhausted {
		t.Error("QuotaExhausted = false, want true")
	}
	if result.Completed != 1 || len(result.Months) != 1 {
		t.Errorf("result = %+v, want exactly one completed month", result)
	}
	// Quota never exceeds the limit.
	if env.quota.Used > env.quota.Limit {
		t.Errorf("quota overrun: used %d of %d", env.quota.Used, env.quota.Limit)
	}

	if err := env.mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestScheduler_LockContentionSkips(t *testing.T) {
	env := newTestEnv(t, nil)
	env.gen.Result = twoBookResult("First", "Second")
	env.locker.Contended = map[string]bool{"2024-03": true}

	env.expectSelect(2, sqlmock.NewRows(monthColumns).
		AddRow(monthRow(2024, 3, harvest.StatusPending)...).
		AddRow(monthRow(2024, 2, harvest.StatusPending)...))
	// Only the uncontended month opens a transaction.
	env.expectMonthSuccess(2024, 2)

	result, err := env.sched.Run(context.Background(), RunOptions{BatchSize: 2})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if result.Skipped != 1 || result.Completed != 1 {
		t.Errorf("skipped = %d, completed = %d; want 1 and 1", result.Skipped, result.Completed)
	}
	if result.Months[0].Outcome != OutcomeSkipped {
		t.Errorf("contended month outcome = %s, want skipped", result.Months[0].Outcome)
	}

	if err := env.mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestScheduler_StatusGuardRejection(t *testing.T) {
	env := newTestEnv(t, nil)
	env.gen.Result = twoBookResult("First", "Second")

	env.expectSelect(1, sqlmock.NewRows(monthColumns).
		AddRow(monthRow(2024, 3, harvest.StatusPending)...))

	// The guarded transition matches no rows: a concurrent runner got there
	// first despite the lock.
	env.mock.ExpectBegin()
	env.mock.ExpectExec("UPDATE harvest_months").
		WithArgs(2024, 3).
		WillReturnResult(sqlmock.NewResult(0, 0))
	env.mock.ExpectRollback()

	result, err := env.sched.Run(context.Background(), RunOptions{BatchSize: 1})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if result.Skipped != 1 {
		t.Errorf("skipped = %d, want 1", result.Skipped)
	}
	if env.gen.CallCount() != 0 {
		t.Error("generation ran despite guard rejection")
	}

	if err := env.mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestScheduler_FailedMonthPassesThroughRetry(t *testing.T) {
	env := newTestEnv(t, nil)
	env.gen.Result = twoBookResult("First", "Second")

	env.expectSelect(1, sqlmock.NewRows(monthColumns).
		AddRow(monthRow(2023, 11, harvest.StatusFailed)...))

	env.mock.ExpectBegin()
	// failed -> retry, then retry -> processing, inside one transaction.
	env.mock.ExpectExec("UPDATE harvest_months").
		WithArgs(2023, 11).
		WillReturnResult(sqlmock.NewResult(0, 1))
	env.mock.ExpectExec("UPDATE harvest_months").
		WithArgs(2023, 11).
		WillReturnResult(sqlmock.NewResult(0, 1))
	env.mock.ExpectExec("UPDATE harvest_months").
		WithArgs(2023, 11, 2, 2, 1.0, 2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	env.mock.ExpectQuery("FROM harvest_months").
		WithArgs(2023).
		WillReturnRows(sqlmock.NewRows([]string{"completed", "total"}).AddRow(12, 12))
	env.mock.ExpectCommit()

	result, err := env.sched.Run(context.Background(), RunOptions{BatchSize: 1})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if result.Completed != 1 {
		t.Errorf("completed = %d, want 1", result.Completed)
	}
	if !result.Months[0].YearComplete {
		t.Error("YearComplete = false, want true for twelfth completion")
	}

	if err := env.mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestScheduler_QuotaStoreUnreachableAbortsBatch(t *testing.T) {
	env := newTestEnv(t, nil)
	env.quota.Err = errors.New("connection refused")

	if _, err := env.sched.Run(context.Background(), RunOptions{}); err == nil {
		t.Fatal("Run() with unreachable quota store should fail closed")
	}
	if len(env.locker.Acquired) != 0 {
		t.Error("locks acquired despite quota store failure")
	}
}

func TestScheduler_LedgerUnreachableAbortsBatch(t *testing.T) {
	env := newTestEnv(t, nil)

	env.mock.ExpectQuery("FROM harvest_months").
		WillReturnError(errors.New("connection refused"))

	if _, err := env.sched.Run(context.Background(), RunOptions{}); err == nil {
		t.Fatal("Run() with unreachable ledger should abort")
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("empty config should be rejected")
	}
}
