package locks

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
)

func newTestCoordinator(t *testing.T) (*Coordinator, sqlmock.Sqlmock, func()) {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}

	db := sqlx.NewDb(mockDB, "postgres")
	coord, err := NewCoordinator(Config{DB: db, PollInterval: 5 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewCoordinator() error = %v", err)
	}
	return coord, mock, func() { mockDB.Close() }
}

func lockResult(locked bool) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(locked)
}

func TestCoordinator_AcquireRelease(t *testing.T) {
	coord, mock, cleanup := newTestCoordinator(t)
	defer cleanup()

	ctx := context.Background()

	mock.ExpectQuery("pg_try_advisory_lock").
		WithArgs(lockClassID, LockKey(2024, 3)).
		WillReturnRows(lockResult(true))

	got, err := coord.Acquire(ctx, 2024, 3, time.Second)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if !got {
		t.Fatal("Acquire() = false, want true")
	}
	if !coord.Held(2024, 3) {
		t.Error("Held() = false after acquire")
	}

	mock.ExpectQuery("pg_advisory_unlock").
		WithArgs(lockClassID, LockKey(2024, 3)).
		WillReturnRows(sqlmock.NewRows([]string{"pg_advisory_unlock"}).AddRow(true))

	if err := coord.Release(ctx, 2024, 3); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if coord.Held(2024, 3) {
		t.Error("Held() = true after release")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestCoordinator_ContendedTimesOut(t *testing.T) {
	coord, mock, cleanup := newTestCoordinator(t)
	defer cleanup()

	// Lock is owned elsewhere for every poll within the timeout window.
	for i := 0; i < 10; i++ {
		mock.ExpectQuery("pg_try_advisory_lock").
			WithArgs(lockClassID, LockKey(2024, 3)).
			WillReturnRows(lockResult(false))
	}

	got, err := coord.Acquire(context.Background(), 2024, 3, 25*time.Millisecond)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if got {
		t.Error("Acquire() on contended lock = true, want false")
	}
	if coord.Held(2024, 3) {
		t.Error("Held() = true after failed acquire")
	}
}

func TestCoordinator_DoubleAcquireRejected(t *testing.T) {
	coord, mock, cleanup := newTestCoordinator(t)
	defer cleanup()

	mock.ExpectQuery("pg_try_advisory_lock").
		WillReturnRows(lockResult(true))

	if _, err := coord.Acquire(context.Background(), 2024, 3, time.Second); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	if _, err := coord.Acquire(context.Background(), 2024, 3, time.Second); err == nil {
		t.Error("second Acquire() of the same key should fail")
	}
}

func TestCoordinator_ReleaseUnheldIsNoop(t *testing.T) {
	coord, _, cleanup := newTestCoordinator(t)
	defer cleanup()

	if err := coord.Release(context.Background(), 1999, 1); err != nil {
		t.Errorf("Release() of unheld lock error = %v, want nil", err)
	}
}

func TestCoordinator_ReleaseAll(t *testing.T) {
	coord, mock, cleanup := newTestCoordinator(t)
	defer cleanup()

	ctx := context.Background()

	for range 2 {
		mock.ExpectQuery("pg_try_advisory_lock").WillReturnRows(lockResult(true))
	}
	if _, err := coord.Acquire(ctx, 2024, 1, time.Second); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if _, err := coord.Acquire(ctx, 2024, 2, time.Second); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	for range 2 {
		mock.ExpectQuery("pg_advisory_unlock").
			WillReturnRows(sqlmock.NewRows([]string{"pg_advisory_unlock"}).AddRow(true))
	}

	coord.ReleaseAll(ctx)

	if coord.Held(2024, 1) || coord.Held(2024, 2) {
		t.Error("locks still held after ReleaseAll()")
	}
}

func TestLockKey(t *testing.T) {
	if got := LockKey(2024, 3); got != 202403 {
		t.Errorf("LockKey(2024, 3) = %d, want 202403", got)
	}
	if LockKey(2024, 3) == LockKey(2024, 4) {
		t.Error("distinct months must map to distinct keys")
	}
}
