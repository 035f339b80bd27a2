package catalog

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
)

func newTestStore(t *testing.T) (*Store, sqlmock.Sqlmock, func()) {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}

	db := sqlx.NewDb(mockDB, "postgres")
	return NewStore(db), mock, func() { mockDB.Close() }
}

func TestStore_ExistingISBNs(t *testing.T) {
	store, mock, cleanup := newTestStore(t)
	defer cleanup()

	mock.ExpectQuery("SELECT isbn13 FROM books").
		WillReturnRows(sqlmock.NewRows([]string{"isbn13"}).AddRow("9780306406157"))

	got, err := store.ExistingISBNs(context.Background(), []string{"9780306406157", "9780804429573"})
	if err != nil {
		t.Fatalf("ExistingISBNs() error = %v", err)
	}
	if !got["9780306406157"] || got["9780804429573"] {
		t.Errorf("ExistingISBNs() = %v, want only 9780306406157", got)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestStore_ExistingISBNs_EmptyBatch(t *testing.T) {
	store, mock, cleanup := newTestStore(t)
	defer cleanup()

	// Empty input must not touch the store.
	got, err := store.ExistingISBNs(context.Background(), nil)
	if err != nil {
		t.Fatalf("ExistingISBNs() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("ExistingISBNs(nil) = %v, want empty", got)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unexpected store access: %v", err)
	}
}

func TestStore_RelatedISBNs(t *testing.T) {
	store, mock, cleanup := newTestStore(t)
	defer cleanup()

	mock.ExpectQuery("FROM related_identifiers").
		WillReturnRows(sqlmock.NewRows([]string{"isbn13"}).AddRow("9781566199094"))

	got, err := store.RelatedISBNs(context.Background(), []string{"9781566199094"})
	if err != nil {
		t.Fatalf("RelatedISBNs() error = %v", err)
	}
	if !got["9781566199094"] {
		t.Errorf("RelatedISBNs() = %v, want 9781566199094 present", got)
	}
}

func TestStore_HasSimilar(t *testing.T) {
	store, mock, cleanup := newTestStore(t)
	defer cleanup()

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("the great gatsby", "f scott fitzgerald", 0.85, 0.8).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	got, err := store.HasSimilar(context.Background(), "the great gatsby", "f scott fitzgerald", 0.85, 0.8)
	if err != nil {
		t.Fatalf("HasSimilar() error = %v", err)
	}
	if !got {
		t.Error("HasSimilar() = false, want true")
	}
}
