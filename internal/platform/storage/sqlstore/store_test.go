package sqlstore

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/occhealth/occhealth/internal/platform/db"
	"github.com/occhealth/occhealth/internal/platform/storage"
	"github.com/occhealth/occhealth/internal/platform/storage/storagetest"
)

func sqliteOpener(t *testing.T) storagetest.Opener {
	path := filepath.Join(t.TempDir(), "occhealth.db")
	return func(t *testing.T, clock storage.Clock) storage.Store {
		t.Helper()
		ctx := context.Background()
		sqlDB, err := db.OpenSQLite(ctx, path)
		if err != nil {
			t.Fatalf("open sqlite: %v", err)
		}
		if _, err := db.NewMigrator(sqlDB, db.SQLite).Up(ctx); err != nil {
			t.Fatalf("migrate: %v", err)
		}
		return New(sqlDB, db.SQLite, WithClock(clock))
	}
}

func TestStore_SQLiteContract(t *testing.T) {
	storagetest.Run(t, sqliteOpener)
}

var fixedNow = time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })
	s := New(sqlDB, db.Postgres, WithClock(func() time.Time { return fixedNow }))
	return s, mock
}

func TestStore_PostgresCreateEncounter(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT 1 FROM "patient" WHERE "id" = $1`)).
		WithArgs(int64(4)).
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COALESCE(MAX("id"), 0) + 1 FROM "encounter"`)).
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(int64(12)))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "encounter" ("id", "patient_id", "doctor_id", "date"`)).
		WillReturnResult(sqlmock.NewResult(12, 1))
	mock.ExpectCommit()

	rec, err := s.Create(context.Background(), storage.EntityEncounter, storage.Fields{
		"patient_id": 4,
		"date":       "2024-03-05",
		"code":       "J00",
	})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if rec.ID != 12 {
		t.Errorf("expected id 12, got %d", rec.ID)
	}
	if !rec.CreatedAt.Equal(fixedNow) {
		t.Errorf("expected created_at %v, got %v", fixedNow, rec.CreatedAt)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestStore_PostgresMissingPatient(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT 1 FROM "patient" WHERE "id" = $1`)).
		WithArgs(int64(9)).
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}))
	mock.ExpectRollback()

	_, err := s.Create(context.Background(), storage.EntityEncounter, storage.Fields{
		"patient_id": 9,
		"date":       "2024-03-05",
	})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestStore_PostgresConcurrentInsertIsRetryable(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT "id" FROM "patient" WHERE "identification" = $1 AND "id" <> $2`)).
		WithArgs("0101010101", int64(0)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COALESCE(MAX("id"), 0) + 1 FROM "patient"`)).
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(int64(3)))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "patient"`)).
		WillReturnError(&pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint \"patient_pkey\""})
	mock.ExpectRollback()

	_, err := s.Create(context.Background(), storage.EntityPatient, storage.Fields{"identification": "0101010101"})
	if !errors.Is(err, storage.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestStore_PostgresCountEncounters(t *testing.T) {
	s, mock := newMockStore(t)
	code := "J00"

	mock.ExpectQuery(regexp.QuoteMeta(
		`SELECT COUNT(*) FROM "encounter" WHERE "patient_id" = $1 AND "date" >= $2 AND "date" <= $3 AND "code" = $4`)).
		WithArgs(int64(1), "2024-03-01", "2024-03-31", "J00").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(2)))

	n, err := s.CountEncounters(context.Background(), 1, &code, storage.DateRange{From: "2024-03-01", To: "2024-03-31"})
	if err != nil {
		t.Fatalf("CountEncounters() error: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2, got %d", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestStore_PostgresDriverErrorIsUnavailable(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM "encounter"`)).
		WillReturnError(errors.New("connection reset by peer"))

	_, err := s.CountEncounters(context.Background(), 1, nil, storage.DateRange{From: "2024-01-01", To: "2024-12-31"})
	if !errors.Is(err, storage.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestStore_PostgresFindAllQueryShape(t *testing.T) {
	s, mock := newMockStore(t)

	cols := storage.DefaultSchema[storage.EntityDiet].Columns()
	mock.ExpectQuery(regexp.QuoteMeta(
		`FROM "diet" WHERE "patient_id" = $1 AND "end_date" IS NULL ORDER BY "start_date" DESC NULLS LAST, "id" LIMIT $2 OFFSET $3`)).
		WithArgs(int64(1), 10, 0).
		WillReturnRows(sqlmock.NewRows(cols))

	records, err := s.FindAll(context.Background(), storage.EntityDiet, storage.Query{
		Filter:  storage.Fields{"patient_id": 1, "end_date": ""},
		OrderBy: "start_date",
		Desc:    true,
		Limit:   10,
	})
	if err != nil {
		t.Fatalf("FindAll() error: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("expected no records, got %d", len(records))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestStore_PostgresScanNormalisesDriverTypes(t *testing.T) {
	s, mock := newMockStore(t)

	e := storage.DefaultSchema[storage.EntityCode]
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM "code" WHERE "code" = $1 ORDER BY "id" LIMIT $2 OFFSET $3`)).
		WithArgs("J00", 1, 0).
		WillReturnRows(sqlmock.NewRows(e.Columns()).
			AddRow(int64(1), "J00", []byte("Rinofaringitis aguda [resfriado común]"), "ORDINARY", true, created, created))

	rec, err := s.FindOne(context.Background(), storage.EntityCode, storage.Fields{"code": "J00"})
	if err != nil {
		t.Fatalf("FindOne() error: %v", err)
	}
	if rec == nil {
		t.Fatal("expected record")
	}
	if rec.Str("description") != "Rinofaringitis aguda [resfriado común]" {
		t.Errorf("unexpected description %q", rec.Str("description"))
	}
	if !rec.Bool("active") {
		t.Error("expected active")
	}
	if !rec.CreatedAt.Equal(created) {
		t.Errorf("unexpected created_at %v", rec.CreatedAt)
	}
}
