package storage_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/occhealth/occhealth/internal/platform/db"
	"github.com/occhealth/occhealth/internal/platform/storage"
	"github.com/occhealth/occhealth/internal/platform/storage/sqlstore"
	"github.com/occhealth/occhealth/internal/platform/storage/storagetest"
	"github.com/occhealth/occhealth/internal/platform/storage/xlsxstore"
)

func TestBackendEquivalence(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	sqlDB, err := db.OpenSQLite(ctx, filepath.Join(dir, "occhealth.db"))
	require.NoError(t, err)
	_, err = db.NewMigrator(sqlDB, db.SQLite).Up(ctx)
	require.NoError(t, err)
	relational := sqlstore.New(sqlDB, db.SQLite, sqlstore.WithClock(storagetest.NewClock().Now))
	defer relational.Close()

	workbook, err := xlsxstore.New(filepath.Join(dir, "records.xlsx"), xlsxstore.WithClock(storagetest.NewClock().Now))
	require.NoError(t, err)
	defer workbook.Close()

	want, err := storagetest.Script(ctx, relational)
	require.NoError(t, err)
	got, err := storagetest.Script(ctx, workbook)
	require.NoError(t, err)

	require.NotEmpty(t, want)
	assert.Equal(t, want, got)
}

func TestMonthRange(t *testing.T) {
	tests := []struct {
		date     string
		from, to string
	}{
		{"2024-03-05", "2024-03-01", "2024-03-31"},
		{"2024-02-10", "2024-02-01", "2024-02-29"},
		{"2023-02-10", "2023-02-01", "2023-02-28"},
		{"2024-12-31", "2024-12-01", "2024-12-31"},
	}
	for _, tt := range tests {
		r, err := storage.MonthRange(tt.date)
		require.NoError(t, err)
		assert.Equal(t, storage.DateRange{From: tt.from, To: tt.to}, r, tt.date)
	}

	_, err := storage.MonthRange("2024-13-01")
	assert.Error(t, err)
}

func TestYearRange(t *testing.T) {
	r, err := storage.YearRange("2024-03-05")
	require.NoError(t, err)
	assert.Equal(t, storage.DateRange{From: "2024-01-01", To: "2024-12-31"}, r)
	assert.True(t, r.Contains("2024-12-31"))
	assert.False(t, r.Contains("2025-01-01"))
}
