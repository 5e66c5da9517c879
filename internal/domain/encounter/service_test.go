package encounter

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/occhealth/occhealth/internal/domain/cascade"
	"github.com/occhealth/occhealth/internal/domain/catalog"
	"github.com/occhealth/occhealth/internal/domain/dependent"
	"github.com/occhealth/occhealth/internal/domain/patient"
	"github.com/occhealth/occhealth/internal/platform/apperr"
	"github.com/occhealth/occhealth/internal/platform/db"
	"github.com/occhealth/occhealth/internal/platform/hrdirectory"
	"github.com/occhealth/occhealth/internal/platform/storage"
	"github.com/occhealth/occhealth/internal/platform/storage/sqlstore"
	"github.com/occhealth/occhealth/internal/platform/storage/storagetest"
	"github.com/occhealth/occhealth/internal/platform/storage/xlsxstore"
)

const (
	descJ00 = "Rinofaringitis aguda [resfriado común]"
	descM54 = "Dorsalgia"
)

type staticHR map[string]*hrdirectory.Person

func (h staticHR) Lookup(_ context.Context, identification string) (*hrdirectory.Person, error) {
	return h[identification], nil
}

var testHR = staticHR{
	"0101010101": {
		Identification: "0101010101",
		FirstName:      "Ana",
		LastName:       "Torres",
		Position:       "Operaria",
		WorkArea:       "Empaque",
		Company:        "Planta Norte",
		Phone:          "0991234567",
		Address:        "Av. Quito 12",
	},
}

var testCatalog = []catalog.SeedEntry{
	{Code: "J00", Description: descJ00, Category: "ORDINARY"},
	{Code: "M54", Description: descM54},
	{Code: "W25", Description: "Contacto traumático con vidrio cortante", Category: "INCIDENT"},
	{Code: "V89", Description: "Accidente de vehículo", Category: "accident"},
}

func openXLSX(t *testing.T) storage.Store {
	t.Helper()
	s, err := xlsxstore.New(filepath.Join(t.TempDir(), "records.xlsx"), xlsxstore.WithClock(storagetest.NewClock().Now))
	require.NoError(t, err)
	return s
}

func openSQLite(t *testing.T) storage.Store {
	t.Helper()
	ctx := context.Background()
	sqlDB, err := db.OpenSQLite(ctx, filepath.Join(t.TempDir(), "records.db"))
	require.NoError(t, err)
	_, err = db.NewMigrator(sqlDB, db.SQLite).Up(ctx)
	require.NoError(t, err)
	s := sqlstore.New(sqlDB, db.SQLite, sqlstore.WithClock(storagetest.NewClock().Now))
	t.Cleanup(func() { s.Close() })
	return s
}

var backends = map[string]func(*testing.T) storage.Store{
	"workbook": openXLSX,
	"sqlite":   openSQLite,
}

type fixture struct {
	store storage.Store
	svc   *Service
}

func newFixture(t *testing.T, open func(*testing.T) storage.Store) *fixture {
	t.Helper()
	store := open(t)
	logger := zerolog.Nop()

	codes := catalog.NewService(catalog.NewRepo(store), logger)
	_, err := codes.Seed(context.Background(), testCatalog)
	require.NoError(t, err)

	patients := patient.NewService(patient.NewRepo(store), testHR, logger)
	dispatcher := cascade.NewDispatcher(dependent.NewRepo(store), logger)
	return &fixture{
		store: store,
		svc:   NewService(NewRepo(store), patients, codes, logger, WithDispatcher(dispatcher)),
	}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, f *fixture)) {
	for name, open := range backends {
		open := open
		t.Run(name, func(t *testing.T) {
			fn(t, newFixture(t, open))
		})
	}
}

func submit(t *testing.T, f *fixture, date, code string) *Encounter {
	t.Helper()
	enc, err := f.svc.Record(context.Background(), Submission{Identification: "0101010101", Date: date, Time: "09:30", Code: code})
	require.NoError(t, err)
	return enc
}

func counters(e *Encounter) [3]int {
	return [3]int{e.MonthlyCountForCode, e.MonthlyCountTotal, e.AnnualCountTotal}
}

func TestRecord_CounterScenario(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		first := submit(t, f, "2024-03-05", "J00")
		assert.Equal(t, [3]int{1, 1, 1}, counters(first))
		assert.Equal(t, descJ00, first.Causes)
		assert.Equal(t, descJ00, first.CodeDescription)

		second := submit(t, f, "2024-03-05", "J00")
		assert.Equal(t, [3]int{2, 2, 2}, counters(second))
		assert.Greater(t, second.ID, first.ID)

		third := submit(t, f, "2024-03-20", "M54")
		assert.Equal(t, [3]int{1, 3, 3}, counters(third))
		assert.Equal(t, descM54, third.Causes)
	})
}

func TestRecord_BackdatedCountsAgainstItsOwnMonth(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		submit(t, f, "2024-03-05", "J00")
		submit(t, f, "2024-03-06", "J00")

		feb := submit(t, f, "2024-02-28", "J00")
		assert.Equal(t, [3]int{1, 1, 3}, counters(feb))

		nextYear := submit(t, f, "2025-01-02", "J00")
		assert.Equal(t, [3]int{1, 1, 1}, counters(nextYear))
	})
}

func TestRecord_OrdinalsInterleaved(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		codes := []string{"J00", "M54", "J00", "", "M54", "J00"}
		seen := map[string]int{}
		for k, code := range codes {
			enc := submit(t, f, fmt.Sprintf("2024-05-%02d", k+1), code)
			seen[code]++
			assert.Equal(t, k+1, enc.MonthlyCountTotal, "encounter %d", k+1)
			assert.Equal(t, seen[code], enc.MonthlyCountForCode, "encounter %d code %q", k+1, code)
		}
	})
}

func TestRecord_CategoryDrivesCauses(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		inc := submit(t, f, "2024-03-05", "W25")
		assert.Equal(t, "INCIDENT", inc.Causes)
		assert.Equal(t, "Contacto traumático con vidrio cortante", inc.CodeDescription)

		acc := submit(t, f, "2024-03-05", "V89")
		assert.Equal(t, "ACCIDENT", acc.Causes)
	})
}

func TestRecord_UnknownPatientWritesNothing(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		_, err := f.svc.Submit(ctx, Submission{
			Identification: "9999999999",
			Date:           "2024-03-05",
			Code:           "J00",
			Request:        cascade.Request{Flags: cascade.Flags{IsIncident: true}},
		})
		require.ErrorIs(t, err, apperr.ErrPatientNotFound)

		for _, entity := range []string{storage.EntityPatient, storage.EntityEncounter, storage.EntityIncident, storage.EntityGloveUse, storage.EntityDiet} {
			recs, err := f.store.FindAll(ctx, entity, storage.Query{})
			require.NoError(t, err)
			assert.Empty(t, recs, entity)
		}
	})
}

func TestRecord_UnknownCodeKeepsSubmittedText(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		enc, err := f.svc.Record(context.Background(), Submission{
			Identification:       "0101010101",
			Date:                 "2024-03-05",
			Code:                 "Z99",
			CodeDescription:      "Código provisional",
			Causes:               "Revisión",
			SecondaryCode:        "M54",
			SecondaryDescription: "ignored",
		})
		require.NoError(t, err)
		assert.Equal(t, "Z99", enc.Code)
		assert.Equal(t, "Código provisional", enc.CodeDescription)
		assert.Equal(t, "Revisión", enc.Causes)
		assert.Equal(t, descM54, enc.SecondaryDescription)
		assert.Equal(t, [3]int{1, 1, 1}, counters(enc))
	})
}

func TestSubmit_CascadeCompleteness(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		res, err := f.svc.Submit(ctx, Submission{
			Identification: "0101010101",
			Date:           "2024-03-05",
			Code:           "W25",
			DaysOfRest:     3,
			Request: cascade.Request{
				Flags:               cascade.Flags{IsIncident: true, NeedsGloves: true, NeedsDiet: true, NeedsFoodIntake: true},
				GloveStartDate:      "2024-03-05",
				GloveEndDate:        "2024-03-19",
				DietStartDate:       "2024-03-05",
				DietEndDate:         "2024-03-12",
				FoodIntakeStartDate: "2024-03-05",
			},
		})
		require.NoError(t, err)
		require.Len(t, res.Cascade, 4)

		encounters, err := f.store.FindAll(ctx, storage.EntityEncounter, storage.Query{})
		require.NoError(t, err)
		require.Len(t, encounters, 1)

		for _, entity := range []string{storage.EntityIncident, storage.EntityGloveUse, storage.EntityDiet} {
			recs, err := f.store.FindAll(ctx, entity, storage.Query{})
			require.NoError(t, err)
			require.Len(t, recs, 1, entity)
			assert.Equal(t, "0101010101", recs[0].Str("identification"), entity)
			assert.Equal(t, "2024-03-05", recs[0].Str("date"), entity)
			assert.Equal(t, res.Encounter.ID, recs[0].Int("encounter_id"), entity)
			assert.Equal(t, "Ana Torres", recs[0].Str("patient_name"), entity)
		}

		incidents, err := f.store.FindAll(ctx, storage.EntityIncident, storage.Query{})
		require.NoError(t, err)
		assert.Equal(t, cascade.DefaultIncidentCondition, incidents[0].Str("condition"))
		assert.Equal(t, int64(3), incidents[0].Int("days_of_rest"))
	})
}

func TestSubmit_SnapshotSurvivesPatientEdit(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		res, err := f.svc.Submit(ctx, Submission{
			Identification: "0101010101",
			Date:           "2024-03-05",
			Request:        cascade.Request{Flags: cascade.Flags{IsIncident: true}},
		})
		require.NoError(t, err)

		_, err = f.store.Update(ctx, storage.EntityPatient, res.Encounter.PatientID, storage.Fields{"work_area": "Bodega"})
		require.NoError(t, err)

		incidents, err := f.store.FindAll(ctx, storage.EntityIncident, storage.Query{})
		require.NoError(t, err)
		assert.Equal(t, "Empaque", incidents[0].Str("work_area"))
	})
}

func TestRecount(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		for _, day := range []string{"2024-03-05", "2024-03-05", "2024-02-10", "2024-03-20"} {
			submit(t, f, day, "J00")
		}
		third := submit(t, f, "2024-03-21", "M54")

		report, err := f.svc.Recount(ctx, third.PatientID)
		require.NoError(t, err)
		assert.Equal(t, 5, report.Encounters)
		assert.True(t, report.Consistent(), "%+v", report.Mismatches)

		_, err = f.store.Update(ctx, storage.EntityEncounter, third.ID, storage.Fields{"monthly_count_total": 9})
		require.NoError(t, err)

		report, err = f.svc.Recount(ctx, third.PatientID)
		require.NoError(t, err)
		require.Len(t, report.Mismatches, 1)
		assert.Equal(t, Mismatch{EncounterID: third.ID, Date: "2024-03-21", Counter: "monthly_count_total", Stored: 9, Expected: 4}, report.Mismatches[0])
	})
}

func TestList(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		submit(t, f, "2024-02-10", "J00")
		mar := submit(t, f, "2024-03-05", "M54")
		submit(t, f, "2024-04-01", "J00")

		items, total, err := f.svc.ListEncounters(ctx, ListFilter{PatientID: mar.PatientID, From: "2024-03-01", To: "2024-03-31"}, 10, 0)
		require.NoError(t, err)
		require.Equal(t, 1, total)
		assert.Equal(t, mar.ID, items[0].ID)

		_, total, err = f.svc.ListEncounters(ctx, ListFilter{Code: "J00"}, 10, 0)
		require.NoError(t, err)
		assert.Equal(t, 2, total)

		got, err := f.svc.GetEncounter(ctx, mar.ID)
		require.NoError(t, err)
		assert.Equal(t, counters(mar), counters(got))

		_, err = f.svc.GetEncounter(ctx, 99)
		assert.ErrorIs(t, err, apperr.ErrNotFound)
	})
}

// -- failure paths against a scripted repository --

type scriptedRepo struct {
	countErr error
	created  int
}

func (r *scriptedRepo) Create(_ context.Context, e *Encounter) error {
	r.created++
	e.ID = int64(r.created)
	return nil
}

func (r *scriptedRepo) GetByID(context.Context, int64) (*Encounter, error) {
	return nil, apperr.ErrNotFound
}

func (r *scriptedRepo) List(context.Context, ListFilter, int, int) ([]*Encounter, int, error) {
	return nil, 0, nil
}

func (r *scriptedRepo) History(context.Context, int64) ([]*Encounter, error) {
	return nil, nil
}

func (r *scriptedRepo) CountEncounters(context.Context, int64, *string, storage.DateRange) (int, error) {
	return 0, r.countErr
}

type stubPatients struct{}

func (stubPatients) Resolve(_ context.Context, identification string) (*patient.Patient, error) {
	return &patient.Patient{ID: 1, Identification: identification}, nil
}

func (stubPatients) ResolveByID(_ context.Context, id int64) (*patient.Patient, error) {
	if id != 1 {
		return nil, apperr.ErrPatientNotFound
	}
	return &patient.Patient{ID: 1, Identification: "0101010101"}, nil
}

type stubCodes struct{ err error }

func (c stubCodes) Resolve(context.Context, string) (*catalog.Resolution, error) {
	return nil, c.err
}

func TestRecord_StorageUnavailableWritesNothing(t *testing.T) {
	repo := &scriptedRepo{countErr: fmt.Errorf("count: %w", apperr.ErrStorageUnavailable)}
	svc := NewService(repo, stubPatients{}, stubCodes{err: apperr.ErrUnknownCode}, zerolog.Nop())

	_, err := svc.Record(context.Background(), Submission{PatientID: 1, Date: "2024-03-05", Code: "J00"})
	if !apperr.Retryable(err) {
		t.Fatalf("expected retryable error, got %v", err)
	}
	if repo.created != 0 {
		t.Error("expected no encounter to be written")
	}
}

func TestRecord_CatalogFailureAborts(t *testing.T) {
	repo := &scriptedRepo{}
	svc := NewService(repo, stubPatients{}, stubCodes{err: apperr.ErrStorageUnavailable}, zerolog.Nop())

	_, err := svc.Record(context.Background(), Submission{PatientID: 1, Date: "2024-03-05", Code: "J00"})
	if !errors.Is(err, apperr.ErrStorageUnavailable) {
		t.Fatalf("expected storage error, got %v", err)
	}
	if repo.created != 0 {
		t.Error("expected no encounter to be written")
	}
}

func TestRecord_IdentificationMismatch(t *testing.T) {
	svc := NewService(&scriptedRepo{}, stubPatients{}, stubCodes{}, zerolog.Nop())
	_, err := svc.Record(context.Background(), Submission{PatientID: 1, Identification: "0202020202", Date: "2024-03-05"})
	if !apperr.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestRecord_HookAndNoDispatcher(t *testing.T) {
	var hooked []*Encounter
	svc := NewService(&scriptedRepo{}, stubPatients{}, stubCodes{}, zerolog.Nop(),
		WithRecordHook(func(e *Encounter) { hooked = append(hooked, e) }))

	res, err := svc.Submit(context.Background(), Submission{
		PatientID: 1,
		Date:      "2024-03-05",
		Request:   cascade.Request{Flags: cascade.Flags{IsIncident: true}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Cascade) != 0 {
		t.Errorf("expected no cascade without a dispatcher, got %d outcomes", len(res.Cascade))
	}
	if len(hooked) != 1 || hooked[0].ID != res.Encounter.ID {
		t.Errorf("expected hook to see the encounter, got %v", hooked)
	}
}

func TestSubmission_Validate(t *testing.T) {
	tests := []struct {
		name  string
		sub   Submission
		field string
	}{
		{"missing date", Submission{PatientID: 1}, "date"},
		{"bad date", Submission{PatientID: 1, Date: "05/03/2024"}, "date"},
		{"bad time", Submission{PatientID: 1, Date: "2024-03-05", Time: "9h30"}, "time"},
		{"no patient", Submission{Date: "2024-03-05"}, "patient_id"},
		{"negative patient", Submission{PatientID: -2, Date: "2024-03-05"}, "patient_id"},
		{"negative rest", Submission{PatientID: 1, Date: "2024-03-05", DaysOfRest: -1}, "days_of_rest"},
		{"bad cascade date", Submission{PatientID: 1, Date: "2024-03-05", Request: cascade.Request{DietStartDate: "x"}}, "diet_start_date"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.sub.Validate()
			var ve *apperr.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if ve.Field != tt.field {
				t.Errorf("expected field %s, got %s", tt.field, ve.Field)
			}
		})
	}

	ok := Submission{Identification: " 0101010101 ", Date: "2024-03-05", Time: "23:59"}
	if err := ok.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if ok.Identification != "0101010101" {
		t.Errorf("expected trimmed identification, got %q", ok.Identification)
	}
}
