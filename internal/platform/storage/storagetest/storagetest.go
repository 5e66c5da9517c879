// Package storagetest holds the behaviour every storage.Store adapter must
// share. Adapter packages run Run against their own backend; the storage
// package runs Script against both and compares the transcripts.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/occhealth/occhealth/internal/platform/apperr"
	"github.com/occhealth/occhealth/internal/platform/storage"
)

// Clock is a deterministic storage.Clock advancing one second per reading.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock() *Clock {
	return &Clock{now: time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

// Opener opens a store over one backing location. Calling it again must
// return a store that sees everything written through earlier ones.
type Opener func(t *testing.T, clock storage.Clock) storage.Store

// Run executes the contract suite. newOpener is called once per subtest and
// must return an opener over a fresh, migrated, empty location.
func Run(t *testing.T, newOpener func(t *testing.T) Opener) {
	tests := []struct {
		name string
		fn   func(t *testing.T, open Opener)
	}{
		{"CreateAssignsSequentialIDsPerEntity", testCreateIDs},
		{"CreateNormalisesFields", testCreateNormalises},
		{"CreateValidatesInput", testCreateValidates},
		{"CreateMissingReference", testCreateMissingReference},
		{"CreateUniqueConflict", testCreateUniqueConflict},
		{"IDsSurviveReopen", testIDsSurviveReopen},
		{"FindAllFilterAndOrder", testFindAll},
		{"FindOne", testFindOne},
		{"Update", testUpdate},
		{"UpdateMissingID", testUpdateMissing},
		{"CountEncounters", testCountEncounters},
		{"CanceledContext", testCanceledContext},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newOpener(t))
		})
	}
}

func openStore(t *testing.T, open Opener) storage.Store {
	t.Helper()
	s := open(t, NewClock().Now)
	t.Cleanup(func() { s.Close() })
	return s
}

// MustPatient creates a patient with identification id.
func MustPatient(t *testing.T, s storage.Store, identification string) *storage.Record {
	t.Helper()
	rec, err := s.Create(context.Background(), storage.EntityPatient, storage.Fields{
		"identification": identification,
		"first_name":     "Ana",
		"last_name":      "Paredes",
	})
	require.NoError(t, err)
	return rec
}

// MustEncounter creates an encounter for patientID.
func MustEncounter(t *testing.T, s storage.Store, patientID int64, date, code string) *storage.Record {
	t.Helper()
	rec, err := s.Create(context.Background(), storage.EntityEncounter, storage.Fields{
		"patient_id": patientID,
		"date":       date,
		"code":       code,
	})
	require.NoError(t, err)
	return rec
}

func testCreateIDs(t *testing.T, open Opener) {
	s := openStore(t, open)

	p1 := MustPatient(t, s, "0101010101")
	p2 := MustPatient(t, s, "0202020202")
	assert.Equal(t, int64(1), p1.ID)
	assert.Equal(t, int64(2), p2.ID)

	e1 := MustEncounter(t, s, p2.ID, "2024-03-05", "J00")
	assert.Equal(t, int64(1), e1.ID, "ids are allocated per entity")
	assert.Equal(t, p2.ID, e1.Int("patient_id"))
}

func testCreateNormalises(t *testing.T, open Opener) {
	clock := NewClock()
	s := open(t, clock.Now)
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()

	p := MustPatient(t, s, "0101010101")
	rec, err := s.Create(ctx, storage.EntityEncounter, storage.Fields{
		"patient_id":   int(p.ID),
		"date":         "2024-03-05",
		"days_of_rest": "3",
	})
	require.NoError(t, err)

	assert.Equal(t, int64(3), rec.Int("days_of_rest"))
	assert.Equal(t, "", rec.Str("code"), "missing fields are zero filled")
	assert.Equal(t, int64(0), rec.Int("doctor_id"))
	assert.False(t, rec.CreatedAt.IsZero())
	assert.True(t, rec.CreatedAt.Equal(rec.UpdatedAt))

	got, err := s.FindOne(ctx, storage.EntityEncounter, storage.Fields{"id": rec.ID})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, rec.Fields, got.Fields, "stored values round-trip with the same Go types")
	assert.True(t, rec.CreatedAt.Equal(got.CreatedAt))
}

func testCreateValidates(t *testing.T, open Opener) {
	s := openStore(t, open)
	ctx := context.Background()

	_, err := s.Create(ctx, storage.EntityPatient, storage.Fields{"first_name": "Ana"})
	assert.True(t, apperr.IsValidation(err), "identification is required, got %v", err)

	_, err = s.Create(ctx, storage.EntityPatient, storage.Fields{"identification": "1", "shoe_size": 42})
	assert.True(t, apperr.IsValidation(err), "unknown field, got %v", err)

	p := MustPatient(t, s, "0101010101")
	_, err = s.Create(ctx, storage.EntityEncounter, storage.Fields{"patient_id": p.ID, "date": "05/03/2024"})
	assert.True(t, apperr.IsValidation(err), "malformed date, got %v", err)

	all, err := s.FindAll(ctx, storage.EntityEncounter, storage.Query{})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func testCreateMissingReference(t *testing.T, open Opener) {
	s := openStore(t, open)
	ctx := context.Background()

	_, err := s.Create(ctx, storage.EntityEncounter, storage.Fields{"patient_id": 99, "date": "2024-03-05"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, storage.ErrNotFound), "got %v", err)
	assert.False(t, apperr.Retryable(err))

	p := MustPatient(t, s, "0101010101")
	_, err = s.Create(ctx, storage.EntityEncounter, storage.Fields{"patient_id": p.ID, "doctor_id": 7, "date": "2024-03-05"})
	assert.True(t, errors.Is(err, storage.ErrNotFound), "got %v", err)

	// the failed creates consumed no id
	e := MustEncounter(t, s, p.ID, "2024-03-05", "")
	assert.Equal(t, int64(1), e.ID)
}

func testCreateUniqueConflict(t *testing.T, open Opener) {
	s := openStore(t, open)

	MustPatient(t, s, "0101010101")
	_, err := s.Create(context.Background(), storage.EntityPatient, storage.Fields{"identification": "0101010101"})
	assert.True(t, errors.Is(err, storage.ErrConflict), "got %v", err)

	all, err := s.FindAll(context.Background(), storage.EntityPatient, storage.Query{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func testIDsSurviveReopen(t *testing.T, open Opener) {
	s := open(t, NewClock().Now)
	MustPatient(t, s, "0101010101")
	MustPatient(t, s, "0202020202")
	require.NoError(t, s.Close())

	s = openStore(t, open)
	p := MustPatient(t, s, "0303030303")
	assert.Equal(t, int64(3), p.ID)
}

func testFindAll(t *testing.T, open Opener) {
	s := openStore(t, open)
	ctx := context.Background()

	a := MustPatient(t, s, "0101010101")
	b := MustPatient(t, s, "0202020202")
	MustEncounter(t, s, a.ID, "2024-03-20", "J00")
	MustEncounter(t, s, b.ID, "2024-03-01", "J00")
	MustEncounter(t, s, a.ID, "2024-03-05", "M54")
	MustEncounter(t, s, a.ID, "2024-03-05", "J00")

	all, err := s.FindAll(ctx, storage.EntityEncounter, storage.Query{})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3, 4}, ids(all), "insertion order by default")

	mine, err := s.FindAll(ctx, storage.EntityEncounter, storage.Query{Filter: storage.Fields{"patient_id": a.ID}})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3, 4}, ids(mine))

	both, err := s.FindAll(ctx, storage.EntityEncounter, storage.Query{Filter: storage.Fields{"patient_id": a.ID, "code": "J00"}})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 4}, ids(both))

	byDate, err := s.FindAll(ctx, storage.EntityEncounter, storage.Query{OrderBy: "date"})
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 3, 4, 1}, ids(byDate), "ties keep id order")

	byDateDesc, err := s.FindAll(ctx, storage.EntityEncounter, storage.Query{OrderBy: "date", Desc: true})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3, 4, 2}, ids(byDateDesc))

	page, err := s.FindAll(ctx, storage.EntityEncounter, storage.Query{Limit: 2, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 3}, ids(page))

	tail, err := s.FindAll(ctx, storage.EntityEncounter, storage.Query{Offset: 3})
	require.NoError(t, err)
	assert.Equal(t, []int64{4}, ids(tail))

	none, err := s.FindAll(ctx, storage.EntityEncounter, storage.Query{Filter: storage.Fields{"code": "Z99"}})
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)

	noDoctor, err := s.FindAll(ctx, storage.EntityEncounter, storage.Query{Filter: storage.Fields{"doctor_id": 0}})
	require.NoError(t, err)
	assert.Len(t, noDoctor, 4, "a zero reference matches records without one")

	_, err = s.FindAll(ctx, storage.EntityEncounter, storage.Query{OrderBy: "weight"})
	assert.True(t, apperr.IsValidation(err))
}

func testFindOne(t *testing.T, open Opener) {
	s := openStore(t, open)
	ctx := context.Background()

	MustPatient(t, s, "0101010101")
	want := MustPatient(t, s, "0202020202")

	got, err := s.FindOne(ctx, storage.EntityPatient, storage.Fields{"identification": "0202020202"})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, want.ID, got.ID)

	first, err := s.FindOne(ctx, storage.EntityPatient, storage.Fields{"first_name": "Ana"})
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, int64(1), first.ID, "first match in id order")

	missing, err := s.FindOne(ctx, storage.EntityPatient, storage.Fields{"identification": "9999999999"})
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func testUpdate(t *testing.T, open Opener) {
	s := openStore(t, open)
	ctx := context.Background()

	p := MustPatient(t, s, "0101010101")
	MustPatient(t, s, "0202020202")

	got, err := s.Update(ctx, storage.EntityPatient, p.ID, storage.Fields{
		"vulnerable_description": "Embarazo",
		"vulnerable_reversible":  true,
	})
	require.NoError(t, err)
	assert.Equal(t, "Embarazo", got.Str("vulnerable_description"))
	assert.True(t, got.Bool("vulnerable_reversible"))
	assert.Equal(t, "Ana", got.Str("first_name"), "fields not named are kept")
	assert.True(t, got.UpdatedAt.After(p.UpdatedAt))
	assert.True(t, got.CreatedAt.Equal(p.CreatedAt))

	stored, err := s.FindOne(ctx, storage.EntityPatient, storage.Fields{"id": p.ID})
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, got.Fields, stored.Fields)

	_, err = s.Update(ctx, storage.EntityPatient, p.ID, storage.Fields{"identification": "0202020202"})
	assert.True(t, errors.Is(err, storage.ErrConflict), "got %v", err)

	_, err = s.Update(ctx, storage.EntityPatient, p.ID, storage.Fields{"identification": "0101010101"})
	assert.NoError(t, err, "keeping its own unique value is not a conflict")
}

func testUpdateMissing(t *testing.T, open Opener) {
	s := openStore(t, open)

	_, err := s.Update(context.Background(), storage.EntityPatient, 42, storage.Fields{"phone": "0999"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, storage.ErrNotFound), "got %v", err)
	assert.False(t, errors.Is(err, storage.ErrUnavailable))
}

func testCountEncounters(t *testing.T, open Opener) {
	s := openStore(t, open)
	ctx := context.Background()

	a := MustPatient(t, s, "0101010101")
	b := MustPatient(t, s, "0202020202")
	MustEncounter(t, s, a.ID, "2024-02-29", "J00")
	MustEncounter(t, s, a.ID, "2024-03-01", "J00")
	MustEncounter(t, s, a.ID, "2024-03-15", "M54")
	MustEncounter(t, s, a.ID, "2024-03-31", "J00")
	MustEncounter(t, s, a.ID, "2024-04-01", "J00")
	MustEncounter(t, s, b.ID, "2024-03-10", "J00")
	MustEncounter(t, s, a.ID, "2024-03-20", "")

	march, err := storage.MonthRange("2024-03-05")
	require.NoError(t, err)
	year, err := storage.YearRange("2024-03-05")
	require.NoError(t, err)

	j00, m54, empty := "J00", "M54", ""
	tests := []struct {
		name string
		code *string
		r    storage.DateRange
		want int
	}{
		{"month any code", nil, march, 4},
		{"month J00", &j00, march, 2},
		{"month M54", &m54, march, 1},
		{"month without code", &empty, march, 1},
		{"year any code", nil, year, 6},
	}
	for _, tt := range tests {
		n, err := s.CountEncounters(ctx, a.ID, tt.code, tt.r)
		require.NoError(t, err, tt.name)
		assert.Equal(t, tt.want, n, tt.name)
	}

	n, err := s.CountEncounters(ctx, 99, nil, year)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func testCanceledContext(t *testing.T, open Opener) {
	s := openStore(t, open)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Create(ctx, storage.EntityPatient, storage.Fields{"identification": "0101010101"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, storage.ErrUnavailable), "got %v", err)
	assert.True(t, apperr.Retryable(err))
}

func ids(records []*storage.Record) []int64 {
	out := make([]int64, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}

// Transcript is the observable outcome of Script, comparable across
// adapters.
type Transcript []string

// Script drives one fixed sequence of creates, updates, reads and counts
// through s and records every observable result.
func Script(ctx context.Context, s storage.Store) (Transcript, error) {
	var out Transcript
	log := func(format string, args ...interface{}) {
		out = append(out, fmt.Sprintf(format, args...))
	}
	record := func(op string, rec *storage.Record, err error) {
		if err != nil {
			log("%s: error %s", op, classify(err))
			return
		}
		if rec == nil {
			log("%s: nil", op)
			return
		}
		log("%s: %s", op, describe(rec))
	}

	patients := []string{"0101010101", "0202020202", "0303030303"}
	for _, id := range patients {
		rec, err := s.Create(ctx, storage.EntityPatient, storage.Fields{"identification": id, "company": "Agrícola"})
		record("create patient "+id, rec, err)
	}
	rec, err := s.Create(ctx, storage.EntityPatient, storage.Fields{"identification": "0101010101"})
	record("create duplicate patient", rec, err)

	rec, err = s.Create(ctx, storage.EntityDoctor, storage.Fields{"name": "Dra. Vera", "active": true})
	record("create doctor", rec, err)

	visits := []struct {
		patient int64
		doctor  int64
		date    string
		code    string
	}{
		{1, 1, "2024-03-05", "J00"},
		{1, 0, "2024-03-05", "J00"},
		{2, 1, "2024-03-09", "M54"},
		{1, 1, "2024-03-28", "M54"},
		{1, 0, "2024-04-02", "J00"},
		{3, 0, "2023-12-31", "J00"},
		{9, 0, "2024-03-05", "J00"},
		{1, 5, "2024-03-05", "J00"},
	}
	for i, v := range visits {
		rec, err := s.Create(ctx, storage.EntityEncounter, storage.Fields{
			"patient_id": v.patient, "doctor_id": v.doctor, "date": v.date, "code": v.code,
			"days_of_rest": i % 3,
		})
		record(fmt.Sprintf("create encounter %d", i), rec, err)
	}

	rec, err = s.Create(ctx, storage.EntityDiet, storage.Fields{
		"patient_id": 1, "encounter_id": 2, "date": "2024-03-05",
		"range_kind": "open_ended", "start_date": "2024-03-06",
	})
	record("create diet", rec, err)

	rec, err = s.Update(ctx, storage.EntityPatient, 2, storage.Fields{"phone": "0991234567", "vulnerable_reversible": true})
	record("update patient 2", rec, err)
	rec, err = s.Update(ctx, storage.EntityPatient, 7, storage.Fields{"phone": "0"})
	record("update patient 7", rec, err)
	rec, err = s.Update(ctx, storage.EntityEncounter, 3, storage.Fields{"doctor_id": 4})
	record("update encounter bad doctor", rec, err)

	queries := []struct {
		entity string
		q      storage.Query
	}{
		{storage.EntityPatient, storage.Query{}},
		{storage.EntityEncounter, storage.Query{}},
		{storage.EntityEncounter, storage.Query{Filter: storage.Fields{"patient_id": 1}}},
		{storage.EntityEncounter, storage.Query{Filter: storage.Fields{"patient_id": 1, "code": "J00"}}},
		{storage.EntityEncounter, storage.Query{OrderBy: "date", Desc: true}},
		{storage.EntityEncounter, storage.Query{OrderBy: "days_of_rest", Limit: 3, Offset: 1}},
		{storage.EntityEncounter, storage.Query{Filter: storage.Fields{"doctor_id": 0}}},
		{storage.EntityDiet, storage.Query{Filter: storage.Fields{"end_date": ""}}},
	}
	for i, q := range queries {
		records, err := s.FindAll(ctx, q.entity, q.q)
		if err != nil {
			log("find %d: error %s", i, classify(err))
			continue
		}
		for _, r := range records {
			log("find %d: %s", i, describe(r))
		}
		log("find %d: %d rows", i, len(records))
	}

	rec, err = s.FindOne(ctx, storage.EntityPatient, storage.Fields{"identification": "0303030303"})
	record("find one patient", rec, err)
	rec, err = s.FindOne(ctx, storage.EntityPatient, storage.Fields{"identification": "nobody"})
	record("find one missing", rec, err)

	texts := []struct {
		name  string
		value string
	}{
		{"multiline", "Av. Quito 12\r\n\tpiso 2 "},
		{"too long", strings.Repeat("a", storage.MaxTextLength+1)},
		{"control byte", "a\x01b"},
		{"invalid utf8", "a\xffb"},
	}
	for _, tt := range texts {
		rec, err := s.Update(ctx, storage.EntityPatient, 3, storage.Fields{"address": tt.value})
		record("update address "+tt.name, rec, err)
		rec, err = s.Create(ctx, storage.EntityPatient, storage.Fields{"identification": "0404040404", "address": tt.value})
		record("create with address "+tt.name, rec, err)
	}
	rec, err = s.FindOne(ctx, storage.EntityPatient, storage.Fields{"identification": "0404040404"})
	record("find one text patient", rec, err)
	if rec != nil && rec.Str("address") != texts[0].value {
		log("address changed: %q", rec.Str("address"))
	}

	j00 := "J00"
	for _, date := range []string{"2024-03-05", "2024-04-02", "2023-12-31"} {
		month, _ := storage.MonthRange(date)
		year, _ := storage.YearRange(date)
		for pid := int64(1); pid <= 3; pid++ {
			m, err1 := s.CountEncounters(ctx, pid, nil, month)
			c, err2 := s.CountEncounters(ctx, pid, &j00, month)
			y, err3 := s.CountEncounters(ctx, pid, nil, year)
			if err := errors.Join(err1, err2, err3); err != nil {
				return out, err
			}
			log("count %d %s: month=%d code=%d year=%d", pid, date, m, c, y)
		}
	}
	return out, nil
}

func classify(err error) string {
	switch {
	case apperr.IsValidation(err):
		return "validation"
	case errors.Is(err, storage.ErrNotFound):
		return "not found"
	case errors.Is(err, storage.ErrConflict):
		return "conflict"
	case errors.Is(err, storage.ErrUnavailable):
		return "unavailable"
	}
	return "other"
}

func describe(rec *storage.Record) string {
	return fmt.Sprintf("id=%d fields=%v created=%s updated=%s", rec.ID, rec.Fields,
		storage.FormatTimestamp(rec.CreatedAt), storage.FormatTimestamp(rec.UpdatedAt))
}
