package telemetry

import (
	"context"
	"errors"
	"time"

	"github.com/occhealth/occhealth/internal/platform/apperr"
	"github.com/occhealth/occhealth/internal/platform/storage"
)

// InstrumentedStore times every storage port call and counts failures by
// error class. It adds no behaviour of its own.
type InstrumentedStore struct {
	next    storage.Store
	backend string
	tp      *TelemetryProvider
}

// InstrumentStore wraps next; backend labels the metrics ("postgres",
// "sqlite", "xlsx").
func (tp *TelemetryProvider) InstrumentStore(next storage.Store, backend string) *InstrumentedStore {
	return &InstrumentedStore{next: next, backend: backend, tp: tp}
}

// ErrorClass buckets err into a low-cardinality label value.
func ErrorClass(err error) string {
	switch {
	case err == nil:
		return ""
	case apperr.IsValidation(err):
		return "validation"
	case errors.Is(err, apperr.ErrNotFound):
		return "not_found"
	case errors.Is(err, apperr.ErrConflict):
		return "conflict"
	case errors.Is(err, apperr.ErrStorageUnavailable):
		return "unavailable"
	default:
		return "other"
	}
}

func (s *InstrumentedStore) observe(op, entity string, start time.Time, err error) {
	s.tp.storeDuration.WithLabelValues(s.backend, op, entity).Observe(time.Since(start).Seconds())
	if err != nil {
		s.tp.storeErrors.WithLabelValues(s.backend, op, entity, ErrorClass(err)).Inc()
	}
}

func (s *InstrumentedStore) Create(ctx context.Context, entity string, fields storage.Fields) (*storage.Record, error) {
	start := time.Now()
	rec, err := s.next.Create(ctx, entity, fields)
	s.observe("create", entity, start, err)
	return rec, err
}

func (s *InstrumentedStore) FindAll(ctx context.Context, entity string, q storage.Query) ([]*storage.Record, error) {
	start := time.Now()
	recs, err := s.next.FindAll(ctx, entity, q)
	s.observe("find_all", entity, start, err)
	return recs, err
}

func (s *InstrumentedStore) FindOne(ctx context.Context, entity string, filter storage.Fields) (*storage.Record, error) {
	start := time.Now()
	rec, err := s.next.FindOne(ctx, entity, filter)
	s.observe("find_one", entity, start, err)
	return rec, err
}

func (s *InstrumentedStore) Update(ctx context.Context, entity string, id int64, fields storage.Fields) (*storage.Record, error) {
	start := time.Now()
	rec, err := s.next.Update(ctx, entity, id, fields)
	s.observe("update", entity, start, err)
	return rec, err
}

func (s *InstrumentedStore) CountEncounters(ctx context.Context, patientID int64, code *string, r storage.DateRange) (int, error) {
	start := time.Now()
	n, err := s.next.CountEncounters(ctx, patientID, code, r)
	s.observe("count_encounters", storage.EntityEncounter, start, err)
	return n, err
}

func (s *InstrumentedStore) Ping(ctx context.Context) error {
	return s.next.Ping(ctx)
}

func (s *InstrumentedStore) Close() error {
	return s.next.Close()
}
