package encounter

import (
	"context"
	"fmt"

	"github.com/occhealth/occhealth/internal/platform/storage"
)

type encounterRepoStore struct {
	store storage.Store
}

func NewRepo(store storage.Store) Repository {
	return &encounterRepoStore{store: store}
}

func (r *encounterRepoStore) Create(ctx context.Context, e *Encounter) error {
	rec, err := r.store.Create(ctx, storage.EntityEncounter, e.fields())
	if err != nil {
		return fmt.Errorf("create encounter: %w", err)
	}
	*e = *encounterFromRecord(rec)
	return nil
}

func (r *encounterRepoStore) GetByID(ctx context.Context, id int64) (*Encounter, error) {
	rec, err := r.store.FindOne(ctx, storage.EntityEncounter, storage.Fields{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get encounter %d: %w", id, err)
	}
	if rec == nil {
		return nil, fmt.Errorf("encounter %d: %w", id, storage.ErrNotFound)
	}
	return encounterFromRecord(rec), nil
}

func (r *encounterRepoStore) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Encounter, int, error) {
	q := storage.Query{Filter: storage.Fields{}}
	if f.PatientID != 0 {
		q.Filter["patient_id"] = f.PatientID
	}
	if f.Code != "" {
		q.Filter["code"] = f.Code
	}
	recs, err := r.store.FindAll(ctx, storage.EntityEncounter, q)
	if err != nil {
		return nil, 0, fmt.Errorf("list encounters: %w", err)
	}
	var matched []*storage.Record
	for _, rec := range recs {
		date := rec.Str("date")
		if (f.From != "" && date < f.From) || (f.To != "" && date > f.To) {
			continue
		}
		matched = append(matched, rec)
	}
	var items []*Encounter
	for _, rec := range storage.Page(matched, limit, offset) {
		items = append(items, encounterFromRecord(rec))
	}
	return items, len(matched), nil
}

func (r *encounterRepoStore) History(ctx context.Context, patientID int64) ([]*Encounter, error) {
	recs, err := r.store.FindAll(ctx, storage.EntityEncounter, storage.Query{
		Filter: storage.Fields{"patient_id": patientID},
	})
	if err != nil {
		return nil, fmt.Errorf("encounter history of patient %d: %w", patientID, err)
	}
	items := make([]*Encounter, 0, len(recs))
	for _, rec := range recs {
		items = append(items, encounterFromRecord(rec))
	}
	return items, nil
}

func (r *encounterRepoStore) CountEncounters(ctx context.Context, patientID int64, code *string, dr storage.DateRange) (int, error) {
	n, err := r.store.CountEncounters(ctx, patientID, code, dr)
	if err != nil {
		return 0, fmt.Errorf("count encounters of patient %d: %w", patientID, err)
	}
	return n, nil
}
