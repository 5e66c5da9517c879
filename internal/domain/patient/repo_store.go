package patient

import (
	"context"
	"fmt"

	"github.com/occhealth/occhealth/internal/platform/storage"
)

type patientRepoStore struct {
	store storage.Store
}

func NewRepo(store storage.Store) Repository {
	return &patientRepoStore{store: store}
}

func (r *patientRepoStore) Create(ctx context.Context, p *Patient) error {
	rec, err := r.store.Create(ctx, storage.EntityPatient, p.fields())
	if err != nil {
		return fmt.Errorf("create patient %s: %w", p.Identification, err)
	}
	*p = *patientFromRecord(rec)
	return nil
}

func (r *patientRepoStore) GetByID(ctx context.Context, id int64) (*Patient, error) {
	return r.getOne(ctx, storage.Fields{"id": id}, fmt.Sprintf("patient %d", id))
}

func (r *patientRepoStore) GetByIdentification(ctx context.Context, identification string) (*Patient, error) {
	return r.getOne(ctx, storage.Fields{"identification": identification}, "patient "+identification)
}

func (r *patientRepoStore) getOne(ctx context.Context, filter storage.Fields, what string) (*Patient, error) {
	rec, err := r.store.FindOne(ctx, storage.EntityPatient, filter)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", what, err)
	}
	if rec == nil {
		return nil, fmt.Errorf("%s: %w", what, storage.ErrNotFound)
	}
	return patientFromRecord(rec), nil
}

func (r *patientRepoStore) Update(ctx context.Context, p *Patient) error {
	fields := p.fields()
	delete(fields, "identification")
	rec, err := r.store.Update(ctx, storage.EntityPatient, p.ID, fields)
	if err != nil {
		return fmt.Errorf("update patient %s: %w", p.Identification, err)
	}
	*p = *patientFromRecord(rec)
	return nil
}

func (r *patientRepoStore) List(ctx context.Context, filter ListFilter, limit, offset int) ([]*Patient, int, error) {
	q := storage.Query{Filter: storage.Fields{}, OrderBy: "identification"}
	if filter.Company != "" {
		q.Filter["company"] = filter.Company
	}
	if filter.WorkArea != "" {
		q.Filter["work_area"] = filter.WorkArea
	}
	recs, err := r.store.FindAll(ctx, storage.EntityPatient, q)
	if err != nil {
		return nil, 0, fmt.Errorf("list patients: %w", err)
	}
	var items []*Patient
	for _, rec := range storage.Page(recs, limit, offset) {
		items = append(items, patientFromRecord(rec))
	}
	return items, len(recs), nil
}
