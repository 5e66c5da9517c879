package dependent

import (
	"context"
	"fmt"

	"github.com/occhealth/occhealth/internal/platform/storage"
)

type dependentRepoStore struct {
	store storage.Store
}

func NewRepo(store storage.Store) Repository {
	return &dependentRepoStore{store: store}
}

func (r *dependentRepoStore) Create(ctx context.Context, d Record) error {
	rec, err := r.store.Create(ctx, d.Entity(), d.Fields())
	if err != nil {
		return fmt.Errorf("create %s: %w", d.Entity(), err)
	}
	d.Load(rec)
	return nil
}

func (r *dependentRepoStore) find(ctx context.Context, entity string, f Filter, limit, offset int) ([]*storage.Record, int, error) {
	q := storage.Query{Filter: storage.Fields{}}
	if f.PatientID != 0 {
		q.Filter["patient_id"] = f.PatientID
	}
	if f.EncounterID != 0 {
		q.Filter["encounter_id"] = f.EncounterID
	}
	if f.Identification != "" {
		q.Filter["identification"] = f.Identification
	}
	recs, err := r.store.FindAll(ctx, entity, q)
	if err != nil {
		return nil, 0, fmt.Errorf("list %s: %w", entity, err)
	}
	return storage.Page(recs, limit, offset), len(recs), nil
}

func (r *dependentRepoStore) ListIncidents(ctx context.Context, f Filter, limit, offset int) ([]*Incident, int, error) {
	recs, total, err := r.find(ctx, storage.EntityIncident, f, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	items := make([]*Incident, 0, len(recs))
	for _, rec := range recs {
		i := &Incident{}
		i.Load(rec)
		items = append(items, i)
	}
	return items, total, nil
}

func (r *dependentRepoStore) ListGloveUses(ctx context.Context, f Filter, limit, offset int) ([]*GloveUse, int, error) {
	recs, total, err := r.find(ctx, storage.EntityGloveUse, f, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	items := make([]*GloveUse, 0, len(recs))
	for _, rec := range recs {
		g := &GloveUse{}
		g.Load(rec)
		items = append(items, g)
	}
	return items, total, nil
}

func (r *dependentRepoStore) ListDiets(ctx context.Context, f Filter, limit, offset int) ([]*Diet, int, error) {
	recs, total, err := r.find(ctx, storage.EntityDiet, f, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	items := make([]*Diet, 0, len(recs))
	for _, rec := range recs {
		d := &Diet{}
		d.Load(rec)
		items = append(items, d)
	}
	return items, total, nil
}
