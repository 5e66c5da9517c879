package doctor

import (
	"context"
	"fmt"

	"github.com/occhealth/occhealth/internal/platform/storage"
)

type doctorRepoStore struct {
	store storage.Store
}

func NewRepo(store storage.Store) Repository {
	return &doctorRepoStore{store: store}
}

func (r *doctorRepoStore) Create(ctx context.Context, d *Doctor) error {
	rec, err := r.store.Create(ctx, storage.EntityDoctor, d.fields())
	if err != nil {
		return fmt.Errorf("create doctor: %w", err)
	}
	*d = *doctorFromRecord(rec)
	return nil
}

func (r *doctorRepoStore) GetByID(ctx context.Context, id int64) (*Doctor, error) {
	rec, err := r.store.FindOne(ctx, storage.EntityDoctor, storage.Fields{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get doctor %d: %w", id, err)
	}
	if rec == nil {
		return nil, fmt.Errorf("doctor %d: %w", id, storage.ErrNotFound)
	}
	return doctorFromRecord(rec), nil
}

func (r *doctorRepoStore) Update(ctx context.Context, d *Doctor) error {
	rec, err := r.store.Update(ctx, storage.EntityDoctor, d.ID, d.fields())
	if err != nil {
		return fmt.Errorf("update doctor %d: %w", d.ID, err)
	}
	*d = *doctorFromRecord(rec)
	return nil
}

func (r *doctorRepoStore) List(ctx context.Context, activeOnly bool, limit, offset int) ([]*Doctor, int, error) {
	q := storage.Query{OrderBy: "name"}
	if activeOnly {
		q.Filter = storage.Fields{"active": true}
	}
	recs, err := r.store.FindAll(ctx, storage.EntityDoctor, q)
	if err != nil {
		return nil, 0, fmt.Errorf("list doctors: %w", err)
	}
	var items []*Doctor
	for _, rec := range storage.Page(recs, limit, offset) {
		items = append(items, doctorFromRecord(rec))
	}
	return items, len(recs), nil
}
