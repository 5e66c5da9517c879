package catalog

import (
	"context"
	"fmt"

	"github.com/occhealth/occhealth/internal/platform/storage"
)

type entryRepoStore struct {
	store storage.Store
}

// NewRepo returns a Repository backed by whichever storage adapter is
// configured.
func NewRepo(store storage.Store) Repository {
	return &entryRepoStore{store: store}
}

func (r *entryRepoStore) Create(ctx context.Context, e *Entry) error {
	rec, err := r.store.Create(ctx, storage.EntityCode, e.fields())
	if err != nil {
		return fmt.Errorf("create code %s: %w", e.Code, err)
	}
	*e = *entryFromRecord(rec)
	return nil
}

func (r *entryRepoStore) GetByCode(ctx context.Context, code string) (*Entry, error) {
	rec, err := r.store.FindOne(ctx, storage.EntityCode, storage.Fields{"code": code})
	if err != nil {
		return nil, fmt.Errorf("get code %s: %w", code, err)
	}
	if rec == nil {
		return nil, fmt.Errorf("code %s: %w", code, storage.ErrNotFound)
	}
	return entryFromRecord(rec), nil
}

func (r *entryRepoStore) Update(ctx context.Context, e *Entry) error {
	rec, err := r.store.Update(ctx, storage.EntityCode, e.ID, storage.Fields{
		"description": e.Description,
		"category":    string(e.Category),
		"active":      e.Active,
	})
	if err != nil {
		return fmt.Errorf("update code %s: %w", e.Code, err)
	}
	*e = *entryFromRecord(rec)
	return nil
}

func (r *entryRepoStore) List(ctx context.Context, activeOnly bool, limit, offset int) ([]*Entry, int, error) {
	q := storage.Query{OrderBy: "code"}
	if activeOnly {
		q.Filter = storage.Fields{"active": true}
	}
	recs, err := r.store.FindAll(ctx, storage.EntityCode, q)
	if err != nil {
		return nil, 0, fmt.Errorf("list codes: %w", err)
	}
	total := len(recs)
	var items []*Entry
	for _, rec := range storage.Page(recs, limit, offset) {
		items = append(items, entryFromRecord(rec))
	}
	return items, total, nil
}

func (r *entryRepoStore) IsEmpty(ctx context.Context) (bool, error) {
	recs, err := r.store.FindAll(ctx, storage.EntityCode, storage.Query{Limit: 1})
	if err != nil {
		return false, fmt.Errorf("probe codes: %w", err)
	}
	return len(recs) == 0, nil
}
