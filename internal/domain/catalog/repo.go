package catalog

import "context"

type Repository interface {
	Create(ctx context.Context, e *Entry) error
	GetByCode(ctx context.Context, code string) (*Entry, error)
	Update(ctx context.Context, e *Entry) error
	List(ctx context.Context, activeOnly bool, limit, offset int) ([]*Entry, int, error)
	IsEmpty(ctx context.Context) (bool, error)
}
