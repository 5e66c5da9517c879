package doctor

import "context"

type Repository interface {
	Create(ctx context.Context, d *Doctor) error
	GetByID(ctx context.Context, id int64) (*Doctor, error)
	Update(ctx context.Context, d *Doctor) error
	List(ctx context.Context, activeOnly bool, limit, offset int) ([]*Doctor, int, error)
}
