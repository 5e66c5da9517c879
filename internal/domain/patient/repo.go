package patient

import "context"

// ListFilter narrows List; empty fields match everything.
type ListFilter struct {
	Company  string
	WorkArea string
}

type Repository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id int64) (*Patient, error)
	GetByIdentification(ctx context.Context, identification string) (*Patient, error)
	Update(ctx context.Context, p *Patient) error
	List(ctx context.Context, filter ListFilter, limit, offset int) ([]*Patient, int, error)
}
