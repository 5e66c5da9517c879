package dependent

import "context"

// Filter narrows the list operations; zero fields match everything.
type Filter struct {
	PatientID      int64
	EncounterID    int64
	Identification string
}

type Repository interface {
	Create(ctx context.Context, r Record) error
	ListIncidents(ctx context.Context, f Filter, limit, offset int) ([]*Incident, int, error)
	ListGloveUses(ctx context.Context, f Filter, limit, offset int) ([]*GloveUse, int, error)
	ListDiets(ctx context.Context, f Filter, limit, offset int) ([]*Diet, int, error)
}
