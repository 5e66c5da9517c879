package encounter

import (
	"context"

	"github.com/occhealth/occhealth/internal/platform/storage"
)

// ListFilter narrows List. From and To bound the encounter date
// inclusively; empty bounds are open.
type ListFilter struct {
	PatientID int64
	Code      string
	From      string
	To        string
}

type Repository interface {
	Create(ctx context.Context, e *Encounter) error
	GetByID(ctx context.Context, id int64) (*Encounter, error)
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*Encounter, int, error)
	// History returns every encounter of patientID in insertion order.
	History(ctx context.Context, patientID int64) ([]*Encounter, error)
	CountEncounters(ctx context.Context, patientID int64, code *string, r storage.DateRange) (int, error)
}
