// Package storage defines the persistence port shared by the relational and
// the workbook adapters. Both adapters are driven by the same Schema, assign
// ids the same way (max existing id + 1 per entity) and return values
// normalised to the same Go types, so callers never branch on the backend.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/occhealth/occhealth/internal/platform/apperr"
)

var (
	ErrNotFound    = apperr.ErrNotFound
	ErrUnavailable = apperr.ErrStorageUnavailable
	ErrConflict    = apperr.ErrConflict
)

// Store is the capability set every backend adapter implements.
type Store interface {
	// Create assigns the next id for entity, stamps timestamps, checks
	// foreign references and unique fields, and returns the stored record.
	Create(ctx context.Context, entity string, fields Fields) (*Record, error)

	// FindAll returns the records of entity matching q.Filter, in id order
	// unless q.OrderBy says otherwise.
	FindAll(ctx context.Context, entity string, q Query) ([]*Record, error)

	// FindOne returns the first record (id order) matching filter, or nil.
	FindOne(ctx context.Context, entity string, filter Fields) (*Record, error)

	// Update merges fields into record id and re-stamps updated_at.
	Update(ctx context.Context, entity string, id int64, fields Fields) (*Record, error)

	// CountEncounters counts the encounters of patientID dated inside r.
	// A nil code counts every code; a non-nil code counts only that code
	// (the empty string matches encounters recorded without a code).
	CountEncounters(ctx context.Context, patientID int64, code *string, r DateRange) (int, error)

	Ping(ctx context.Context) error
	Close() error
}

// Fields is a column-name to value map. Values stored in a Record are always
// string, int64 or bool, per the entity's Schema.
type Fields map[string]interface{}

// Record is one stored row.
type Record struct {
	ID        int64     `json:"id"`
	Fields    Fields    `json:"fields"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (r *Record) Str(name string) string {
	s, _ := r.Fields[name].(string)
	return s
}

func (r *Record) Int(name string) int64 {
	n, _ := r.Fields[name].(int64)
	return n
}

func (r *Record) Bool(name string) bool {
	b, _ := r.Fields[name].(bool)
	return b
}

// Query narrows FindAll. Filter values are matched exactly after
// normalisation. OrderBy accepts "id", "created_at", "updated_at" or any
// schema field; ties are always broken by ascending id.
type Query struct {
	Filter  Fields
	OrderBy string
	Desc    bool
	Limit   int
	Offset  int
}

// Unavailable wraps a backend failure as retryable.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}

// Clock returns the time used for created_at/updated_at stamps.
type Clock func() time.Time

// SystemClock stamps with the current UTC time at microsecond precision,
// the finest precision both backends round-trip.
func SystemClock() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
