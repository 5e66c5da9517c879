package catalog

import (
	"strings"
	"time"

	"github.com/occhealth/occhealth/internal/platform/apperr"
	"github.com/occhealth/occhealth/internal/platform/storage"
)

type Category string

const (
	CategoryOrdinary Category = "ORDINARY"
	CategoryIncident Category = "INCIDENT"
	CategoryAccident Category = "ACCIDENT"
)

// ParseCategory normalises s; an empty category is ordinary.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToUpper(strings.TrimSpace(s)))
	switch c {
	case "":
		return CategoryOrdinary, nil
	case CategoryOrdinary, CategoryIncident, CategoryAccident:
		return c, nil
	}
	return "", apperr.Validation("category", "must be ORDINARY, INCIDENT or ACCIDENT, got %q", s)
}

// DeriveCauses returns the causes text an encounter snapshots for a code:
// the category name for INCIDENT and ACCIDENT codes, the description
// otherwise.
func DeriveCauses(category Category, description string) string {
	c := Category(strings.ToUpper(strings.TrimSpace(string(category))))
	if c == CategoryIncident || c == CategoryAccident {
		return string(c)
	}
	return description
}

// Entry maps to the code entity.
type Entry struct {
	ID          int64     `json:"id"`
	Code        string    `json:"code"`
	Description string    `json:"description"`
	Category    Category  `json:"category"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Resolution is what an encounter snapshots from the catalog.
type Resolution struct {
	Code        string   `json:"code"`
	Description string   `json:"description"`
	Category    Category `json:"category"`
	Causes      string   `json:"causes"`
}

func (e *Entry) Resolve() *Resolution {
	return &Resolution{
		Code:        e.Code,
		Description: e.Description,
		Category:    e.Category,
		Causes:      DeriveCauses(e.Category, e.Description),
	}
}

func entryFromRecord(rec *storage.Record) *Entry {
	return &Entry{
		ID:          rec.ID,
		Code:        rec.Str("code"),
		Description: rec.Str("description"),
		Category:    Category(rec.Str("category")),
		Active:      rec.Bool("active"),
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
	}
}

func (e *Entry) fields() storage.Fields {
	return storage.Fields{
		"code":        e.Code,
		"description": e.Description,
		"category":    string(e.Category),
		"active":      e.Active,
	}
}
