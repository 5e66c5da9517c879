package doctor

import (
	"time"

	"github.com/occhealth/occhealth/internal/platform/storage"
)

type Doctor struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	Specialty     string    `json:"specialty"`
	LicenseNumber string    `json:"license_number"`
	Active        bool      `json:"active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func doctorFromRecord(rec *storage.Record) *Doctor {
	return &Doctor{
		ID:            rec.ID,
		Name:          rec.Str("name"),
		Specialty:     rec.Str("specialty"),
		LicenseNumber: rec.Str("license_number"),
		Active:        rec.Bool("active"),
		CreatedAt:     rec.CreatedAt,
		UpdatedAt:     rec.UpdatedAt,
	}
}

func (d *Doctor) fields() storage.Fields {
	return storage.Fields{
		"name":           d.Name,
		"specialty":      d.Specialty,
		"license_number": d.LicenseNumber,
		"active":         d.Active,
	}
}
