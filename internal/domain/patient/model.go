package patient

import (
	"strings"
	"time"

	"github.com/occhealth/occhealth/internal/platform/hrdirectory"
	"github.com/occhealth/occhealth/internal/platform/storage"
)

// Patient maps to the patient entity. Identification is the lookup key;
// ID only links relational rows.
type Patient struct {
	ID                    int64     `json:"id"`
	Identification        string    `json:"identification"`
	FirstName             string    `json:"first_name"`
	LastName              string    `json:"last_name"`
	Position              string    `json:"position"`
	WorkArea              string    `json:"work_area"`
	Company               string    `json:"company"`
	Gender                string    `json:"gender"`
	Phone                 string    `json:"phone"`
	Email                 string    `json:"email"`
	Address               string    `json:"address"`
	DisabilityDescription string    `json:"disability_description"`
	VulnerableDescription string    `json:"vulnerable_description"`
	VulnerableReversible  bool      `json:"vulnerable_reversible"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

func (p *Patient) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// Snapshot is the copy of a patient that dependent records keep, so later
// edits to the patient leave historical records untouched.
type Snapshot struct {
	Identification string `json:"identification"`
	Name           string `json:"patient_name"`
	Position       string `json:"position"`
	WorkArea       string `json:"work_area"`
	Company        string `json:"company"`
	Phone          string `json:"phone"`
	Address        string `json:"address"`
}

func (p *Patient) Snapshot() Snapshot {
	return Snapshot{
		Identification: p.Identification,
		Name:           p.FullName(),
		Position:       p.Position,
		WorkArea:       p.WorkArea,
		Company:        p.Company,
		Phone:          p.Phone,
		Address:        p.Address,
	}
}

// Fields renders the snapshot columns shared by every dependent entity.
func (s Snapshot) Fields() storage.Fields {
	return storage.Fields{
		"identification": s.Identification,
		"patient_name":   s.Name,
		"position":       s.Position,
		"work_area":      s.WorkArea,
		"company":        s.Company,
		"phone":          s.Phone,
		"address":        s.Address,
	}
}

func SnapshotFromRecord(rec *storage.Record) Snapshot {
	return Snapshot{
		Identification: rec.Str("identification"),
		Name:           rec.Str("patient_name"),
		Position:       rec.Str("position"),
		WorkArea:       rec.Str("work_area"),
		Company:        rec.Str("company"),
		Phone:          rec.Str("phone"),
		Address:        rec.Str("address"),
	}
}

// Merge folds HR data into p and reports whether anything changed. HR owns
// employment and contact data whenever it reports a value; disability and
// vulnerability are edited locally and only seeded from HR while empty.
func (p *Patient) Merge(hr *hrdirectory.Person) bool {
	if hr == nil {
		return false
	}
	changed := false
	own := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" && *dst != v {
			*dst = v
			changed = true
		}
	}
	seed := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" && *dst == "" {
			*dst = v
			changed = true
		}
	}
	own(&p.FirstName, hr.FirstName)
	own(&p.LastName, hr.LastName)
	own(&p.Position, hr.Position)
	own(&p.WorkArea, hr.WorkArea)
	own(&p.Gender, hr.Gender)
	own(&p.Phone, hr.Phone)
	own(&p.Company, hr.Company)
	own(&p.Address, hr.Address)
	seed(&p.DisabilityDescription, hr.DisabilityDescription)
	seed(&p.VulnerableDescription, hr.VulnerableDescription)
	return changed
}

func patientFromRecord(rec *storage.Record) *Patient {
	return &Patient{
		ID:                    rec.ID,
		Identification:        rec.Str("identification"),
		FirstName:             rec.Str("first_name"),
		LastName:              rec.Str("last_name"),
		Position:              rec.Str("position"),
		WorkArea:              rec.Str("work_area"),
		Company:               rec.Str("company"),
		Gender:                rec.Str("gender"),
		Phone:                 rec.Str("phone"),
		Email:                 rec.Str("email"),
		Address:               rec.Str("address"),
		DisabilityDescription: rec.Str("disability_description"),
		VulnerableDescription: rec.Str("vulnerable_description"),
		VulnerableReversible:  rec.Bool("vulnerable_reversible"),
		CreatedAt:             rec.CreatedAt,
		UpdatedAt:             rec.UpdatedAt,
	}
}

func (p *Patient) fields() storage.Fields {
	return storage.Fields{
		"identification":         p.Identification,
		"first_name":             p.FirstName,
		"last_name":              p.LastName,
		"position":               p.Position,
		"work_area":              p.WorkArea,
		"company":                p.Company,
		"gender":                 p.Gender,
		"phone":                  p.Phone,
		"email":                  p.Email,
		"address":                p.Address,
		"disability_description": p.DisabilityDescription,
		"vulnerable_description": p.VulnerableDescription,
		"vulnerable_reversible":  p.VulnerableReversible,
	}
}
