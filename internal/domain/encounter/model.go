package encounter

import (
	"strings"
	"time"

	"github.com/occhealth/occhealth/internal/domain/cascade"
	"github.com/occhealth/occhealth/internal/platform/apperr"
	"github.com/occhealth/occhealth/internal/platform/storage"
)

const TimeLayout = "15:04"

// Encounter maps to the encounter entity. Code fields are snapshots taken
// from the catalog when the encounter was recorded.
type Encounter struct {
	ID                   int64     `json:"id"`
	PatientID            int64     `json:"patient_id"`
	DoctorID             int64     `json:"doctor_id,omitempty"`
	Date                 string    `json:"date"`
	Time                 string    `json:"time,omitempty"`
	ConsultationType     string    `json:"consultation_type,omitempty"`
	Code                 string    `json:"code,omitempty"`
	CodeDescription      string    `json:"code_description,omitempty"`
	SecondaryCode        string    `json:"secondary_code,omitempty"`
	SecondaryDescription string    `json:"secondary_description,omitempty"`
	Causes               string    `json:"causes,omitempty"`
	Diagnosis            string    `json:"diagnosis,omitempty"`
	Prescription         string    `json:"prescription,omitempty"`
	DaysOfRest           int       `json:"days_of_rest"`
	MonthlyCountForCode  int       `json:"monthly_count_for_code"`
	MonthlyCountTotal    int       `json:"monthly_count_total"`
	AnnualCountTotal     int       `json:"annual_count_total"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// Counters are the three visit statistics stamped on an encounter.
type Counters struct {
	MonthlyForCode int `json:"monthly_count_for_code"`
	MonthlyTotal   int `json:"monthly_count_total"`
	AnnualTotal    int `json:"annual_count_total"`
}

func (e *Encounter) Counters() Counters {
	return Counters{
		MonthlyForCode: e.MonthlyCountForCode,
		MonthlyTotal:   e.MonthlyCountTotal,
		AnnualTotal:    e.AnnualCountTotal,
	}
}

func (e *Encounter) setCounters(c Counters) {
	e.MonthlyCountForCode = c.MonthlyForCode
	e.MonthlyCountTotal = c.MonthlyTotal
	e.AnnualCountTotal = c.AnnualTotal
}

// Submission is one raw encounter as the caller sends it. The patient is
// given by id or by identification. Description and causes are used only
// when the code is not in the catalog.
type Submission struct {
	PatientID            int64  `json:"patient_id"`
	Identification       string `json:"identification"`
	DoctorID             int64  `json:"doctor_id"`
	Date                 string `json:"date"`
	Time                 string `json:"time"`
	ConsultationType     string `json:"consultation_type"`
	Code                 string `json:"code"`
	CodeDescription      string `json:"code_description"`
	Causes               string `json:"causes"`
	SecondaryCode        string `json:"secondary_code"`
	SecondaryDescription string `json:"secondary_description"`
	Diagnosis            string `json:"diagnosis"`
	Prescription         string `json:"prescription"`
	DaysOfRest           int    `json:"days_of_rest"`
	cascade.Request
}

// Validate rejects malformed submissions before any storage call.
func (s *Submission) Validate() error {
	s.Identification = strings.TrimSpace(s.Identification)
	s.Code = strings.TrimSpace(s.Code)
	s.SecondaryCode = strings.TrimSpace(s.SecondaryCode)

	if s.Date == "" {
		return apperr.Validation("date", "is required")
	}
	if _, err := time.Parse(storage.DateLayout, s.Date); err != nil {
		return apperr.Validation("date", "want YYYY-MM-DD, got %q", s.Date)
	}
	if s.Time != "" {
		if _, err := time.Parse(TimeLayout, s.Time); err != nil {
			return apperr.Validation("time", "want HH:MM, got %q", s.Time)
		}
	}
	if s.PatientID < 0 {
		return apperr.Validation("patient_id", "must be positive, got %d", s.PatientID)
	}
	if s.PatientID == 0 && s.Identification == "" {
		return apperr.Validation("patient_id", "patient_id or identification is required")
	}
	if s.DoctorID < 0 {
		return apperr.Validation("doctor_id", "must be positive, got %d", s.DoctorID)
	}
	if s.DaysOfRest < 0 {
		return apperr.Validation("days_of_rest", "must be >= 0, got %d", s.DaysOfRest)
	}
	return s.Request.Validate()
}

func encounterFromRecord(rec *storage.Record) *Encounter {
	return &Encounter{
		ID:                   rec.ID,
		PatientID:            rec.Int("patient_id"),
		DoctorID:             rec.Int("doctor_id"),
		Date:                 rec.Str("date"),
		Time:                 rec.Str("time"),
		ConsultationType:     rec.Str("consultation_type"),
		Code:                 rec.Str("code"),
		CodeDescription:      rec.Str("code_description"),
		SecondaryCode:        rec.Str("secondary_code"),
		SecondaryDescription: rec.Str("secondary_description"),
		Causes:               rec.Str("causes"),
		Diagnosis:            rec.Str("diagnosis"),
		Prescription:         rec.Str("prescription"),
		DaysOfRest:           int(rec.Int("days_of_rest")),
		MonthlyCountForCode:  int(rec.Int("monthly_count_for_code")),
		MonthlyCountTotal:    int(rec.Int("monthly_count_total")),
		AnnualCountTotal:     int(rec.Int("annual_count_total")),
		CreatedAt:            rec.CreatedAt,
		UpdatedAt:            rec.UpdatedAt,
	}
}

func (e *Encounter) fields() storage.Fields {
	return storage.Fields{
		"patient_id":             e.PatientID,
		"doctor_id":              e.DoctorID,
		"date":                   e.Date,
		"time":                   e.Time,
		"consultation_type":      e.ConsultationType,
		"code":                   e.Code,
		"code_description":       e.CodeDescription,
		"secondary_code":         e.SecondaryCode,
		"secondary_description":  e.SecondaryDescription,
		"causes":                 e.Causes,
		"diagnosis":              e.Diagnosis,
		"prescription":           e.Prescription,
		"days_of_rest":           int64(e.DaysOfRest),
		"monthly_count_for_code": int64(e.MonthlyCountForCode),
		"monthly_count_total":    int64(e.MonthlyCountTotal),
		"annual_count_total":     int64(e.AnnualCountTotal),
	}
}
