// Package dependent holds the specialised records an encounter cascades
// into: incidents, glove-use periods and diets.
package dependent

import (
	"time"

	"github.com/occhealth/occhealth/internal/domain/patient"
	"github.com/occhealth/occhealth/internal/platform/apperr"
	"github.com/occhealth/occhealth/internal/platform/storage"
)

// RangeKind distinguishes the three shapes a diet period can take.
type RangeKind string

const (
	RangeBounded     RangeKind = "bounded"
	RangeOpenEnded   RangeKind = "open_ended"
	RangeUnspecified RangeKind = "unspecified"
)

// DateRange is a period of "2006-01-02" dates. End is empty unless Kind is
// RangeBounded; Start is empty for RangeUnspecified.
type DateRange struct {
	Kind  RangeKind `json:"kind"`
	Start string    `json:"start,omitempty"`
	End   string    `json:"end,omitempty"`
}

func Bounded(start, end string) DateRange {
	return DateRange{Kind: RangeBounded, Start: start, End: end}
}

func OpenEnded(start string) DateRange {
	return DateRange{Kind: RangeOpenEnded, Start: start}
}

func Unspecified() DateRange {
	return DateRange{Kind: RangeUnspecified}
}

func (r DateRange) Validate() error {
	switch r.Kind {
	case RangeBounded:
		if err := checkDate("start_date", r.Start); err != nil {
			return err
		}
		if err := checkDate("end_date", r.End); err != nil {
			return err
		}
		if r.End < r.Start {
			return apperr.Validation("end_date", "%s is before start date %s", r.End, r.Start)
		}
	case RangeOpenEnded:
		if err := checkDate("start_date", r.Start); err != nil {
			return err
		}
		if r.End != "" {
			return apperr.Validation("end_date", "open-ended range cannot have an end date")
		}
	case RangeUnspecified:
		if r.Start != "" || r.End != "" {
			return apperr.Validation("range_kind", "unspecified range cannot carry dates")
		}
	default:
		return apperr.Validation("range_kind", "unknown range kind %q", r.Kind)
	}
	return nil
}

// Covers reports whether date falls inside the range. An unspecified range
// covers nothing.
func (r DateRange) Covers(date string) bool {
	switch r.Kind {
	case RangeBounded:
		return date >= r.Start && date <= r.End
	case RangeOpenEnded:
		return date >= r.Start
	default:
		return false
	}
}

func checkDate(field, v string) error {
	if _, err := time.Parse(storage.DateLayout, v); err != nil {
		return apperr.Validation(field, "want YYYY-MM-DD, got %q", v)
	}
	return nil
}

// Base is what every dependent record shares with its encounter.
type Base struct {
	ID          int64  `json:"id"`
	PatientID   int64  `json:"patient_id"`
	EncounterID int64  `json:"encounter_id"`
	Date        string `json:"date"`
	patient.Snapshot
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (b *Base) fields() storage.Fields {
	f := b.Snapshot.Fields()
	f["patient_id"] = b.PatientID
	f["encounter_id"] = b.EncounterID
	f["date"] = b.Date
	return f
}

func (b *Base) load(rec *storage.Record) {
	b.ID = rec.ID
	b.PatientID = rec.Int("patient_id")
	b.EncounterID = rec.Int("encounter_id")
	b.Date = rec.Str("date")
	b.Snapshot = patient.SnapshotFromRecord(rec)
	b.CreatedAt = rec.CreatedAt
	b.UpdatedAt = rec.UpdatedAt
}

// Record is any dependent record the repository can persist.
type Record interface {
	Entity() string
	Fields() storage.Fields
	Load(rec *storage.Record)
	RecordID() int64
}

type Incident struct {
	Base
	Condition  string `json:"condition"`
	DaysOfRest int    `json:"days_of_rest"`
}

func (i *Incident) Entity() string  { return storage.EntityIncident }
func (i *Incident) RecordID() int64 { return i.ID }

func (i *Incident) Fields() storage.Fields {
	f := i.Base.fields()
	f["condition"] = i.Condition
	f["days_of_rest"] = int64(i.DaysOfRest)
	return f
}

func (i *Incident) Load(rec *storage.Record) {
	i.Base.load(rec)
	i.Condition = rec.Str("condition")
	i.DaysOfRest = int(rec.Int("days_of_rest"))
}

type GloveUse struct {
	Base
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

func (g *GloveUse) Entity() string  { return storage.EntityGloveUse }
func (g *GloveUse) RecordID() int64 { return g.ID }

func (g *GloveUse) Fields() storage.Fields {
	f := g.Base.fields()
	f["start_date"] = g.StartDate
	f["end_date"] = g.EndDate
	return f
}

func (g *GloveUse) Load(rec *storage.Record) {
	g.Base.load(rec)
	g.StartDate = rec.Str("start_date")
	g.EndDate = rec.Str("end_date")
}

type Diet struct {
	Base
	Range       DateRange `json:"range"`
	Observation string    `json:"observation"`
}

func (d *Diet) Entity() string  { return storage.EntityDiet }
func (d *Diet) RecordID() int64 { return d.ID }

func (d *Diet) Fields() storage.Fields {
	f := d.Base.fields()
	f["range_kind"] = string(d.Range.Kind)
	f["start_date"] = d.Range.Start
	f["end_date"] = d.Range.End
	f["observation"] = d.Observation
	return f
}

func (d *Diet) Load(rec *storage.Record) {
	d.Base.load(rec)
	d.Range = DateRange{
		Kind:  RangeKind(rec.Str("range_kind")),
		Start: rec.Str("start_date"),
		End:   rec.Str("end_date"),
	}
	if d.Range.Kind == "" {
		d.Range.Kind = RangeUnspecified
	}
	d.Observation = rec.Str("observation")
}

// ActiveOn reports whether the diet applies on date.
func (d *Diet) ActiveOn(date string) bool {
	return d.Range.Covers(date)
}
