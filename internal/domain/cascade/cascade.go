// Package cascade turns the intent flags of an accepted encounter into
// dependent records. Rules are evaluated once, in order, against an
// immutable snapshot of the encounter; each rule succeeds, skips or fails
// on its own and never undoes the encounter or a sibling record.
package cascade

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/occhealth/occhealth/internal/domain/dependent"
	"github.com/occhealth/occhealth/internal/domain/patient"
	"github.com/occhealth/occhealth/internal/platform/apperr"
	"github.com/occhealth/occhealth/internal/platform/storage"
)

// Flags are input-only intents submitted with an encounter.
type Flags struct {
	IsIncident      bool `json:"is_incident"`
	NeedsGloves     bool `json:"needs_gloves"`
	NeedsDiet       bool `json:"needs_diet"`
	NeedsFoodIntake bool `json:"needs_food_intake"`
}

func (f Flags) Any() bool {
	return f.IsIncident || f.NeedsGloves || f.NeedsDiet || f.NeedsFoodIntake
}

// Request is the cascade part of an encounter submission.
type Request struct {
	Flags
	IncidentCondition     string `json:"incident_condition"`
	IncidentDaysOfRest    *int   `json:"incident_days_of_rest"`
	GloveStartDate        string `json:"glove_start_date"`
	GloveEndDate          string `json:"glove_end_date"`
	DietStartDate         string `json:"diet_start_date"`
	DietEndDate           string `json:"diet_end_date"`
	DietObservation       string `json:"diet_observation"`
	FoodIntakeStartDate   string `json:"food_intake_start_date"`
	FoodIntakeObservation string `json:"food_intake_observation"`
}

// Validate rejects malformed dates before anything is written. Missing
// dates are not an error here; the matching rule skips instead.
func (r Request) Validate() error {
	dates := []struct{ field, v string }{
		{"glove_start_date", r.GloveStartDate},
		{"glove_end_date", r.GloveEndDate},
		{"diet_start_date", r.DietStartDate},
		{"diet_end_date", r.DietEndDate},
		{"food_intake_start_date", r.FoodIntakeStartDate},
	}
	for _, d := range dates {
		if d.v == "" {
			continue
		}
		if _, err := time.Parse(storage.DateLayout, d.v); err != nil {
			return apperr.Validation(d.field, "want YYYY-MM-DD, got %q", d.v)
		}
	}
	if r.GloveStartDate != "" && r.GloveEndDate != "" && r.GloveEndDate < r.GloveStartDate {
		return apperr.Validation("glove_end_date", "%s is before %s", r.GloveEndDate, r.GloveStartDate)
	}
	if r.DietStartDate != "" && r.DietEndDate != "" && r.DietEndDate < r.DietStartDate {
		return apperr.Validation("diet_end_date", "%s is before %s", r.DietEndDate, r.DietStartDate)
	}
	if r.IncidentDaysOfRest != nil && *r.IncidentDaysOfRest < 0 {
		return apperr.Validation("incident_days_of_rest", "must be >= 0, got %d", *r.IncidentDaysOfRest)
	}
	return nil
}

// Source is the accepted encounter as the rules see it.
type Source struct {
	EncounterID int64
	PatientID   int64
	Date        string
	DaysOfRest  int
	Patient     patient.Snapshot
}

func (s Source) base() dependent.Base {
	return dependent.Base{
		PatientID:   s.PatientID,
		EncounterID: s.EncounterID,
		Date:        s.Date,
		Snapshot:    s.Patient,
	}
}

// Rule pairs a predicate over the flags with a builder for one dependent
// record. Build returns a *SkipError when the request lacks what the record
// needs.
type Rule struct {
	Name    string
	Applies func(Flags) bool
	Build   func(Source, Request) (dependent.Record, error)
}

type SkipError struct {
	Reason string
}

func (e *SkipError) Error() string { return "skipped: " + e.Reason }

func skip(format string, args ...interface{}) error {
	return &SkipError{Reason: fmt.Sprintf(format, args...)}
}

type Status string

const (
	StatusCreated Status = "created"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// Outcome reports what one applicable rule did.
type Outcome struct {
	Rule     string           `json:"rule"`
	Entity   string           `json:"entity"`
	Status   Status           `json:"status"`
	RecordID int64            `json:"record_id,omitempty"`
	Reason   string           `json:"reason,omitempty"`
	Message  string           `json:"error,omitempty"`
	Err      error            `json:"-"`
	Record   dependent.Record `json:"record,omitempty"`
}

func (o *Outcome) fail(err error) {
	o.Status = StatusFailed
	o.Err = err
	o.Message = err.Error()
}

// Creator persists dependent records; dependent.Repository satisfies it.
type Creator interface {
	Create(ctx context.Context, r dependent.Record) error
}

// Observer is told about every outcome, e.g. to count them.
type Observer func(Outcome)

type Dispatcher struct {
	rules    []Rule
	repo     Creator
	observer Observer
	logger   zerolog.Logger
}

type Option func(*Dispatcher)

func WithRules(rules ...Rule) Option {
	return func(d *Dispatcher) { d.rules = rules }
}

func WithObserver(o Observer) Option {
	return func(d *Dispatcher) { d.observer = o }
}

func NewDispatcher(repo Creator, logger zerolog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		rules:  DefaultRules(),
		repo:   repo,
		logger: logger.With().Str("component", "cascade").Logger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch runs every applicable rule and returns one outcome per rule
// that applied, in rule order. Rules that do not apply leave no outcome.
func (d *Dispatcher) Dispatch(ctx context.Context, src Source, req Request) []Outcome {
	outcomes := []Outcome{}
	for _, rule := range d.rules {
		if !rule.Applies(req.Flags) {
			continue
		}
		o := d.run(ctx, rule, src, req)
		if d.observer != nil {
			d.observer(o)
		}
		outcomes = append(outcomes, o)
	}
	return outcomes
}

func (d *Dispatcher) run(ctx context.Context, rule Rule, src Source, req Request) Outcome {
	o := Outcome{Rule: rule.Name}
	rec, err := rule.Build(src, req)
	var se *SkipError
	switch {
	case errors.As(err, &se):
		o.Status = StatusSkipped
		o.Reason = se.Reason
		d.logger.Info().Str("rule", rule.Name).Int64("encounter_id", src.EncounterID).Str("reason", se.Reason).Msg("cascade rule skipped")
		return o
	case err != nil:
		o.fail(err)
		d.logger.Warn().Err(err).Str("rule", rule.Name).Int64("encounter_id", src.EncounterID).Msg("cascade rule failed")
		return o
	}

	o.Entity = rec.Entity()
	if err := d.repo.Create(ctx, rec); err != nil {
		o.fail(err)
		d.logger.Warn().Err(err).Str("rule", rule.Name).Int64("encounter_id", src.EncounterID).Msg("cascade rule failed")
		return o
	}
	o.Status = StatusCreated
	o.RecordID = rec.RecordID()
	o.Record = rec
	return o
}
