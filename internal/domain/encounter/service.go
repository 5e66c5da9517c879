package encounter

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/occhealth/occhealth/internal/domain/cascade"
	"github.com/occhealth/occhealth/internal/domain/catalog"
	"github.com/occhealth/occhealth/internal/domain/patient"
	"github.com/occhealth/occhealth/internal/platform/apperr"
	"github.com/occhealth/occhealth/internal/platform/storage"
)

// PatientResolver is the part of the patient registry the recorder needs.
type PatientResolver interface {
	Resolve(ctx context.Context, identification string) (*patient.Patient, error)
	ResolveByID(ctx context.Context, id int64) (*patient.Patient, error)
}

// CodeResolver resolves diagnosis codes; catalog.Service satisfies it.
type CodeResolver interface {
	Resolve(ctx context.Context, code string) (*catalog.Resolution, error)
}

// Service is the encounter recorder.
type Service struct {
	repo       Repository
	patients   PatientResolver
	codes      CodeResolver
	dispatcher *cascade.Dispatcher
	onRecord   func(*Encounter)
	logger     zerolog.Logger
}

type Option func(*Service)

// WithDispatcher enables the cascade for Submit.
func WithDispatcher(d *cascade.Dispatcher) Option {
	return func(s *Service) { s.dispatcher = d }
}

// WithRecordHook is called after every persisted encounter.
func WithRecordHook(fn func(*Encounter)) Option {
	return func(s *Service) { s.onRecord = fn }
}

func NewService(repo Repository, patients PatientResolver, codes CodeResolver, logger zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		patients: patients,
		codes:    codes,
		logger:   logger.With().Str("component", "encounter").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Result is a recorded encounter plus what the cascade did with it.
type Result struct {
	Encounter *Encounter        `json:"encounter"`
	Cascade   []cascade.Outcome `json:"cascade"`
}

// Submit records the encounter and then runs the cascade against it. A
// cascade failure is reported in the result and never fails the call.
func (s *Service) Submit(ctx context.Context, sub Submission) (*Result, error) {
	enc, p, err := s.record(ctx, &sub)
	if err != nil {
		return nil, err
	}
	res := &Result{Encounter: enc, Cascade: []cascade.Outcome{}}
	if s.dispatcher != nil && sub.Flags.Any() {
		res.Cascade = s.dispatcher.Dispatch(ctx, cascade.Source{
			EncounterID: enc.ID,
			PatientID:   enc.PatientID,
			Date:        enc.Date,
			DaysOfRest:  enc.DaysOfRest,
			Patient:     p.Snapshot(),
		}, sub.Request)
	}
	return res, nil
}

// Record validates, enriches, counts and persists one encounter. Nothing
// is written unless every step before the final create succeeds.
func (s *Service) Record(ctx context.Context, sub Submission) (*Encounter, error) {
	enc, _, err := s.record(ctx, &sub)
	return enc, err
}

func (s *Service) record(ctx context.Context, sub *Submission) (*Encounter, *patient.Patient, error) {
	if err := sub.Validate(); err != nil {
		return nil, nil, err
	}

	p, err := s.resolvePatient(ctx, sub)
	if err != nil {
		return nil, nil, err
	}

	enc := &Encounter{
		PatientID:            p.ID,
		DoctorID:             sub.DoctorID,
		Date:                 sub.Date,
		Time:                 sub.Time,
		ConsultationType:     sub.ConsultationType,
		Code:                 sub.Code,
		CodeDescription:      sub.CodeDescription,
		Causes:               sub.Causes,
		SecondaryCode:        sub.SecondaryCode,
		SecondaryDescription: sub.SecondaryDescription,
		Diagnosis:            sub.Diagnosis,
		Prescription:         sub.Prescription,
		DaysOfRest:           sub.DaysOfRest,
	}
	if err := s.applyCodes(ctx, enc); err != nil {
		return nil, nil, err
	}

	counters, err := s.Counters(ctx, enc.PatientID, enc.Code, enc.Date)
	if err != nil {
		return nil, nil, err
	}
	enc.setCounters(counters)

	if err := s.repo.Create(ctx, enc); err != nil {
		return nil, nil, err
	}
	s.logger.Info().
		Int64("encounter_id", enc.ID).
		Int64("patient_id", enc.PatientID).
		Str("date", enc.Date).
		Str("code", enc.Code).
		Int("monthly_count_for_code", enc.MonthlyCountForCode).
		Int("monthly_count_total", enc.MonthlyCountTotal).
		Int("annual_count_total", enc.AnnualCountTotal).
		Msg("encounter recorded")
	if s.onRecord != nil {
		s.onRecord(enc)
	}
	return enc, p, nil
}

func (s *Service) resolvePatient(ctx context.Context, sub *Submission) (*patient.Patient, error) {
	if sub.PatientID == 0 {
		return s.patients.Resolve(ctx, sub.Identification)
	}
	p, err := s.patients.ResolveByID(ctx, sub.PatientID)
	if err != nil {
		return nil, err
	}
	if sub.Identification != "" && sub.Identification != p.Identification {
		return nil, apperr.Validation("identification", "%s does not belong to patient %d", sub.Identification, sub.PatientID)
	}
	return p, nil
}

// applyCodes snapshots catalog data for the primary and secondary codes.
// Unknown codes keep the caller's text.
func (s *Service) applyCodes(ctx context.Context, enc *Encounter) error {
	if enc.Code != "" {
		res, err := s.codes.Resolve(ctx, enc.Code)
		switch {
		case err == nil:
			enc.CodeDescription = res.Description
			enc.Causes = res.Causes
		case errors.Is(err, apperr.ErrUnknownCode):
			s.logger.Warn().Str("code", enc.Code).Msg("unknown diagnosis code, keeping submitted text")
		default:
			return err
		}
	} else {
		enc.CodeDescription = ""
		enc.Causes = ""
	}

	if enc.SecondaryCode != "" {
		res, err := s.codes.Resolve(ctx, enc.SecondaryCode)
		switch {
		case err == nil:
			enc.SecondaryDescription = res.Description
		case errors.Is(err, apperr.ErrUnknownCode):
			s.logger.Warn().Str("code", enc.SecondaryCode).Msg("unknown secondary code, keeping submitted text")
		default:
			return err
		}
	}
	return nil
}

// Counters computes the statistics the next encounter of patientID dated
// date with code would receive. Month and year come from date, not from
// the wall clock.
func (s *Service) Counters(ctx context.Context, patientID int64, code, date string) (Counters, error) {
	month, err := storage.MonthRange(date)
	if err != nil {
		return Counters{}, err
	}
	year, err := storage.YearRange(date)
	if err != nil {
		return Counters{}, err
	}

	forCode, err := s.repo.CountEncounters(ctx, patientID, &code, month)
	if err != nil {
		return Counters{}, err
	}
	monthTotal, err := s.repo.CountEncounters(ctx, patientID, nil, month)
	if err != nil {
		return Counters{}, err
	}
	yearTotal, err := s.repo.CountEncounters(ctx, patientID, nil, year)
	if err != nil {
		return Counters{}, err
	}
	return Counters{
		MonthlyForCode: forCode + 1,
		MonthlyTotal:   monthTotal + 1,
		AnnualTotal:    yearTotal + 1,
	}, nil
}

func (s *Service) GetEncounter(ctx context.Context, id int64) (*Encounter, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListEncounters(ctx context.Context, f ListFilter, limit, offset int) ([]*Encounter, int, error) {
	return s.repo.List(ctx, f, limit, offset)
}

// Mismatch is one stored counter that differs from its recomputed value.
type Mismatch struct {
	EncounterID int64  `json:"encounter_id"`
	Date        string `json:"date"`
	Counter     string `json:"counter"`
	Stored      int    `json:"stored"`
	Expected    int    `json:"expected"`
}

type RecountReport struct {
	PatientID  int64      `json:"patient_id"`
	Encounters int        `json:"encounters"`
	Mismatches []Mismatch `json:"mismatches"`
}

func (r *RecountReport) Consistent() bool { return len(r.Mismatches) == 0 }

// Recount re-derives every counter of patientID from the encounter history
// in insertion order and reports the ones that differ. It never writes.
func (s *Service) Recount(ctx context.Context, patientID int64) (*RecountReport, error) {
	history, err := s.repo.History(ctx, patientID)
	if err != nil {
		return nil, err
	}
	report := &RecountReport{PatientID: patientID, Encounters: len(history), Mismatches: []Mismatch{}}
	for i, enc := range history {
		want, err := countersFromHistory(history[:i], enc)
		if err != nil {
			return nil, fmt.Errorf("recount encounter %d: %w", enc.ID, err)
		}
		got := enc.Counters()
		check := func(name string, stored, expected int) {
			if stored != expected {
				report.Mismatches = append(report.Mismatches, Mismatch{
					EncounterID: enc.ID, Date: enc.Date, Counter: name, Stored: stored, Expected: expected,
				})
			}
		}
		check("monthly_count_for_code", got.MonthlyForCode, want.MonthlyForCode)
		check("monthly_count_total", got.MonthlyTotal, want.MonthlyTotal)
		check("annual_count_total", got.AnnualTotal, want.AnnualTotal)
	}
	if !report.Consistent() {
		s.logger.Warn().Int64("patient_id", patientID).Int("mismatches", len(report.Mismatches)).Msg("encounter counters drifted")
	}
	return report, nil
}

// countersFromHistory applies the recording rule to the encounters that
// existed when enc was created.
func countersFromHistory(prior []*Encounter, enc *Encounter) (Counters, error) {
	month, err := storage.MonthRange(enc.Date)
	if err != nil {
		return Counters{}, err
	}
	year, err := storage.YearRange(enc.Date)
	if err != nil {
		return Counters{}, err
	}
	c := Counters{MonthlyForCode: 1, MonthlyTotal: 1, AnnualTotal: 1}
	for _, p := range prior {
		if month.Contains(p.Date) {
			c.MonthlyTotal++
			if p.Code == enc.Code {
				c.MonthlyForCode++
			}
		}
		if year.Contains(p.Date) {
			c.AnnualTotal++
		}
	}
	return c, nil
}
