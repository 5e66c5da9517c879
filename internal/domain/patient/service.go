package patient

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/occhealth/occhealth/internal/platform/apperr"
	"github.com/occhealth/occhealth/internal/platform/hrdirectory"
)

// Service is the patient registry: local records first, the HR directory
// for identifications seen for the first time.
type Service struct {
	repo   Repository
	hr     hrdirectory.Directory
	logger zerolog.Logger
}

func NewService(repo Repository, hr hrdirectory.Directory, logger zerolog.Logger) *Service {
	if hr == nil {
		hr = hrdirectory.Disabled{}
	}
	return &Service{repo: repo, hr: hr, logger: logger.With().Str("component", "patient").Logger()}
}

// Resolve returns the patient for identification. An unknown
// identification is looked up in HR and created locally from the HR data;
// when HR does not know it either the result is apperr.ErrPatientNotFound.
func (s *Service) Resolve(ctx context.Context, identification string) (*Patient, error) {
	identification = strings.TrimSpace(identification)
	if identification == "" {
		return nil, apperr.Validation("identification", "is required")
	}

	p, err := s.repo.GetByIdentification(ctx, identification)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}

	person, err := s.hr.Lookup(ctx, identification)
	if err != nil {
		return nil, err
	}
	if person == nil {
		return nil, fmt.Errorf("identification %s: %w", identification, apperr.ErrPatientNotFound)
	}

	p = &Patient{Identification: identification}
	p.Merge(person)
	if err := s.repo.Create(ctx, p); err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			// another request created it between our read and write
			return s.repo.GetByIdentification(ctx, identification)
		}
		return nil, err
	}
	s.logger.Info().Str("identification", identification).Int64("patient_id", p.ID).Msg("patient created from hr directory")
	return p, nil
}

// ResolveByID returns a locally known patient; a missing id is
// apperr.ErrPatientNotFound.
func (s *Service) ResolveByID(ctx context.Context, id int64) (*Patient, error) {
	if id <= 0 {
		return nil, apperr.Validation("patient_id", "must be positive, got %d", id)
	}
	p, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, fmt.Errorf("patient %d: %w", id, apperr.ErrPatientNotFound)
	}
	return p, err
}

// Register creates a patient that HR does not manage.
func (s *Service) Register(ctx context.Context, p *Patient) error {
	p.Identification = strings.TrimSpace(p.Identification)
	if p.Identification == "" {
		return apperr.Validation("identification", "is required")
	}
	return s.repo.Create(ctx, p)
}

// LocalUpdate carries the fields edited in the clinic rather than in HR.
type LocalUpdate struct {
	DisabilityDescription *string `json:"disability_description"`
	VulnerableDescription *string `json:"vulnerable_description"`
	VulnerableReversible  *bool   `json:"vulnerable_reversible"`
	Email                 *string `json:"email"`
	Phone                 *string `json:"phone"`
	Address               *string `json:"address"`
}

func (s *Service) UpdateLocal(ctx context.Context, identification string, u LocalUpdate) (*Patient, error) {
	p, err := s.Resolve(ctx, identification)
	if err != nil {
		return nil, err
	}
	set := func(dst *string, v *string) {
		if v != nil {
			*dst = strings.TrimSpace(*v)
		}
	}
	set(&p.DisabilityDescription, u.DisabilityDescription)
	set(&p.VulnerableDescription, u.VulnerableDescription)
	set(&p.Email, u.Email)
	set(&p.Phone, u.Phone)
	set(&p.Address, u.Address)
	if u.VulnerableReversible != nil {
		p.VulnerableReversible = *u.VulnerableReversible
	}
	if err := s.repo.Update(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Refresh re-reads a known patient from HR and stores any changes. A
// patient HR no longer knows is returned unchanged.
func (s *Service) Refresh(ctx context.Context, identification string) (*Patient, error) {
	p, err := s.Resolve(ctx, identification)
	if err != nil {
		return nil, err
	}
	if inv, ok := s.hr.(interface {
		Invalidate(context.Context, string) error
	}); ok {
		if err := inv.Invalidate(ctx, p.Identification); err != nil {
			s.logger.Warn().Err(err).Str("identification", p.Identification).Msg("hr cache invalidation failed")
		}
	}
	person, err := s.hr.Lookup(ctx, p.Identification)
	if err != nil {
		return nil, err
	}
	if !p.Merge(person) {
		return p, nil
	}
	if err := s.repo.Update(ctx, p); err != nil {
		return nil, err
	}
	s.logger.Info().Str("identification", p.Identification).Msg("patient refreshed from hr directory")
	return p, nil
}

func (s *Service) List(ctx context.Context, filter ListFilter, limit, offset int) ([]*Patient, int, error) {
	return s.repo.List(ctx, filter, limit, offset)
}
