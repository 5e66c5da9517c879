package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/occhealth/occhealth/internal/platform/apperr"
)

type Service struct {
	repo   Repository
	logger zerolog.Logger
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, logger: logger.With().Str("component", "catalog").Logger()}
}

// Resolve looks up an active code. Absent and inactive codes fail with
// apperr.ErrUnknownCode, which callers treat as non-fatal.
func (s *Service) Resolve(ctx context.Context, code string) (*Resolution, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, fmt.Errorf("empty code: %w", apperr.ErrUnknownCode)
	}
	e, err := s.repo.GetByCode(ctx, code)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, fmt.Errorf("code %s: %w", code, apperr.ErrUnknownCode)
	}
	if err != nil {
		return nil, err
	}
	if !e.Active {
		return nil, fmt.Errorf("code %s is inactive: %w", code, apperr.ErrUnknownCode)
	}
	return e.Resolve(), nil
}

func (s *Service) CreateEntry(ctx context.Context, e *Entry) error {
	e.Code = strings.TrimSpace(e.Code)
	if e.Code == "" {
		return apperr.Validation("code", "is required")
	}
	cat, err := ParseCategory(string(e.Category))
	if err != nil {
		return err
	}
	e.Category = cat
	return s.repo.Create(ctx, e)
}

func (s *Service) GetEntry(ctx context.Context, code string) (*Entry, error) {
	return s.repo.GetByCode(ctx, strings.TrimSpace(code))
}

// EntryUpdate carries the editable catalog fields. The code itself is the
// key encounters snapshot and never changes.
type EntryUpdate struct {
	Description *string `json:"description"`
	Category    *string `json:"category"`
	Active      *bool   `json:"active"`
}

func (s *Service) UpdateEntry(ctx context.Context, code string, u EntryUpdate) (*Entry, error) {
	e, err := s.repo.GetByCode(ctx, strings.TrimSpace(code))
	if err != nil {
		return nil, err
	}
	if u.Description != nil {
		e.Description = *u.Description
	}
	if u.Category != nil {
		cat, err := ParseCategory(*u.Category)
		if err != nil {
			return nil, err
		}
		e.Category = cat
	}
	if u.Active != nil {
		e.Active = *u.Active
	}
	if err := s.repo.Update(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

func (s *Service) ListEntries(ctx context.Context, activeOnly bool, limit, offset int) ([]*Entry, int, error) {
	return s.repo.List(ctx, activeOnly, limit, offset)
}

// Seed bulk-loads entries into an empty catalog and returns how many were
// created. A catalog that already holds codes is left alone.
func (s *Service) Seed(ctx context.Context, entries []SeedEntry) (int, error) {
	empty, err := s.repo.IsEmpty(ctx)
	if err != nil {
		return 0, err
	}
	if !empty {
		s.logger.Info().Msg("catalog already populated, skipping seed")
		return 0, nil
	}

	created := 0
	for i, se := range entries {
		e := se.Entry()
		if err := s.CreateEntry(ctx, e); err != nil {
			if errors.Is(err, apperr.ErrConflict) {
				s.logger.Warn().Str("code", e.Code).Msg("duplicate code in seed, skipped")
				continue
			}
			return created, fmt.Errorf("seed entry %d (%s): %w", i, se.Code, err)
		}
		created++
	}
	s.logger.Info().Int("created", created).Msg("catalog seeded")
	return created, nil
}

// ImportResult reports a bulk import.
type ImportResult struct {
	Created int      `json:"created"`
	Skipped []string `json:"skipped"`
}

// Import creates every entry whose code is not in the catalog yet. Existing
// codes are reported as skipped and left unchanged.
func (s *Service) Import(ctx context.Context, entries []SeedEntry) (*ImportResult, error) {
	res := &ImportResult{Skipped: []string{}}
	for i, se := range entries {
		e := se.Entry()
		if err := s.CreateEntry(ctx, e); err != nil {
			if errors.Is(err, apperr.ErrConflict) {
				res.Skipped = append(res.Skipped, e.Code)
				continue
			}
			return res, fmt.Errorf("import entry %d (%s): %w", i, se.Code, err)
		}
		res.Created++
	}
	s.logger.Info().Int("created", res.Created).Int("skipped", len(res.Skipped)).Msg("catalog import")
	return res, nil
}
