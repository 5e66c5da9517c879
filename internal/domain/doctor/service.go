package doctor

import (
	"context"
	"strings"

	"github.com/occhealth/occhealth/internal/platform/apperr"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) CreateDoctor(ctx context.Context, d *Doctor) error {
	d.Name = strings.TrimSpace(d.Name)
	if d.Name == "" {
		return apperr.Validation("name", "is required")
	}
	return s.repo.Create(ctx, d)
}

func (s *Service) GetDoctor(ctx context.Context, id int64) (*Doctor, error) {
	return s.repo.GetByID(ctx, id)
}

// DoctorUpdate carries the editable fields; nil leaves a field unchanged.
type DoctorUpdate struct {
	Name          *string `json:"name"`
	Specialty     *string `json:"specialty"`
	LicenseNumber *string `json:"license_number"`
	Active        *bool   `json:"active"`
}

func (s *Service) UpdateDoctor(ctx context.Context, id int64, u DoctorUpdate) (*Doctor, error) {
	d, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.Name != nil {
		if strings.TrimSpace(*u.Name) == "" {
			return nil, apperr.Validation("name", "must not be empty")
		}
		d.Name = strings.TrimSpace(*u.Name)
	}
	if u.Specialty != nil {
		d.Specialty = *u.Specialty
	}
	if u.LicenseNumber != nil {
		d.LicenseNumber = *u.LicenseNumber
	}
	if u.Active != nil {
		d.Active = *u.Active
	}
	if err := s.repo.Update(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

func (s *Service) ListDoctors(ctx context.Context, activeOnly bool, limit, offset int) ([]*Doctor, int, error) {
	return s.repo.List(ctx, activeOnly, limit, offset)
}
