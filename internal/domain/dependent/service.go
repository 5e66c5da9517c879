package dependent

import "context"

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) ListIncidents(ctx context.Context, f Filter, limit, offset int) ([]*Incident, int, error) {
	return s.repo.ListIncidents(ctx, f, limit, offset)
}

func (s *Service) ListGloveUses(ctx context.Context, f Filter, limit, offset int) ([]*GloveUse, int, error) {
	return s.repo.ListGloveUses(ctx, f, limit, offset)
}

func (s *Service) ListDiets(ctx context.Context, f Filter, limit, offset int) ([]*Diet, int, error) {
	return s.repo.ListDiets(ctx, f, limit, offset)
}

// DietsActiveOn returns the diets matching f whose range covers date.
func (s *Service) DietsActiveOn(ctx context.Context, f Filter, date string) ([]*Diet, error) {
	if err := checkDate("active_on", date); err != nil {
		return nil, err
	}
	diets, _, err := s.repo.ListDiets(ctx, f, 0, 0)
	if err != nil {
		return nil, err
	}
	active := []*Diet{}
	for _, d := range diets {
		if d.ActiveOn(date) {
			active = append(active, d)
		}
	}
	return active, nil
}
