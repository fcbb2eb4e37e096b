package locations

import (
	"context"

	"github.com/meridian-scm/meridian-scm/internal/masterdata/shared"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) List(ctx context.Context, filters shared.ListFilters) ([]Location, int, error) {
	return s.repo.List(ctx, filters)
}

func (s *Service) Get(ctx context.Context, id int64) (Location, error) {
	if id <= 0 {
		return Location{}, shared.ErrInvalidID
	}
	return s.repo.Get(ctx, id)
}

func (s *Service) GetByCode(ctx context.Context, code string) (Location, error) {
	return s.repo.GetByCode(ctx, code)
}

// Kind resolves a location's tier, used by the workflows to enforce
// outlet/center routing rules.
func (s *Service) Kind(ctx context.Context, id int64) (string, error) {
	location, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return location.Kind, nil
}

// Code resolves a location's short code, used in generated document numbers.
func (s *Service) Code(ctx context.Context, id int64) (string, error) {
	location, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return location.Code, nil
}

func (s *Service) Create(ctx context.Context, location Location) (Location, error) {
	if err := s.validate(location); err != nil {
		return Location{}, err
	}
	return s.repo.Create(ctx, location)
}

func (s *Service) Update(ctx context.Context, id int64, location Location) error {
	if id <= 0 {
		return shared.ErrInvalidID
	}
	if err := s.validate(location); err != nil {
		return err
	}
	return s.repo.Update(ctx, id, location)
}

func (s *Service) Delete(ctx context.Context, id int64) error {
	if id <= 0 {
		return shared.ErrInvalidID
	}
	return s.repo.Delete(ctx, id)
}
