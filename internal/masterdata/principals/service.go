package principals

import (
	"context"
	"errors"

	"github.com/medimart-erp/medimart-erp/internal/masterdata/shared"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) List(ctx context.Context, filters shared.ListFilters) ([]Principal, int, error) {
	return s.repo.List(ctx, filters)
}

func (s *Service) Get(ctx context.Context, id int64) (Principal, error) {
	if id <= 0 {
		return Principal{}, errors.New("invalid principal ID")
	}
	return s.repo.Get(ctx, id)
}

// FindByID satisfies the purchase order service's principal lookup port.
func (s *Service) FindByID(ctx context.Context, id int64) (Principal, error) {
	return s.Get(ctx, id)
}

func (s *Service) Create(ctx context.Context, principal Principal) (Principal, error) {
	if err := s.validate(principal); err != nil {
		return Principal{}, err
	}
	return s.repo.Create(ctx, principal)
}

func (s *Service) Update(ctx context.Context, id int64, principal Principal) error {
	if id <= 0 {
		return errors.New("invalid principal ID")
	}
	if err := s.validate(principal); err != nil {
		return err
	}
	return s.repo.Update(ctx, id, principal)
}

func (s *Service) Delete(ctx context.Context, id int64) error {
	if id <= 0 {
		return errors.New("invalid principal ID")
	}
	return s.repo.Delete(ctx, id)
}
