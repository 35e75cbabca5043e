package plan

import (
	"context"
	"fmt"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// Service exposes the plan catalog.
type Service interface {
	// GetPurchasablePlan returns the plan if it exists and is active.
	GetPurchasablePlan(ctx context.Context, id string) (*Plan, error)
	ListActive(ctx context.Context) ([]*Plan, error)
	SeedDefaults(ctx context.Context) error
}

type service struct {
	repo   Repository
	logger *zap.Logger
}

// NewService creates the plan service.
func NewService(repo Repository, logger *zap.Logger) Service {
	return &service{repo: repo, logger: logger}
}

func (s *service) GetPurchasablePlan(ctx context.Context, id string) (*Plan, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.Active {
		return nil, fmt.Errorf("%w: %s", ErrPlanInactive, id)
	}
	return p, nil
}

func (s *service) ListActive(ctx context.Context) ([]*Plan, error) {
	return s.repo.ListActive(ctx)
}

// SeedDefaults installs the default catalog on first boot.
func (s *service) SeedDefaults(ctx context.Context) error {
	defaults := []*Plan{
		{
			ID:           "starter",
			Name:         "Starter",
			Description:  "Try out image and text generation",
			Credits:      50,
			PriceCents:   999,
			Currency:     "usd",
			Features:     pq.StringArray{"image_generation", "text_generation"},
			Active:       true,
			DisplayOrder: 1,
		},
		{
			ID:           "creator",
			Name:         "Creator",
			Description:  "For regular content creators",
			Credits:      200,
			PriceCents:   2999,
			Currency:     "usd",
			Features:     pq.StringArray{"image_generation", "text_generation", "priority_queue"},
			Active:       true,
			DisplayOrder: 2,
		},
		{
			ID:           "studio",
			Name:         "Studio",
			Description:  "High volume generation for teams",
			Credits:      1000,
			PriceCents:   9999,
			Currency:     "usd",
			Features:     pq.StringArray{"image_generation", "text_generation", "priority_queue", "api_access"},
			Active:       true,
			DisplayOrder: 3,
		},
	}
	if err := s.repo.Seed(ctx, defaults); err != nil {
		return err
	}
	s.logger.Debug("plan catalog seeded", zap.Int("plans", len(defaults)))
	return nil
}
