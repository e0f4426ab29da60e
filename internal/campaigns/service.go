package campaigns

import (
	"context"
	"errors"

	"leadflow_backend/platform/logger"

	"github.com/google/uuid"
)

// Store is the persistence surface used by Service.
type Store interface {
	Get(ctx context.Context, id uuid.UUID) (Campaign, error)
	ActiveSteps(ctx context.Context, campaignID uuid.UUID) ([]Step, error)
	FollowUpSteps(ctx context.Context) ([]Step, error)
	Template(ctx context.Context, id uuid.UUID) (Template, error)
	LatestActiveTemplate(ctx context.Context, userID uuid.UUID) (Template, error)
}

// Service resolves campaign configuration with defaults.
type Service struct {
	store Store
	log   *logger.Logger
}

// NewService creates a new campaigns service.
func NewService(store Store, log *logger.Logger) *Service {
	return &Service{store: store, log: log}
}

// Campaign returns the campaign or ErrCampaignNotFound.
func (s *Service) Campaign(ctx context.Context, id uuid.UUID) (Campaign, error) {
	return s.store.Get(ctx, id)
}

// Rules returns the effective rules for a campaign. A nil id, an unknown
// campaign or a lookup failure yields the defaults.
func (s *Service) Rules(ctx context.Context, id *uuid.UUID) Rules {
	if id == nil || *id == uuid.Nil {
		return DefaultRules()
	}
	c, err := s.store.Get(ctx, *id)
	if err != nil {
		if !errors.Is(err, ErrCampaignNotFound) {
			s.log.Warn("campaign rules lookup failed, using defaults", "campaignId", id.String(), "error", err)
		}
		return DefaultRules()
	}
	rules := c.Rules
	rules.SendEmail = c.EmailEnabled()
	return rules
}

// ActiveSteps returns the active steps of a campaign.
func (s *Service) ActiveSteps(ctx context.Context, campaignID uuid.UUID) ([]Step, error) {
	return s.store.ActiveSteps(ctx, campaignID)
}

// FollowUpSteps returns all active steps numbered 2 and above.
func (s *Service) FollowUpSteps(ctx context.Context) ([]Step, error) {
	return s.store.FollowUpSteps(ctx)
}

// Template loads a template by id.
func (s *Service) Template(ctx context.Context, id uuid.UUID) (Template, error) {
	return s.store.Template(ctx, id)
}

// LatestActiveTemplate returns the owner's newest active template.
func (s *Service) LatestActiveTemplate(ctx context.Context, userID uuid.UUID) (Template, error) {
	return s.store.LatestActiveTemplate(ctx, userID)
}
