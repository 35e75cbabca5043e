package payment

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nevisai/server/internal/module/plan"
	"github.com/nevisai/server/internal/module/payment/provider"
)

// Metadata keys round-tripped through the checkout session. The completion
// webhook reads them back to know whose ledger to credit and by how much.
const (
	MetadataUserID  = "user_id"
	MetadataPlanID  = "plan_id"
	MetadataCredits = "credits"
)

// Service creates checkout sessions and keeps the webhook receipt log.
type Service struct {
	provider    provider.Provider
	planService plan.Service
	repo        Repository
	logger      *zap.Logger
}

// NewService creates the payment service.
func NewService(p provider.Provider, planService plan.Service, repo Repository, logger *zap.Logger) *Service {
	return &Service{
		provider:    p,
		planService: planService,
		repo:        repo,
		logger:      logger,
	}
}

// CreateCheckout starts a checkout session for the given plan. The credit
// grant travels in the session metadata, so reconciliation needs no catalog
// lookup when the completion event arrives.
func (s *Service) CreateCheckout(ctx context.Context, userID uuid.UUID, planID string) (*CreateCheckoutResponse, error) {
	p, err := s.planService.GetPurchasablePlan(ctx, planID)
	if err != nil {
		return nil, err
	}

	sess, err := s.provider.CreateCheckoutSession(ctx, &provider.CheckoutParams{
		PlanName:   p.Name,
		PriceCents: p.PriceCents,
		Currency:   p.Currency,
		Metadata: map[string]string{
			MetadataUserID:  userID.String(),
			MetadataPlanID:  p.ID,
			MetadataCredits: strconv.FormatInt(p.Credits, 10),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create checkout for plan %s: %w", planID, err)
	}

	s.logger.Info("checkout session created",
		zap.String("session_id", sess.ID),
		zap.String("user_id", userID.String()),
		zap.String("plan_id", planID))
	return &CreateCheckoutResponse{SessionID: sess.ID, CheckoutURL: sess.URL}, nil
}

// VerifyWebhookSignature verifies a webhook payload came from the processor.
func (s *Service) VerifyWebhookSignature(payload []byte, signature string) error {
	if err := s.provider.VerifyWebhookSignature(payload, signature); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return nil
}

// RecordWebhookEvent logs a delivery. ErrEventExists means this exact event
// id was already delivered and handled.
func (s *Service) RecordWebhookEvent(ctx context.Context, eventID, eventType, payload string) error {
	return s.repo.CreateWebhookEvent(ctx, &WebhookEvent{
		EventID:   eventID,
		EventType: eventType,
		Provider:  s.provider.Name(),
		Payload:   payload,
	})
}

// GetWebhookEvent returns the stored receipt for an event id.
func (s *Service) GetWebhookEvent(ctx context.Context, eventID string) (*WebhookEvent, error) {
	return s.repo.GetWebhookEvent(ctx, eventID)
}

// MarkWebhookEventProcessed records the dispatch outcome for an event.
func (s *Service) MarkWebhookEventProcessed(ctx context.Context, eventID string, processErr error) error {
	return s.repo.MarkWebhookEventProcessed(ctx, eventID, processErr)
}
