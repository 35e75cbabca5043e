package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v76"
	"go.uber.org/zap"

	"github.com/nevisai/server/internal/module/credits"
	"github.com/nevisai/server/internal/shared/metrics"
)

// WebhookHandler receives payment processor notifications and routes them
// into the ledger. The response code is a contract with the processor:
// 2xx acknowledges (including duplicates), 4xx rejects a delivery that can
// never succeed (bad signature), and 5xx asks for a retry, which is safe
// because reconciliation is idempotent.
type WebhookHandler struct {
	paymentService *Service
	creditsService credits.Service
	metrics        *metrics.Metrics
	logger         *zap.Logger
}

// NewWebhookHandler creates a new webhook handler.
func NewWebhookHandler(
	paymentService *Service,
	creditsService credits.Service,
	m *metrics.Metrics,
	logger *zap.Logger,
) *WebhookHandler {
	return &WebhookHandler{
		paymentService: paymentService,
		creditsService: creditsService,
		metrics:        m,
		logger:         logger,
	}
}

// RegisterRoutes registers the webhook routes.
func (h *WebhookHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/stripe", h.HandleStripeWebhook)
}

// HandleStripeWebhook handles incoming Stripe webhook events.
func (h *WebhookHandler) HandleStripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.logger.Error("failed to read webhook body", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}

	// Signature comes first: nothing is parsed, logged to the event table
	// or written to the ledger before the payload is authenticated.
	signature := c.GetHeader("Stripe-Signature")
	if err := h.paymentService.VerifyWebhookSignature(payload, signature); err != nil {
		h.logger.Warn("invalid webhook signature", zap.Error(err))
		h.metrics.RecordWebhookEvent("unknown", "rejected_signature")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature"})
		return
	}

	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		h.logger.Error("failed to parse webhook event", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event"})
		return
	}

	ctx := c.Request.Context()
	eventType := string(event.Type)

	// Whole-delivery dedupe. Only an event whose dispatch already succeeded
	// short-circuits here: a redelivery after a 5xx must re-dispatch, or the
	// retry the 5xx asked for would be acknowledged without reconciling.
	// The ledger's session-level idempotency makes the re-dispatch safe.
	err = h.paymentService.RecordWebhookEvent(ctx, event.ID, eventType, string(payload))
	if errors.Is(err, ErrEventExists) {
		stored, getErr := h.paymentService.GetWebhookEvent(ctx, event.ID)
		if getErr == nil && stored.Processed {
			h.logger.Info("webhook event already processed", zap.String("event_id", event.ID))
			h.metrics.RecordWebhookEvent(eventType, "duplicate")
			c.JSON(http.StatusOK, gin.H{"status": "already_processed"})
			return
		}
		h.logger.Info("retrying webhook event that previously failed",
			zap.String("event_id", event.ID))
	} else if err != nil {
		h.logger.Error("failed to record webhook event", zap.Error(err))
		// Continue: processing twice is safe, missing an event is not.
	}

	processErr := h.dispatch(ctx, &event)

	if err := h.paymentService.MarkWebhookEventProcessed(ctx, event.ID, processErr); err != nil {
		h.logger.Error("failed to mark event processed", zap.Error(err))
	}

	if processErr != nil {
		h.logger.Error("failed to process webhook event",
			zap.String("event_id", event.ID),
			zap.String("type", eventType),
			zap.Error(processErr),
		)
		h.metrics.RecordWebhookEvent(eventType, "error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "processing failed"})
		return
	}

	h.metrics.RecordWebhookEvent(eventType, "processed")
	c.JSON(http.StatusOK, gin.H{"status": "processed"})
}

func (h *WebhookHandler) dispatch(ctx context.Context, event *stripe.Event) error {
	switch event.Type {
	case "checkout.session.completed":
		return h.handleCheckoutCompleted(ctx, event)
	case "payment_intent.succeeded":
		// The checkout.session.completed event already reconciles the
		// grant; this one is informational.
		return h.handlePaymentIntentSucceeded(ctx, event)
	case "payment_intent.payment_failed":
		return h.handlePaymentIntentFailed(ctx, event)
	case "charge.refunded":
		return h.handleChargeRefunded(ctx, event)
	case "charge.dispute.created":
		return h.handleDisputeCreated(ctx, event)
	default:
		h.logger.Debug("unhandled webhook event type", zap.String("type", string(event.Type)))
		return nil
	}
}

func (h *WebhookHandler) handleCheckoutCompleted(ctx context.Context, event *stripe.Event) error {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return fmt.Errorf("unmarshal checkout session: %w", err)
	}

	if sess.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		h.logger.Info("checkout completed but not yet paid",
			zap.String("session_id", sess.ID),
			zap.String("payment_status", string(sess.PaymentStatus)))
		return nil
	}

	userID, err := uuid.Parse(sess.Metadata[MetadataUserID])
	if err != nil {
		return fmt.Errorf("session %s has invalid %s metadata: %w", sess.ID, MetadataUserID, err)
	}
	creditsToAdd, err := strconv.ParseInt(sess.Metadata[MetadataCredits], 10, 64)
	if err != nil {
		return fmt.Errorf("session %s has invalid %s metadata: %w", sess.ID, MetadataCredits, err)
	}

	var paymentIntentID string
	if sess.PaymentIntent != nil {
		paymentIntentID = sess.PaymentIntent.ID
	}

	result, err := h.creditsService.ProcessPayment(ctx, &credits.ProcessPaymentRequest{
		SessionID:       sess.ID,
		PaymentIntentID: paymentIntentID,
		UserID:          userID,
		PlanID:          sess.Metadata[MetadataPlanID],
		Amount:          sess.AmountTotal,
		Currency:        string(sess.Currency),
		CreditsToAdd:    creditsToAdd,
		PaymentMethod:   "card",
		Source:          "stripe",
	})
	if err != nil {
		return err
	}
	if result.WasDuplicate {
		h.logger.Info("checkout session already reconciled", zap.String("session_id", sess.ID))
	}
	return nil
}

func (h *WebhookHandler) handlePaymentIntentSucceeded(_ context.Context, event *stripe.Event) error {
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return fmt.Errorf("unmarshal payment intent: %w", err)
	}
	h.logger.Info("payment intent succeeded",
		zap.String("payment_intent_id", pi.ID),
		zap.Int64("amount", pi.Amount),
	)
	return nil
}

func (h *WebhookHandler) handlePaymentIntentFailed(ctx context.Context, event *stripe.Event) error {
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return fmt.Errorf("unmarshal payment intent: %w", err)
	}

	var failureCode, failureMessage string
	if pi.LastPaymentError != nil {
		failureCode = string(pi.LastPaymentError.Code)
		failureMessage = pi.LastPaymentError.Msg
	}
	h.logger.Warn("payment intent failed",
		zap.String("payment_intent_id", pi.ID),
		zap.String("failure_code", failureCode),
	)

	err := h.creditsService.MarkFailed(ctx, "", pi.ID, failureCode, failureMessage)
	if errors.Is(err, credits.ErrTransactionNotFound) {
		// A failure for a session we never recorded: nothing to update.
		h.logger.Info("failure event for unknown transaction", zap.String("payment_intent_id", pi.ID))
		return nil
	}
	return err
}

func (h *WebhookHandler) handleChargeRefunded(ctx context.Context, event *stripe.Event) error {
	var charge stripe.Charge
	if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
		return fmt.Errorf("unmarshal charge: %w", err)
	}

	var paymentIntentID string
	if charge.PaymentIntent != nil {
		paymentIntentID = charge.PaymentIntent.ID
	}

	err := h.creditsService.MarkRefunded(ctx, "", paymentIntentID, charge.AmountRefunded, "")
	if errors.Is(err, credits.ErrTransactionNotFound) {
		h.logger.Info("refund event for unknown transaction", zap.String("payment_intent_id", paymentIntentID))
		return nil
	}
	return err
}

func (h *WebhookHandler) handleDisputeCreated(ctx context.Context, event *stripe.Event) error {
	var dispute stripe.Dispute
	if err := json.Unmarshal(event.Data.Raw, &dispute); err != nil {
		return fmt.Errorf("unmarshal dispute: %w", err)
	}

	var paymentIntentID string
	if dispute.PaymentIntent != nil {
		paymentIntentID = dispute.PaymentIntent.ID
	}

	err := h.creditsService.MarkDisputed(ctx, "", paymentIntentID, dispute.ID)
	if errors.Is(err, credits.ErrTransactionNotFound) {
		h.logger.Info("dispute event for unknown transaction", zap.String("payment_intent_id", paymentIntentID))
		return nil
	}
	return err
}
