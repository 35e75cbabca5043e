package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76"
	"go.uber.org/zap"

	"github.com/nevisai/server/internal/module/credits"
	"github.com/nevisai/server/internal/module/payment/provider"
	"github.com/nevisai/server/internal/shared/metrics"
)

const testWebhookSecret = "whsec_test_secret"

// stubCredits records ledger calls made by the webhook dispatch.
type stubCredits struct {
	processed     []*credits.ProcessPaymentRequest
	processErr    error
	failedPIs     []string
	refundedPIs   []string
	disputedPIs   []string
	transitionErr error
}

func (s *stubCredits) ProcessPayment(_ context.Context, req *credits.ProcessPaymentRequest) (*credits.PaymentResult, error) {
	if s.processErr != nil {
		return nil, s.processErr
	}
	s.processed = append(s.processed, req)
	return &credits.PaymentResult{CreditsAdded: req.CreditsToAdd, NewRemaining: req.CreditsToAdd}, nil
}

func (s *stubCredits) Consume(context.Context, *credits.ConsumeRequest) (*credits.ConsumeResult, error) {
	panic("not used by webhook dispatch")
}

func (s *stubCredits) CheckAccess(context.Context, uuid.UUID) (*credits.AccessStatus, error) {
	panic("not used by webhook dispatch")
}

func (s *stubCredits) MarkRefunded(_ context.Context, _, paymentIntentID string, _ int64, _ string) error {
	if s.transitionErr != nil {
		return s.transitionErr
	}
	s.refundedPIs = append(s.refundedPIs, paymentIntentID)
	return nil
}

func (s *stubCredits) MarkDisputed(_ context.Context, _, paymentIntentID, _ string) error {
	if s.transitionErr != nil {
		return s.transitionErr
	}
	s.disputedPIs = append(s.disputedPIs, paymentIntentID)
	return nil
}

func (s *stubCredits) MarkFailed(_ context.Context, _, paymentIntentID, _, _ string) error {
	if s.transitionErr != nil {
		return s.transitionErr
	}
	s.failedPIs = append(s.failedPIs, paymentIntentID)
	return nil
}

func (s *stubCredits) ListTransactions(context.Context, uuid.UUID, int) ([]*credits.Transaction, error) {
	return nil, nil
}

func (s *stubCredits) ListUsage(context.Context, uuid.UUID, int) ([]*credits.UsageEntry, error) {
	return nil, nil
}

// fakeEventRepo is an in-memory webhook receipt log.
type fakeEventRepo struct {
	events map[string]*WebhookEvent
}

func newFakeEventRepo() *fakeEventRepo {
	return &fakeEventRepo{events: make(map[string]*WebhookEvent)}
}

func (f *fakeEventRepo) CreateWebhookEvent(_ context.Context, event *WebhookEvent) error {
	if _, exists := f.events[event.EventID]; exists {
		return ErrEventExists
	}
	f.events[event.EventID] = event
	return nil
}

func (f *fakeEventRepo) GetWebhookEvent(_ context.Context, eventID string) (*WebhookEvent, error) {
	e, ok := f.events[eventID]
	if !ok {
		return nil, ErrEventNotFound
	}
	return e, nil
}

func (f *fakeEventRepo) MarkWebhookEventProcessed(_ context.Context, eventID string, processErr error) error {
	if e, ok := f.events[eventID]; ok {
		e.Processed = processErr == nil
	}
	return nil
}

func newWebhookTestRouter(t *testing.T, ledger credits.Service, repo Repository) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	p := provider.NewStripeProvider(&provider.StripeConfig{
		APIKey:        "sk_test_key",
		WebhookSecret: testWebhookSecret,
	})
	svc := NewService(p, nil, repo, zap.NewNop())
	handler := NewWebhookHandler(svc, ledger, metrics.New("test", prometheus.NewRegistry()), zap.NewNop())

	router := gin.New()
	handler.RegisterRoutes(router.Group("/webhooks"))
	return router
}

// signPayload builds a Stripe-Signature header the SDK's verifier accepts.
func signPayload(payload []byte) string {
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func postWebhook(router *gin.Engine, payload []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", signature)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// eventPayload wraps a data object in the event envelope the verifier
// accepts. The api_version must match the SDK's or ConstructEvent rejects
// the delivery.
func eventPayload(eventID, eventType, object string) []byte {
	return []byte(fmt.Sprintf(`{
		"id": %q,
		"api_version": %q,
		"type": %q,
		"data": {"object": %s}
	}`, eventID, stripe.APIVersion, eventType, object))
}

func checkoutCompletedPayload(eventID, sessionID string, userID uuid.UUID, paymentStatus string) []byte {
	object := fmt.Sprintf(`{
		"id": %q,
		"object": "checkout.session",
		"payment_status": %q,
		"amount_total": 999,
		"currency": "usd",
		"payment_intent": "pi_test_1",
		"metadata": {"user_id": %q, "plan_id": "starter", "credits": "50"}
	}`, sessionID, paymentStatus, userID)
	return eventPayload(eventID, "checkout.session.completed", object)
}

func TestHandleStripeWebhook_SignatureRequired(t *testing.T) {
	ledger := &stubCredits{}
	router := newWebhookTestRouter(t, ledger, newFakeEventRepo())
	payload := checkoutCompletedPayload("evt_1", "cs_1", uuid.New(), "paid")

	t.Run("missing signature", func(t *testing.T) {
		w := postWebhook(router, payload, "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("tampered payload", func(t *testing.T) {
		sig := signPayload(payload)
		tampered := bytes.Replace(payload, []byte(`"credits": "50"`), []byte(`"credits": "5000"`), 1)
		w := postWebhook(router, tampered, sig)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	assert.Empty(t, ledger.processed, "a rejected delivery must not touch the ledger")
}

func TestHandleStripeWebhook_CheckoutCompleted(t *testing.T) {
	ledger := &stubCredits{}
	router := newWebhookTestRouter(t, ledger, newFakeEventRepo())
	userID := uuid.New()
	payload := checkoutCompletedPayload("evt_2", "cs_2", userID, "paid")

	w := postWebhook(router, payload, signPayload(payload))
	assert.Equal(t, http.StatusOK, w.Code)

	require.Len(t, ledger.processed, 1)
	req := ledger.processed[0]
	assert.Equal(t, "cs_2", req.SessionID)
	assert.Equal(t, "pi_test_1", req.PaymentIntentID)
	assert.Equal(t, userID, req.UserID)
	assert.Equal(t, "starter", req.PlanID)
	assert.Equal(t, int64(50), req.CreditsToAdd)
	assert.Equal(t, int64(999), req.Amount)
}

func TestHandleStripeWebhook_UnpaidSessionIgnored(t *testing.T) {
	ledger := &stubCredits{}
	router := newWebhookTestRouter(t, ledger, newFakeEventRepo())
	payload := checkoutCompletedPayload("evt_3", "cs_3", uuid.New(), "unpaid")

	w := postWebhook(router, payload, signPayload(payload))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, ledger.processed)
}

func TestHandleStripeWebhook_DuplicateEventAcknowledged(t *testing.T) {
	ledger := &stubCredits{}
	router := newWebhookTestRouter(t, ledger, newFakeEventRepo())
	payload := checkoutCompletedPayload("evt_4", "cs_4", uuid.New(), "paid")

	first := postWebhook(router, payload, signPayload(payload))
	assert.Equal(t, http.StatusOK, first.Code)

	second := postWebhook(router, payload, signPayload(payload))
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Contains(t, second.Body.String(), "already_processed")
	assert.Len(t, ledger.processed, 1, "the duplicate delivery must not dispatch again")
}

func TestHandleStripeWebhook_ProcessingErrorAsksForRetry(t *testing.T) {
	ledger := &stubCredits{processErr: credits.ErrLockTimeout}
	router := newWebhookTestRouter(t, ledger, newFakeEventRepo())
	payload := checkoutCompletedPayload("evt_5", "cs_5", uuid.New(), "paid")

	w := postWebhook(router, payload, signPayload(payload))
	assert.Equal(t, http.StatusInternalServerError, w.Code, "a transient failure must trigger a processor retry")
}

func TestHandleStripeWebhook_RetryAfterFailureReconciles(t *testing.T) {
	ledger := &stubCredits{processErr: credits.ErrLockTimeout}
	repo := newFakeEventRepo()
	router := newWebhookTestRouter(t, ledger, repo)
	payload := checkoutCompletedPayload("evt_retry", "cs_retry", uuid.New(), "paid")

	first := postWebhook(router, payload, signPayload(payload))
	require.Equal(t, http.StatusInternalServerError, first.Code)
	require.Empty(t, ledger.processed)

	// The redelivery the 5xx asked for must re-dispatch even though the
	// event id is already in the receipt log.
	ledger.processErr = nil
	second := postWebhook(router, payload, signPayload(payload))
	assert.Equal(t, http.StatusOK, second.Code)
	assert.NotContains(t, second.Body.String(), "already_processed")
	require.Len(t, ledger.processed, 1, "the retried delivery must reach the ledger")
	assert.Equal(t, "cs_retry", ledger.processed[0].SessionID)

	// Once processing has succeeded, further redeliveries are duplicates.
	third := postWebhook(router, payload, signPayload(payload))
	assert.Equal(t, http.StatusOK, third.Code)
	assert.Contains(t, third.Body.String(), "already_processed")
	assert.Len(t, ledger.processed, 1)
}

func TestHandleStripeWebhook_UnknownEventTypeAcknowledged(t *testing.T) {
	ledger := &stubCredits{}
	router := newWebhookTestRouter(t, ledger, newFakeEventRepo())
	payload := eventPayload("evt_6", "customer.created", `{"id": "cus_1"}`)

	w := postWebhook(router, payload, signPayload(payload))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, ledger.processed)
}

func TestHandleStripeWebhook_PaymentFailed(t *testing.T) {
	ledger := &stubCredits{}
	router := newWebhookTestRouter(t, ledger, newFakeEventRepo())
	payload := eventPayload("evt_7", "payment_intent.payment_failed",
		`{"id": "pi_fail_1", "object": "payment_intent", "last_payment_error": {"code": "card_declined", "message": "declined"}}`)

	w := postWebhook(router, payload, signPayload(payload))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"pi_fail_1"}, ledger.failedPIs)
}

func TestHandleStripeWebhook_ChargeRefunded(t *testing.T) {
	ledger := &stubCredits{}
	router := newWebhookTestRouter(t, ledger, newFakeEventRepo())
	payload := eventPayload("evt_8", "charge.refunded",
		`{"id": "ch_1", "object": "charge", "payment_intent": "pi_ref_1", "amount_refunded": 999}`)

	w := postWebhook(router, payload, signPayload(payload))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"pi_ref_1"}, ledger.refundedPIs)
}

func TestHandleStripeWebhook_DisputeCreated(t *testing.T) {
	ledger := &stubCredits{}
	router := newWebhookTestRouter(t, ledger, newFakeEventRepo())
	payload := eventPayload("evt_9", "charge.dispute.created",
		`{"id": "dp_1", "object": "dispute", "payment_intent": "pi_disp_1", "reason": "fraudulent"}`)

	w := postWebhook(router, payload, signPayload(payload))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"pi_disp_1"}, ledger.disputedPIs)
}

func TestHandleStripeWebhook_UnknownTransactionTransitionAcknowledged(t *testing.T) {
	ledger := &stubCredits{transitionErr: credits.ErrTransactionNotFound}
	router := newWebhookTestRouter(t, ledger, newFakeEventRepo())
	payload := eventPayload("evt_10", "charge.refunded",
		`{"id": "ch_2", "object": "charge", "payment_intent": "pi_unknown", "amount_refunded": 500}`)

	w := postWebhook(router, payload, signPayload(payload))
	assert.Equal(t, http.StatusOK, w.Code, "a transition for an unknown transaction is logged and acknowledged")
}
