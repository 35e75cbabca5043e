// Package provider wraps the payment processor SDK behind a small interface
// so the rest of the payment module never touches Stripe types directly.
package provider

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v76"
	checkoutsession "github.com/stripe/stripe-go/v76/checkout/session"
	"github.com/stripe/stripe-go/v76/refund"
	"github.com/stripe/stripe-go/v76/webhook"
)

// CheckoutParams describes one checkout session to create.
type CheckoutParams struct {
	PlanName   string
	PriceCents int64
	Currency   string
	// Metadata is round-tripped through the processor and comes back on
	// the completion event; it carries the user, plan and credit grant.
	Metadata map[string]string
}

// CheckoutSession is the provider-issued session the client is redirected to.
type CheckoutSession struct {
	ID  string
	URL string
}

// Provider is the payment processor surface used by the payment service.
type Provider interface {
	Name() string
	CreateCheckoutSession(ctx context.Context, params *CheckoutParams) (*CheckoutSession, error)
	VerifyWebhookSignature(payload []byte, signature string) error
	CreateRefund(ctx context.Context, paymentIntentID string, amount int64) (string, error)
}

// StripeProvider implements Provider for Stripe.
type StripeProvider struct {
	apiKey        string
	webhookSecret string
	successURL    string
	cancelURL     string
}

// StripeConfig holds Stripe provider configuration.
type StripeConfig struct {
	APIKey        string
	WebhookSecret string
	SuccessURL    string
	CancelURL     string
}

// NewStripeProvider creates a new Stripe provider.
func NewStripeProvider(config *StripeConfig) *StripeProvider {
	stripe.Key = config.APIKey
	return &StripeProvider{
		apiKey:        config.APIKey,
		webhookSecret: config.WebhookSecret,
		successURL:    config.SuccessURL,
		cancelURL:     config.CancelURL,
	}
}

// Name returns the provider name.
func (p *StripeProvider) Name() string {
	return "stripe"
}

// CreateCheckoutSession creates a one-time payment checkout session.
func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, params *CheckoutParams) (*CheckoutSession, error) {
	sessionParams := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(p.successURL),
		CancelURL:  stripe.String(p.cancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String(params.Currency),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(params.PlanName),
					},
					UnitAmount: stripe.Int64(params.PriceCents),
				},
				Quantity: stripe.Int64(1),
			},
		},
	}
	if len(params.Metadata) > 0 {
		sessionParams.Metadata = make(map[string]string, len(params.Metadata))
		for k, v := range params.Metadata {
			sessionParams.Metadata[k] = v
		}
	}

	sess, err := checkoutsession.New(sessionParams)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	return &CheckoutSession{ID: sess.ID, URL: sess.URL}, nil
}

// VerifyWebhookSignature verifies a Stripe webhook signature.
func (p *StripeProvider) VerifyWebhookSignature(payload []byte, signature string) error {
	_, err := webhook.ConstructEvent(payload, signature, p.webhookSecret)
	if err != nil {
		return fmt.Errorf("verify webhook signature: %w", err)
	}
	return nil
}

// CreateRefund refunds a payment intent. A zero amount refunds in full.
func (p *StripeProvider) CreateRefund(ctx context.Context, paymentIntentID string, amount int64) (string, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(paymentIntentID),
	}
	if amount > 0 {
		params.Amount = stripe.Int64(amount)
	}
	r, err := refund.New(params)
	if err != nil {
		return "", fmt.Errorf("create refund: %w", err)
	}
	return r.ID, nil
}
