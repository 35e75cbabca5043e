package payment

// CreateCheckoutRequest asks for a checkout session for one plan.
type CreateCheckoutRequest struct {
	PlanID string `json:"plan_id" binding:"required"`
}

// CreateCheckoutResponse carries the redirect target for the client.
type CreateCheckoutResponse struct {
	SessionID   string `json:"session_id"`
	CheckoutURL string `json:"checkout_url"`
}
