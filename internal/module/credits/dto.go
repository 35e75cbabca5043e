package credits

import (
	"github.com/google/uuid"
)

// ProcessPaymentRequest carries one payment notification into the reconciler.
type ProcessPaymentRequest struct {
	SessionID       string
	PaymentIntentID string
	UserID          uuid.UUID
	PlanID          string
	Amount          int64
	Currency        string
	CreditsToAdd    int64
	PaymentMethod   string
	Source          string
}

// PaymentResult is the reconciler's outcome. A duplicate delivery returns
// the stored result of the first application with WasDuplicate set; the
// balance is untouched.
type PaymentResult struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	CreditsAdded  int64     `json:"credits_added"`
	WasDuplicate  bool      `json:"was_duplicate"`
	NewTotal      int64     `json:"new_total"`
	NewRemaining  int64     `json:"new_remaining"`
}

// ConsumeRequest describes one feature call's debit.
type ConsumeRequest struct {
	UserID         uuid.UUID
	Credits        int64
	Feature        string
	ModelVersion   string
	ModelCost      float64
	GenerationType string
	Details        string
}

// ConsumeResult is the debit outcome. Allowed=false means insufficient
// credits: an expected business outcome, not an error, and nothing was
// deducted.
type ConsumeResult struct {
	Allowed   bool  `json:"allowed"`
	Remaining int64 `json:"remaining"`
}

// AccessStatus is a read-only balance view for gating and display.
type AccessStatus struct {
	HasAccess        bool  `json:"has_access"`
	RemainingCredits int64 `json:"remaining_credits"`
	TotalCredits     int64 `json:"total_credits"`
	UsedCredits      int64 `json:"used_credits"`
}
