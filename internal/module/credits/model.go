package credits

import (
	"time"

	"github.com/google/uuid"
)

// TransactionStatus represents the status of a payment transaction.
type TransactionStatus string

const (
	TransactionStatusPending           TransactionStatus = "pending"
	TransactionStatusCompleted         TransactionStatus = "completed"
	TransactionStatusFailed            TransactionStatus = "failed"
	TransactionStatusRefunded          TransactionStatus = "refunded"
	TransactionStatusPartiallyRefunded TransactionStatus = "partially_refunded"
	TransactionStatusDisputed          TransactionStatus = "disputed"
)

// Account holds a user's credit balance. Created lazily on first payment or
// first feature use; never deleted. The remaining/total/used columns are only
// ever mutated while holding the user's ledger lock.
type Account struct {
	UserID           uuid.UUID  `json:"user_id" gorm:"type:uuid;primaryKey"`
	TotalCredits     int64      `json:"total_credits" gorm:"not null;default:0"`
	RemainingCredits int64      `json:"remaining_credits" gorm:"not null;default:0"`
	UsedCredits      int64      `json:"used_credits" gorm:"not null;default:0"`
	LastPaymentAt    *time.Time `json:"last_payment_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// TableName returns the database table name.
func (Account) TableName() string {
	return "credit_accounts"
}

// Consistent reports whether the balance satisfies its invariant:
// remaining = total - used, and remaining is never negative.
func (a *Account) Consistent() bool {
	return a.RemainingCredits == a.TotalCredits-a.UsedCredits && a.RemainingCredits >= 0
}

// Transaction is one payment applied to an account. SessionID is the payment
// processor's checkout session identifier and the idempotency key: the unique
// index on it is what makes "already applied" a well-defined question.
type Transaction struct {
	ID              uuid.UUID         `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	UserID          uuid.UUID         `json:"user_id" gorm:"type:uuid;not null;index"`
	SessionID       string            `json:"session_id" gorm:"uniqueIndex;not null"`
	PaymentIntentID *string           `json:"payment_intent_id,omitempty" gorm:"index"`
	PlanID          string            `json:"plan_id"`
	Amount          int64             `json:"amount"` // In cents
	Currency        string            `json:"currency" gorm:"default:usd"`
	CreditsAdded    int64             `json:"credits_added" gorm:"not null"`
	Status          TransactionStatus `json:"status" gorm:"not null;default:pending"`
	PaymentMethod   string            `json:"payment_method"`
	Source          string            `json:"source"`
	RefundedAmount  int64             `json:"refunded_amount" gorm:"default:0"`
	RefundReason    *string           `json:"refund_reason,omitempty"`
	DisputeID       *string           `json:"dispute_id,omitempty"`
	FailureCode     *string           `json:"failure_code,omitempty"`
	FailureMessage  *string           `json:"failure_message,omitempty"`
	CompletedAt     *time.Time        `json:"completed_at,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// TableName returns the database table name.
func (Transaction) TableName() string {
	return "payment_transactions"
}

// IsCompleted returns true once the transaction has credited the account.
func (t *Transaction) IsCompleted() bool {
	return t.Status == TransactionStatusCompleted
}

// IsTerminal returns true if no further status transitions are expected.
func (t *Transaction) IsTerminal() bool {
	switch t.Status {
	case TransactionStatusFailed, TransactionStatusRefunded, TransactionStatusDisputed:
		return true
	}
	return false
}

// UsageEntry records one debit against an account. Entries are append-only
// and immutable once written; each is persisted in the same transaction as
// the balance decrement it justifies.
type UsageEntry struct {
	ID             int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID         uuid.UUID `json:"user_id" gorm:"type:uuid;not null;index"`
	CreditsUsed    int64     `json:"credits_used" gorm:"not null"`
	Feature        string    `json:"feature" gorm:"not null"`
	ModelVersion   string    `json:"model_version"`
	ModelCost      float64   `json:"model_cost" gorm:"type:decimal(10,6)"`
	GenerationType string    `json:"generation_type"`
	Details        string    `json:"details,omitempty" gorm:"type:jsonb"`
	CreatedAt      time.Time `json:"created_at"`
}

// TableName returns the database table name.
func (UsageEntry) TableName() string {
	return "usage_entries"
}
