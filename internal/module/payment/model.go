package payment

import (
	"time"
)

// WebhookEvent is the receipt log for processor notifications. The unique
// index on EventID deduplicates whole deliveries before dispatch; the
// session-level idempotency in the ledger remains the authoritative guard.
type WebhookEvent struct {
	ID          int64      `json:"id" gorm:"primaryKey;autoIncrement"`
	EventID     string     `json:"event_id" gorm:"uniqueIndex;not null"`
	EventType   string     `json:"event_type" gorm:"not null;index"`
	Provider    string     `json:"provider" gorm:"not null;default:stripe"`
	Payload     string     `json:"-" gorm:"type:jsonb"`
	Processed   bool       `json:"processed" gorm:"default:false"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	LastError   *string    `json:"last_error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// TableName returns the database table name.
func (WebhookEvent) TableName() string {
	return "webhook_events"
}
