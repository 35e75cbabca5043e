package plan

import (
	"time"

	"github.com/lib/pq"
)

// Plan is a purchasable credit pack. Plans are catalog data, not ledger
// state: buying one creates a payment transaction that grants Credits.
type Plan struct {
	ID            string         `json:"id" gorm:"primaryKey"`
	Name          string         `json:"name" gorm:"not null"`
	Description   string         `json:"description"`
	Credits       int64          `json:"credits" gorm:"not null"`
	PriceCents    int64          `json:"price_cents" gorm:"not null"`
	Currency      string         `json:"currency" gorm:"default:usd"`
	StripePriceID string         `json:"-"`
	Features      pq.StringArray `json:"features" gorm:"type:text[]"`
	Active        bool           `json:"active" gorm:"default:true"`
	DisplayOrder  int            `json:"display_order" gorm:"default:0"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// TableName returns the database table name.
func (Plan) TableName() string {
	return "plans"
}
