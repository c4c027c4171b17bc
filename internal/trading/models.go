package trading

import (
	"time"

	"gorm.io/gorm"
)

// IdempotencyRecord maps a caller's client_order_id to the order the
// exchange created for it. No order state is kept here.
type IdempotencyRecord struct {
	gorm.Model
	ClientOrderID string    `gorm:"uniqueIndex" json:"client_order_id"`
	OrderID       string    `json:"order_id"`
	Fingerprint   string    `json:"fingerprint"`
	ExpiresAt     time.Time `json:"expires_at"`
}
