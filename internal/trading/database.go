package trading

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// recordTTL bounds how long a client_order_id is remembered
const recordTTL = 24 * time.Hour

// Store remembers which exchange order a client_order_id produced
type Store interface {
	GetIdempotencyRecord(clientOrderID string) (*IdempotencyRecord, error)
	SaveIdempotencyRecord(record *IdempotencyRecord) error
}

// Database is the gorm backed idempotency ledger for placed orders
type Database struct {
	db  *gorm.DB
	now func() time.Time
}

// NewDatabase wraps db, which must already carry the idempotency_records table
func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// GetIdempotencyRecord returns the live record for clientOrderID, or nil when
// there is none or it has expired
func (d *Database) GetIdempotencyRecord(clientOrderID string) (*IdempotencyRecord, error) {
	var record IdempotencyRecord
	err := d.db.Where("client_order_id = ? AND expires_at > ?", clientOrderID, d.now()).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// SaveIdempotencyRecord upserts the record, replacing an expired one with the same key
func (d *Database) SaveIdempotencyRecord(record *IdempotencyRecord) error {
	if record.ExpiresAt.IsZero() {
		record.ExpiresAt = d.now().Add(recordTTL)
	}
	return d.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "client_order_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"order_id", "fingerprint", "expires_at", "updated_at"}),
	}).Create(record).Error
}
