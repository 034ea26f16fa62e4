package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// LedgerCategory classifies ledger entries. Aggregations and commission
// reporting filter on it instead of on the free-text reason.
type LedgerCategory string

const (
	CategoryOrderReward        LedgerCategory = "order_reward"
	CategoryReferralCommission LedgerCategory = "referral_commission"
	CategoryRedemption         LedgerCategory = "redemption"
	CategoryAdjustment         LedgerCategory = "adjustment"
)

// Valid reports whether c is a known category.
func (c LedgerCategory) Valid() bool {
	switch c {
	case CategoryOrderReward, CategoryReferralCommission, CategoryRedemption, CategoryAdjustment:
		return true
	}
	return false
}

// LedgerEntry is an immutable points movement. Positive amounts are credits,
// negative amounts debits. Entries are never updated or deleted.
//
// The (order_id, user_id, category) unique index keeps a single order from
// crediting the same user twice for the same reason.
type LedgerEntry struct {
	ID        uuid.UUID         `gorm:"type:uuid;primary_key" json:"id"`
	UserID    uuid.UUID         `gorm:"type:uuid;not null;index;uniqueIndex:idx_ledger_order_user_category,priority:2" json:"user_id"`
	Amount    decimal.Decimal   `gorm:"type:decimal(20,2);not null" json:"amount"`
	Category  LedgerCategory    `gorm:"type:varchar(32);not null;index;uniqueIndex:idx_ledger_order_user_category,priority:3" json:"category"`
	Reason    string            `gorm:"type:varchar(255)" json:"reason"`
	OrderID   *uuid.UUID        `gorm:"type:uuid;uniqueIndex:idx_ledger_order_user_category,priority:1" json:"order_id,omitempty"`
	Metadata  datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt time.Time         `gorm:"index" json:"created_at"`
}

// BeforeCreate assigns the entry id.
func (e *LedgerEntry) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}
