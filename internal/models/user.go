package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// User is a loyalty program member identified by their Telegram account.
//
// PointsBalance is the running sum of the user's ledger entries and
// CumulativeSpend only ever grows; both are mutated inside reward passes
// while the row is locked.
type User struct {
	Base
	TelegramID        int64           `gorm:"uniqueIndex;not null" json:"telegram_id"`
	Username          string          `gorm:"type:varchar(64)" json:"username"`
	FirstName         string          `gorm:"type:varchar(100)" json:"first_name"`
	LastName          string          `gorm:"type:varchar(100)" json:"last_name"`
	Wallet            *string         `gorm:"type:varchar(128)" json:"wallet,omitempty"`
	WalletConnectedAt *time.Time      `json:"wallet_connected_at,omitempty"`
	IsActive          bool            `gorm:"not null;default:true" json:"is_active"`
	IsAdmin           bool            `gorm:"not null;default:false" json:"is_admin"`
	PointsBalance     decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"points_balance"`
	CumulativeSpend   decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"cumulative_spend"`
	TierID            uuid.UUID       `gorm:"type:uuid;index;not null" json:"tier_id"`
	Tier              *Tier           `gorm:"foreignKey:TierID" json:"tier,omitempty"`
	ReferrerID        *uuid.UUID      `gorm:"type:uuid;index" json:"referrer_id,omitempty"`
	Referrer          *User           `gorm:"foreignKey:ReferrerID" json:"-"`
	ReferralCode      string          `gorm:"type:varchar(16);uniqueIndex;not null" json:"referral_code"`
}

// HasWallet reports whether a wallet address is attached.
func (u *User) HasWallet() bool {
	return u.Wallet != nil && *u.Wallet != ""
}
