package referral

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/u9rzm/barinya-bot/internal/apperrors"
	"github.com/u9rzm/barinya-bot/internal/models"
	"github.com/u9rzm/barinya-bot/internal/services/ledger"
	"github.com/u9rzm/barinya-bot/internal/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	codeLength      = 8
	codeMaxAttempts = 10
)

// CommissionRate is the share of a referee's order credited to the referrer.
var CommissionRate = decimal.RequireFromString("0.01")

// Commission is a credited referral commission
type Commission struct {
	ReferrerID uuid.UUID       `json:"referrer_id"`
	RefereeID  uuid.UUID       `json:"referee_id"`
	Amount     decimal.Decimal `json:"amount"`
	EntryID    uuid.UUID       `json:"entry_id"`
}

// RefereeEarnings is the commission a referrer earned through one referee
type RefereeEarnings struct {
	UserID   uuid.UUID       `json:"user_id"`
	Username string          `json:"username"`
	Earned   decimal.Decimal `json:"earned"`
}

// ReferralStats summarises a user's referrals
type ReferralStats struct {
	ReferralCode  string            `json:"referral_code"`
	TotalReferees int64             `json:"total_referees"`
	TotalEarned   decimal.Decimal   `json:"total_earned"`
	Referees      []RefereeEarnings `json:"referees"`
}

// ReferralService manages who referred whom and pays referral commissions
type ReferralService struct {
	db        *gorm.DB
	ledgerSvc *ledger.LedgerService
}

// NewReferralService creates a new referral service
func NewReferralService(db *gorm.DB, ledgerSvc *ledger.LedgerService) *ReferralService {
	return &ReferralService{db: db, ledgerSvc: ledgerSvc}
}

// RegisterReferral links referee to the owner of code. A user can be
// referred once; later attempts fail with ErrInvalidState.
func (s *ReferralService) RegisterReferral(ctx context.Context, refereeID uuid.UUID, code string) error {
	const op = "referral.RegisterReferral"

	if strings.TrimSpace(code) == "" {
		return apperrors.InvalidInput(op, "referral code is required")
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.RegisterReferralWithTx(tx, refereeID, code)
	})
}

// RegisterReferralWithTx is RegisterReferral inside an existing transaction
func (s *ReferralService) RegisterReferralWithTx(tx *gorm.DB, refereeID uuid.UUID, code string) error {
	const op = "referral.RegisterReferral"

	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return apperrors.InvalidInput(op, "referral code is required")
	}

	var referee models.User
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&referee, "id = ?", refereeID).Error; err != nil {
		if apperrors.IsNotFound(apperrors.FromDB(op, err)) {
			return apperrors.NotFound(op, "user %s not found", refereeID)
		}
		return apperrors.FromDB(op, err)
	}

	if referee.ReferralCode == code {
		return apperrors.InvalidInput(op, "cannot use own referral code")
	}

	var referrer models.User
	if err := tx.First(&referrer, "referral_code = ?", code).Error; err != nil {
		if apperrors.IsNotFound(apperrors.FromDB(op, err)) {
			return apperrors.NotFound(op, "referral code %s not found", code)
		}
		return apperrors.FromDB(op, err)
	}

	if referee.ReferrerID != nil {
		return apperrors.InvalidState(op, "user %s already has a referrer", refereeID)
	}
	if referrer.ReferrerID != nil && *referrer.ReferrerID == referee.ID {
		return apperrors.InvalidInput(op, "referral cycle: %s was referred by this user", referrer.ID)
	}

	if err := tx.Model(&referee).Update("referrer_id", referrer.ID).Error; err != nil {
		return apperrors.FromDB(op, fmt.Errorf("error setting referrer: %w", err))
	}
	return nil
}

// ComputeCommission returns the referrer's share of an order amount, rounded
// to the two decimal places points are stored with
func ComputeCommission(orderAmount decimal.Decimal) decimal.Decimal {
	return orderAmount.Mul(CommissionRate).Round(2)
}

// DistributeCommission credits the referee's referrer for an order inside tx.
// It returns nil, nil when the referee has no referrer or the commission rounds to zero.
func (s *ReferralService) DistributeCommission(tx *gorm.DB, refereeID, orderID uuid.UUID, orderAmount decimal.Decimal) (*Commission, error) {
	const op = "referral.DistributeCommission"

	var referee models.User
	if err := tx.Select("id", "referrer_id").First(&referee, "id = ?", refereeID).Error; err != nil {
		if apperrors.IsNotFound(apperrors.FromDB(op, err)) {
			return nil, apperrors.NotFound(op, "user %s not found", refereeID)
		}
		return nil, apperrors.FromDB(op, err)
	}
	if referee.ReferrerID == nil {
		return nil, nil
	}

	amount := ComputeCommission(orderAmount)
	if !amount.IsPositive() {
		return nil, nil
	}

	reason := fmt.Sprintf("Referral commission for order %s", orderID)
	entry, err := s.ledgerSvc.AddPointsWithTx(tx, *referee.ReferrerID, amount, models.CategoryReferralCommission, reason, &orderID)
	if err != nil {
		return nil, err
	}

	return &Commission{
		ReferrerID: *referee.ReferrerID,
		RefereeID:  refereeID,
		Amount:     amount,
		EntryID:    entry.ID,
	}, nil
}

// GetReferralStats returns referee count and commission earned, overall and per referee
func (s *ReferralService) GetReferralStats(ctx context.Context, userID uuid.UUID) (*ReferralStats, error) {
	const op = "referral.GetReferralStats"
	db := s.db.WithContext(ctx)

	var user models.User
	if err := db.First(&user, "id = ?", userID).Error; err != nil {
		if apperrors.IsNotFound(apperrors.FromDB(op, err)) {
			return nil, apperrors.NotFound(op, "user %s not found", userID)
		}
		return nil, apperrors.FromDB(op, err)
	}

	var referees []models.User
	if err := db.Select("id", "username").Where("referrer_id = ?", userID).Order("created_at ASC").Find(&referees).Error; err != nil {
		return nil, apperrors.FromDB(op, err)
	}

	// Commission entries carry the order; the order carries the referee.
	var perReferee []struct {
		RefereeID uuid.UUID
		Total     decimal.Decimal
	}
	if err := db.Table("ledger_entries").
		Select("orders.user_id AS referee_id, COALESCE(SUM(ledger_entries.amount), 0) AS total").
		Joins("JOIN orders ON orders.id = ledger_entries.order_id").
		Where("ledger_entries.user_id = ? AND ledger_entries.category = ?", userID, models.CategoryReferralCommission).
		Group("orders.user_id").
		Scan(&perReferee).Error; err != nil {
		return nil, apperrors.FromDB(op, err)
	}
	earned := make(map[uuid.UUID]decimal.Decimal, len(perReferee))
	for _, row := range perReferee {
		earned[row.RefereeID] = row.Total
	}

	total, err := s.ledgerSvc.SumByCategory(ctx, userID, models.CategoryReferralCommission)
	if err != nil {
		return nil, err
	}

	stats := &ReferralStats{
		ReferralCode:  user.ReferralCode,
		TotalReferees: int64(len(referees)),
		TotalEarned:   total,
		Referees:      make([]RefereeEarnings, 0, len(referees)),
	}
	for _, r := range referees {
		stats.Referees = append(stats.Referees, RefereeEarnings{
			UserID:   r.ID,
			Username: r.Username,
			Earned:   earned[r.ID],
		})
	}
	return stats, nil
}

// GenerateReferralCode returns a code not yet assigned to any user
func (s *ReferralService) GenerateReferralCode(ctx context.Context) (string, error) {
	return GenerateUniqueCode(s.db.WithContext(ctx))
}

// GenerateUniqueCode returns a referral code not present in the users table of db
func GenerateUniqueCode(db *gorm.DB) (string, error) {
	const op = "referral.GenerateReferralCode"

	for i := 0; i < codeMaxAttempts; i++ {
		code, err := utils.GenerateReferralCode(codeLength)
		if err != nil {
			return "", fmt.Errorf("%s: %w", op, err)
		}

		var count int64
		if err := db.Model(&models.User{}).Where("referral_code = ?", code).Count(&count).Error; err != nil {
			return "", apperrors.FromDB(op, err)
		}
		if count == 0 {
			return code, nil
		}
	}
	return "", apperrors.InvalidState(op, "could not generate a unique referral code after %d attempts", codeMaxAttempts)
}
