// Package ledger records point movements. Every balance change on a user is
// paired with exactly one immutable LedgerEntry in the same transaction, so
// a user's points_balance always equals the sum of their entries.
package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/u9rzm/barinya-bot/internal/apperrors"
	"github.com/u9rzm/barinya-bot/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// LedgerService handles points ledger operations
type LedgerService struct {
	db *gorm.DB
}

// NewLedgerService creates a new ledger service
func NewLedgerService(db *gorm.DB) *LedgerService {
	return &LedgerService{db: db}
}

// BalanceDrift is a user whose stored balance disagrees with their entries.
type BalanceDrift struct {
	UserID     uuid.UUID       `json:"user_id"`
	Balance    decimal.Decimal `json:"balance"`
	LedgerSum  decimal.Decimal `json:"ledger_sum"`
	Difference decimal.Decimal `json:"difference"`
}

// AddPoints credits points to a user in its own transaction
func (s *LedgerService) AddPoints(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, category models.LedgerCategory, reason string, orderID *uuid.UUID) (*models.LedgerEntry, error) {
	var entry *models.LedgerEntry
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		entry, err = s.AddPointsWithTx(tx, userID, amount, category, reason, orderID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// AddPointsWithTx credits points to a user using an existing transaction
func (s *LedgerService) AddPointsWithTx(tx *gorm.DB, userID uuid.UUID, amount decimal.Decimal, category models.LedgerCategory, reason string, orderID *uuid.UUID) (*models.LedgerEntry, error) {
	if !amount.IsPositive() {
		return nil, apperrors.InvalidInput("ledger.AddPoints", "amount must be positive, got %s", amount)
	}
	return s.apply(tx, "ledger.AddPoints", userID, amount, category, reason, orderID)
}

// DeductPoints debits points from a user in its own transaction.
// The balance is allowed to go negative; callers that need a floor check
// the balance first.
func (s *LedgerService) DeductPoints(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, category models.LedgerCategory, reason string) (*models.LedgerEntry, error) {
	var entry *models.LedgerEntry
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		entry, err = s.DeductPointsWithTx(tx, userID, amount, category, reason)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// DeductPointsWithTx debits points from a user using an existing transaction
func (s *LedgerService) DeductPointsWithTx(tx *gorm.DB, userID uuid.UUID, amount decimal.Decimal, category models.LedgerCategory, reason string) (*models.LedgerEntry, error) {
	if !amount.IsPositive() {
		return nil, apperrors.InvalidInput("ledger.DeductPoints", "amount must be positive, got %s", amount)
	}
	return s.apply(tx, "ledger.DeductPoints", userID, amount.Neg(), category, reason, nil)
}

// RedeemPoints spends points on a reward. Unlike DeductPoints it refuses to
// take the balance below zero.
func (s *LedgerService) RedeemPoints(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, reason string) (*models.LedgerEntry, error) {
	const op = "ledger.RedeemPoints"
	if !amount.IsPositive() {
		return nil, apperrors.InvalidInput(op, "amount must be positive, got %s", amount)
	}

	var entry *models.LedgerEntry
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user models.User
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id", "points_balance").
			First(&user, "id = ?", userID).Error; err != nil {
			if apperrors.IsNotFound(apperrors.FromDB(op, err)) {
				return apperrors.NotFound(op, "user %s not found", userID)
			}
			return apperrors.FromDB(op, err)
		}
		if user.PointsBalance.LessThan(amount) {
			return apperrors.InvalidState(op, "insufficient points: balance %s, requested %s", user.PointsBalance, amount)
		}

		var err error
		entry, err = s.DeductPointsWithTx(tx, userID, amount, models.CategoryRedemption, reason)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// apply locks the user row, moves the balance by delta and appends the entry.
func (s *LedgerService) apply(tx *gorm.DB, op string, userID uuid.UUID, delta decimal.Decimal, category models.LedgerCategory, reason string, orderID *uuid.UUID) (*models.LedgerEntry, error) {
	if !category.Valid() {
		return nil, apperrors.InvalidInput(op, "unknown ledger category %q", category)
	}

	var user models.User
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&user, "id = ?", userID).Error; err != nil {
		if apperrors.IsNotFound(apperrors.FromDB(op, err)) {
			return nil, apperrors.NotFound(op, "user %s not found", userID)
		}
		return nil, apperrors.FromDB(op, err)
	}

	balanceBefore := user.PointsBalance
	balanceAfter := balanceBefore.Add(delta)

	if err := tx.Model(&user).Update("points_balance", balanceAfter).Error; err != nil {
		return nil, apperrors.FromDB(op, fmt.Errorf("error updating points balance: %w", err))
	}

	entry := models.LedgerEntry{
		UserID:   userID,
		Amount:   delta,
		Category: category,
		Reason:   reason,
		OrderID:  orderID,
		Metadata: datatypes.JSONMap{
			"balance_before": balanceBefore.String(),
			"balance_after":  balanceAfter.String(),
		},
	}
	if err := tx.Create(&entry).Error; err != nil {
		return nil, apperrors.FromDB(op, fmt.Errorf("error creating ledger entry: %w", err))
	}

	return &entry, nil
}

// GetBalance returns the user's stored points balance
func (s *LedgerService) GetBalance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	var user models.User
	err := s.db.WithContext(ctx).Select("id", "points_balance").First(&user, "id = ?", userID).Error
	if err != nil {
		if apperrors.IsNotFound(apperrors.FromDB("ledger.GetBalance", err)) {
			return decimal.Zero, apperrors.NotFound("ledger.GetBalance", "user %s not found", userID)
		}
		return decimal.Zero, apperrors.FromDB("ledger.GetBalance", err)
	}
	return user.PointsBalance, nil
}

// GetHistory returns a page of the user's entries, newest first, and the total count
func (s *LedgerService) GetHistory(ctx context.Context, userID uuid.UUID, page, pageSize int) ([]models.LedgerEntry, int64, error) {
	const op = "ledger.GetHistory"

	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	db := s.db.WithContext(ctx)

	var exists int64
	if err := db.Model(&models.User{}).Where("id = ?", userID).Count(&exists).Error; err != nil {
		return nil, 0, apperrors.FromDB(op, err)
	}
	if exists == 0 {
		return nil, 0, apperrors.NotFound(op, "user %s not found", userID)
	}

	var total int64
	if err := db.Model(&models.LedgerEntry{}).Where("user_id = ?", userID).Count(&total).Error; err != nil {
		return nil, 0, apperrors.FromDB(op, err)
	}

	var entries []models.LedgerEntry
	offset := (page - 1) * pageSize
	if err := db.Where("user_id = ?", userID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(pageSize).
		Offset(offset).
		Find(&entries).Error; err != nil {
		return nil, 0, apperrors.FromDB(op, err)
	}

	return entries, total, nil
}

// SumByCategory returns the total of a user's entries in the given category
func (s *LedgerService) SumByCategory(ctx context.Context, userID uuid.UUID, category models.LedgerCategory) (decimal.Decimal, error) {
	var sum decimal.Decimal
	row := s.db.WithContext(ctx).Model(&models.LedgerEntry{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("user_id = ? AND category = ?", userID, category).
		Row()
	if err := row.Scan(&sum); err != nil {
		return decimal.Zero, apperrors.FromDB("ledger.SumByCategory", err)
	}
	return sum, nil
}

// Reconcile compares every user's balance with the sum of their entries and
// returns the users that disagree. Values are compared at two decimal places.
func (s *LedgerService) Reconcile(ctx context.Context) ([]BalanceDrift, error) {
	const op = "ledger.Reconcile"
	db := s.db.WithContext(ctx)

	var users []models.User
	if err := db.Select("id", "points_balance").Find(&users).Error; err != nil {
		return nil, apperrors.FromDB(op, err)
	}

	var sums []struct {
		UserID uuid.UUID
		Total  decimal.Decimal
	}
	if err := db.Model(&models.LedgerEntry{}).
		Select("user_id, COALESCE(SUM(amount), 0) AS total").
		Group("user_id").
		Scan(&sums).Error; err != nil {
		return nil, apperrors.FromDB(op, err)
	}

	totals := make(map[uuid.UUID]decimal.Decimal, len(sums))
	for _, row := range sums {
		totals[row.UserID] = row.Total
	}

	var drifts []BalanceDrift
	for _, u := range users {
		sum := totals[u.ID].Round(2)
		balance := u.PointsBalance.Round(2)
		if !sum.Equal(balance) {
			drifts = append(drifts, BalanceDrift{
				UserID:     u.ID,
				Balance:    balance,
				LedgerSum:  sum,
				Difference: balance.Sub(sum),
			})
		}
	}
	return drifts, nil
}
