package ledger

import (
	"context"
	"math/rand"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/u9rzm/barinya-bot/internal/apperrors"
	"github.com/u9rzm/barinya-bot/internal/database/testdb"
	"github.com/u9rzm/barinya-bot/internal/models"
)

func ledgerSum(t *testing.T, svc *LedgerService, userID uuid.UUID) decimal.Decimal {
	t.Helper()
	var sum decimal.Decimal
	row := svc.db.Model(&models.LedgerEntry{}).Select("COALESCE(SUM(amount), 0)").Where("user_id = ?", userID).Row()
	require.NoError(t, row.Scan(&sum))
	return sum
}

func TestBalanceEqualsSumOfEntries(t *testing.T) {
	db := testdb.New(t)
	svc := NewLedgerService(db)
	ctx := context.Background()
	user := testdb.NewUser(t, db)

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 40; i++ {
		amount := decimal.NewFromInt(int64(rng.Intn(500) + 1))
		var err error
		if rng.Intn(3) == 0 {
			_, err = svc.DeductPoints(ctx, user.ID, amount, models.CategoryRedemption, "redeem")
		} else {
			_, err = svc.AddPoints(ctx, user.ID, amount, models.CategoryAdjustment, "bonus", nil)
		}
		require.NoError(t, err)

		balance, err := svc.GetBalance(ctx, user.ID)
		require.NoError(t, err)
		assert.True(t, balance.Equal(ledgerSum(t, svc, user.ID)), "step %d: balance %s", i, balance)
	}
}

func TestAddPoints(t *testing.T) {
	db := testdb.New(t)
	svc := NewLedgerService(db)
	ctx := context.Background()
	user := testdb.NewUser(t, db)

	entry, err := svc.AddPoints(ctx, user.ID, decimal.NewFromInt(75), models.CategoryAdjustment, "welcome bonus", nil)
	require.NoError(t, err)

	assert.Equal(t, user.ID, entry.UserID)
	assert.True(t, entry.Amount.Equal(decimal.NewFromInt(75)))
	assert.Equal(t, models.CategoryAdjustment, entry.Category)
	assert.Equal(t, "0", entry.Metadata["balance_before"])
	assert.Equal(t, "75", entry.Metadata["balance_after"])

	balance, err := svc.GetBalance(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.NewFromInt(75)))
}

func TestAddPointsRejectsInvalidInput(t *testing.T) {
	db := testdb.New(t)
	svc := NewLedgerService(db)
	ctx := context.Background()
	user := testdb.NewUser(t, db)

	_, err := svc.AddPoints(ctx, user.ID, decimal.Zero, models.CategoryAdjustment, "zero", nil)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	_, err = svc.AddPoints(ctx, user.ID, decimal.NewFromInt(-5), models.CategoryAdjustment, "negative", nil)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	_, err = svc.AddPoints(ctx, user.ID, decimal.NewFromInt(5), models.LedgerCategory("gift"), "bad category", nil)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	_, err = svc.DeductPoints(ctx, user.ID, decimal.Zero, models.CategoryRedemption, "zero")
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	var count int64
	require.NoError(t, db.Model(&models.LedgerEntry{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestUnknownUser(t *testing.T) {
	db := testdb.New(t)
	svc := NewLedgerService(db)
	ctx := context.Background()

	_, err := svc.AddPoints(ctx, uuid.New(), decimal.NewFromInt(10), models.CategoryAdjustment, "x", nil)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = svc.DeductPoints(ctx, uuid.New(), decimal.NewFromInt(10), models.CategoryRedemption, "x")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = svc.GetBalance(ctx, uuid.New())
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	_, _, err = svc.GetHistory(ctx, uuid.New(), 1, 10)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestDeductPointsAllowsNegativeBalance(t *testing.T) {
	db := testdb.New(t)
	svc := NewLedgerService(db)
	ctx := context.Background()
	user := testdb.NewUser(t, db)

	_, err := svc.AddPoints(ctx, user.ID, decimal.NewFromInt(10), models.CategoryAdjustment, "bonus", nil)
	require.NoError(t, err)

	entry, err := svc.DeductPoints(ctx, user.ID, decimal.NewFromInt(25), models.CategoryAdjustment, "penalty")
	require.NoError(t, err)
	assert.True(t, entry.Amount.Equal(decimal.NewFromInt(-25)))

	balance, err := svc.GetBalance(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.NewFromInt(-15)))
}

func TestDuplicateOrderEntryIsRejected(t *testing.T) {
	db := testdb.New(t)
	svc := NewLedgerService(db)
	ctx := context.Background()
	user := testdb.NewUser(t, db)
	orderID := uuid.New()

	_, err := svc.AddPoints(ctx, user.ID, decimal.NewFromInt(75), models.CategoryOrderReward, "order", &orderID)
	require.NoError(t, err)

	_, err = svc.AddPoints(ctx, user.ID, decimal.NewFromInt(75), models.CategoryOrderReward, "order", &orderID)
	assert.ErrorIs(t, err, apperrors.ErrInvalidState)

	balance, err := svc.GetBalance(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.NewFromInt(75)), "failed insert must roll back the balance update")

	// A different category for the same order is a separate entry.
	_, err = svc.AddPoints(ctx, user.ID, decimal.NewFromInt(3), models.CategoryReferralCommission, "commission", &orderID)
	assert.NoError(t, err)
}

func TestGetHistoryNewestFirstWithPaging(t *testing.T) {
	db := testdb.New(t)
	svc := NewLedgerService(db)
	ctx := context.Background()
	user := testdb.NewUser(t, db)

	for i := 1; i <= 5; i++ {
		_, err := svc.AddPoints(ctx, user.ID, decimal.NewFromInt(int64(i)), models.CategoryAdjustment, "step", nil)
		require.NoError(t, err)
	}

	page1, total, err := svc.GetHistory(ctx, user.ID, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	require.Len(t, page1, 2)
	assert.True(t, page1[0].Amount.Equal(decimal.NewFromInt(5)))
	assert.True(t, page1[1].Amount.Equal(decimal.NewFromInt(4)))

	page3, _, err := svc.GetHistory(ctx, user.ID, 3, 2)
	require.NoError(t, err)
	require.Len(t, page3, 1)
	assert.True(t, page3[0].Amount.Equal(decimal.NewFromInt(1)))

	// History is re-read on every call.
	_, err = svc.AddPoints(ctx, user.ID, decimal.NewFromInt(6), models.CategoryAdjustment, "step", nil)
	require.NoError(t, err)
	page1, total, err = svc.GetHistory(ctx, user.ID, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(6), total)
	assert.True(t, page1[0].Amount.Equal(decimal.NewFromInt(6)))
}

func TestSumByCategory(t *testing.T) {
	db := testdb.New(t)
	svc := NewLedgerService(db)
	ctx := context.Background()
	user := testdb.NewUser(t, db)

	_, err := svc.AddPoints(ctx, user.ID, decimal.NewFromInt(10), models.CategoryReferralCommission, "c1", nil)
	require.NoError(t, err)
	_, err = svc.AddPoints(ctx, user.ID, decimal.NewFromInt(5), models.CategoryReferralCommission, "c2", nil)
	require.NoError(t, err)
	_, err = svc.AddPoints(ctx, user.ID, decimal.NewFromInt(100), models.CategoryAdjustment, "other", nil)
	require.NoError(t, err)

	sum, err := svc.SumByCategory(ctx, user.ID, models.CategoryReferralCommission)
	require.NoError(t, err)
	assert.True(t, sum.Equal(decimal.NewFromInt(15)))
}

func TestReconcile(t *testing.T) {
	db := testdb.New(t)
	svc := NewLedgerService(db)
	ctx := context.Background()
	healthy := testdb.NewUser(t, db)
	drifted := testdb.NewUser(t, db)

	_, err := svc.AddPoints(ctx, healthy.ID, decimal.NewFromInt(40), models.CategoryAdjustment, "bonus", nil)
	require.NoError(t, err)
	_, err = svc.AddPoints(ctx, drifted.ID, decimal.NewFromInt(40), models.CategoryAdjustment, "bonus", nil)
	require.NoError(t, err)

	drifts, err := svc.Reconcile(ctx)
	require.NoError(t, err)
	assert.Empty(t, drifts)

	require.NoError(t, db.Model(&models.User{}).Where("id = ?", drifted.ID).
		Update("points_balance", decimal.NewFromInt(55)).Error)

	drifts, err = svc.Reconcile(ctx)
	require.NoError(t, err)
	require.Len(t, drifts, 1)
	assert.Equal(t, drifted.ID, drifts[0].UserID)
	assert.True(t, drifts[0].Difference.Equal(decimal.NewFromInt(15)))
}

func TestRedeemPointsRequiresSufficientBalance(t *testing.T) {
	db := testdb.New(t)
	svc := NewLedgerService(db)
	ctx := context.Background()
	user := testdb.NewUser(t, db)

	_, err := svc.AddPoints(ctx, user.ID, decimal.NewFromInt(100), models.CategoryAdjustment, "opening balance", nil)
	require.NoError(t, err)

	_, err = svc.RedeemPoints(ctx, user.ID, decimal.NewFromInt(150), "free cocktail")
	assert.ErrorIs(t, err, apperrors.ErrInvalidState)

	entry, err := svc.RedeemPoints(ctx, user.ID, decimal.NewFromInt(100), "free cocktail")
	require.NoError(t, err)
	assert.Equal(t, models.CategoryRedemption, entry.Category)
	assert.True(t, entry.Amount.Equal(decimal.NewFromInt(-100)))

	balance, err := svc.GetBalance(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, balance.IsZero())

	_, err = svc.RedeemPoints(ctx, uuid.New(), decimal.NewFromInt(1), "ghost")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	_, err = svc.RedeemPoints(ctx, user.ID, decimal.Zero, "nothing")
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}
