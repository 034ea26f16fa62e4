package rewards

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/u9rzm/barinya-bot/internal/apperrors"
	"github.com/u9rzm/barinya-bot/internal/config"
	"github.com/u9rzm/barinya-bot/internal/database/testdb"
	"github.com/u9rzm/barinya-bot/internal/models"
	"github.com/u9rzm/barinya-bot/internal/services/ledger"
	"github.com/u9rzm/barinya-bot/internal/services/notification"
	"github.com/u9rzm/barinya-bot/internal/services/referral"
	"github.com/u9rzm/barinya-bot/internal/services/tier"
	"gorm.io/gorm"
)

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Notify(ctx context.Context, n notification.Notification) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}

var fixedNow = time.Date(2026, 3, 14, 18, 30, 0, 0, time.UTC)

func newService(t *testing.T, opts ...Option) (*RewardService, *gorm.DB) {
	t.Helper()

	db := testdb.New(t)
	ledgerSvc := ledger.NewLedgerService(db)
	tierSvc := tier.NewTierService(db)
	referralSvc := referral.NewReferralService(db, ledgerSvc)

	cfg := config.RewardsConfig{
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
		Multiplier:      2,
		MaxInterval:     10 * time.Millisecond,
	}
	base := []Option{
		WithClock(func() time.Time { return fixedNow }),
		WithSleeper(func(context.Context, time.Duration) error { return nil }),
	}
	return NewRewardService(db, ledgerSvc, tierSvc, referralSvc, cfg, append(base, opts...)...), db
}

func countEntries(t *testing.T, db *gorm.DB, orderID uuid.UUID, category models.LedgerCategory) int64 {
	t.Helper()

	var n int64
	require.NoError(t, db.Model(&models.LedgerEntry{}).
		Where("order_id = ? AND category = ?", orderID, category).
		Count(&n).Error)
	return n
}

func TestProcessOrderRewardsPromotesTier(t *testing.T) {
	svc, db := newService(t)
	user := testdb.NewUser(t, db)
	order := testdb.NewPendingOrder(t, db, user.ID, decimal.NewFromInt(1500))

	result, err := svc.ProcessOrderRewards(context.Background(), order.ID)
	require.NoError(t, err)

	// Points use the bronze rate held before the order counted.
	assert.True(t, result.PointsEarned.Equal(decimal.NewFromInt(75)), "got %s", result.PointsEarned)
	assert.True(t, result.NewBalance.Equal(decimal.NewFromInt(75)))
	assert.True(t, result.TierChanged)
	assert.Equal(t, "Bronze", result.PreviousTier.Name)
	assert.Equal(t, "Silver", result.NewTier.Name)
	assert.Nil(t, result.Commission)
	assert.Equal(t, 1, result.Attempts)

	reloaded := testdb.ReloadUser(t, db, user.ID)
	assert.True(t, reloaded.PointsBalance.Equal(decimal.NewFromInt(75)))
	assert.True(t, reloaded.CumulativeSpend.Equal(decimal.NewFromInt(1500)))
	assert.Equal(t, testdb.TierBySlug(t, db, "silver").ID, reloaded.TierID)

	var stored models.Order
	require.NoError(t, db.First(&stored, "id = ?", order.ID).Error)
	assert.Equal(t, models.OrderStatusCompleted, stored.Status)
	require.NotNil(t, stored.CompletedAt)
	assert.True(t, stored.CompletedAt.Equal(fixedNow))
}

func TestProcessOrderRewardsPaysReferrer(t *testing.T) {
	svc, db := newService(t)
	referrer := testdb.NewUser(t, db)
	referee := testdb.NewUser(t, db, func(u *models.User) { u.ReferrerID = &referrer.ID })
	order := testdb.NewPendingOrder(t, db, referee.ID, decimal.NewFromInt(1000))

	result, err := svc.ProcessOrderRewards(context.Background(), order.ID)
	require.NoError(t, err)

	require.NotNil(t, result.Commission)
	assert.Equal(t, referrer.ID, result.Commission.ReferrerID)
	assert.True(t, result.Commission.Amount.Equal(decimal.NewFromInt(10)))

	assert.True(t, testdb.ReloadUser(t, db, referrer.ID).PointsBalance.Equal(decimal.NewFromInt(10)))
	assert.True(t, testdb.ReloadUser(t, db, referee.ID).PointsBalance.Equal(decimal.NewFromInt(50)))
	assert.Equal(t, int64(1), countEntries(t, db, order.ID, models.CategoryReferralCommission))
}

func TestProcessOrderRewardsRejectsSecondPass(t *testing.T) {
	svc, db := newService(t)
	user := testdb.NewUser(t, db)
	order := testdb.NewPendingOrder(t, db, user.ID, decimal.NewFromInt(200))

	_, err := svc.ProcessOrderRewards(context.Background(), order.ID)
	require.NoError(t, err)

	_, err = svc.ProcessOrderRewards(context.Background(), order.ID)
	assert.ErrorIs(t, err, apperrors.ErrInvalidState)

	assert.Equal(t, int64(1), countEntries(t, db, order.ID, models.CategoryOrderReward))
	reloaded := testdb.ReloadUser(t, db, user.ID)
	assert.True(t, reloaded.PointsBalance.Equal(decimal.NewFromInt(10)))
	assert.True(t, reloaded.CumulativeSpend.Equal(decimal.NewFromInt(200)))
}

func TestProcessOrderRewardsConcurrentPasses(t *testing.T) {
	svc, db := newService(t)
	user := testdb.NewUser(t, db)
	order := testdb.NewPendingOrder(t, db, user.ID, decimal.NewFromInt(400))

	const callers = 4
	var (
		wg        sync.WaitGroup
		succeeded int32
		rejected  int32
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.ProcessOrderRewards(context.Background(), order.ID)
			switch {
			case err == nil:
				atomic.AddInt32(&succeeded, 1)
			case errors.Is(err, apperrors.ErrInvalidState):
				atomic.AddInt32(&rejected, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), succeeded)
	assert.Equal(t, int32(callers-1), rejected)
	assert.Equal(t, int64(1), countEntries(t, db, order.ID, models.CategoryOrderReward))
	assert.True(t, testdb.ReloadUser(t, db, user.ID).CumulativeSpend.Equal(decimal.NewFromInt(400)))
}

func TestProcessOrderRewardsSpendIsMonotone(t *testing.T) {
	svc, db := newService(t)
	user := testdb.NewUser(t, db)

	previous := decimal.Zero
	for _, total := range []int64{120, 880, 45, 4000, 1} {
		order := testdb.NewPendingOrder(t, db, user.ID, decimal.NewFromInt(total))
		_, err := svc.ProcessOrderRewards(context.Background(), order.ID)
		require.NoError(t, err)

		spend := testdb.ReloadUser(t, db, user.ID).CumulativeSpend
		assert.True(t, spend.GreaterThan(previous))
		previous = spend
	}

	reloaded := testdb.ReloadUser(t, db, user.ID)
	assert.True(t, reloaded.CumulativeSpend.Equal(decimal.NewFromInt(5046)))
	assert.Equal(t, testdb.TierBySlug(t, db, "gold").ID, reloaded.TierID)
}

func TestProcessOrderRewardsErrors(t *testing.T) {
	svc, db := newService(t)

	_, err := svc.ProcessOrderRewards(context.Background(), uuid.New())
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	user := testdb.NewUser(t, db)
	order := testdb.NewPendingOrder(t, db, user.ID, decimal.NewFromInt(300))
	require.NoError(t, db.Model(order).Update("status", models.OrderStatusCancelled).Error)

	_, err = svc.ProcessOrderRewards(context.Background(), order.ID)
	assert.ErrorIs(t, err, apperrors.ErrInvalidState)
	assert.True(t, testdb.ReloadUser(t, db, user.ID).PointsBalance.IsZero())
}

func TestProcessOrderRewardsRetriesStorageFailures(t *testing.T) {
	var delays []time.Duration
	svc, db := newService(t, WithSleeper(func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}))
	user := testdb.NewUser(t, db)
	order := testdb.NewPendingOrder(t, db, user.ID, decimal.NewFromInt(100))

	// Fail the final order update twice so every earlier write has to roll back.
	var failures int32 = 2
	require.NoError(t, db.Callback().Update().Before("gorm:update").Register("test:fail_order_update", func(tx *gorm.DB) {
		if tx.Statement.Table == "orders" && atomic.AddInt32(&failures, -1) >= 0 {
			_ = tx.AddError(errors.New("deadlock detected"))
		}
	}))

	result, err := svc.ProcessOrderRewards(context.Background(), order.ID)
	require.NoError(t, err)

	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond}, delays)
	reloaded := testdb.ReloadUser(t, db, user.ID)
	assert.True(t, reloaded.PointsBalance.Equal(decimal.NewFromInt(5)))
	assert.True(t, reloaded.CumulativeSpend.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, int64(1), countEntries(t, db, order.ID, models.CategoryOrderReward))
}

func TestProcessOrderRewardsGivesUpAfterMaxAttempts(t *testing.T) {
	svc, db := newService(t)
	user := testdb.NewUser(t, db)
	order := testdb.NewPendingOrder(t, db, user.ID, decimal.NewFromInt(100))

	var calls int32
	require.NoError(t, db.Callback().Update().Before("gorm:update").Register("test:always_fail", func(tx *gorm.DB) {
		if tx.Statement.Table == "orders" {
			atomic.AddInt32(&calls, 1)
			_ = tx.AddError(errors.New("connection reset by peer"))
		}
	}))

	_, err := svc.ProcessOrderRewards(context.Background(), order.ID)
	assert.ErrorIs(t, err, apperrors.ErrStorage)
	assert.Equal(t, int32(3), calls)

	reloaded := testdb.ReloadUser(t, db, user.ID)
	assert.True(t, reloaded.PointsBalance.IsZero())
	assert.True(t, reloaded.CumulativeSpend.IsZero())
	assert.Equal(t, int64(0), countEntries(t, db, order.ID, models.CategoryOrderReward))
}

func TestNotifierFailureDoesNotFailPass(t *testing.T) {
	notifier := new(mockNotifier)
	svc, db := newService(t, WithNotifier(notifier))

	referrer := testdb.NewUser(t, db)
	referee := testdb.NewUser(t, db, func(u *models.User) {
		u.ReferrerID = &referrer.ID
		u.FirstName = "Alice"
	})
	order := testdb.NewPendingOrder(t, db, referee.ID, decimal.NewFromInt(1200))

	notifier.On("Notify", mock.Anything, mock.MatchedBy(func(n notification.Notification) bool {
		return n.Kind == notification.KindPointsEarned && n.TelegramID == referee.TelegramID
	})).Return(errors.New("queue unavailable")).Once()
	notifier.On("Notify", mock.Anything, mock.MatchedBy(func(n notification.Notification) bool {
		return n.Kind == notification.KindLevelUp && n.UserID == referee.ID
	})).Return(nil).Once()
	notifier.On("Notify", mock.Anything, mock.MatchedBy(func(n notification.Notification) bool {
		return n.Kind == notification.KindReferralReward && n.TelegramID == referrer.TelegramID
	})).Return(nil).Once()

	result, err := svc.ProcessOrderRewards(context.Background(), order.ID)
	require.NoError(t, err)
	assert.True(t, result.TierChanged)
	notifier.AssertExpectations(t)
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "Alice", displayName(&models.User{FirstName: "Alice", Username: "al"}))
	assert.Equal(t, "@al", displayName(&models.User{Username: "al"}))
	assert.Equal(t, "user 42", displayName(&models.User{TelegramID: 42}))
}
