package user

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/u9rzm/barinya-bot/internal/apperrors"
	"github.com/u9rzm/barinya-bot/internal/database/testdb"
	"github.com/u9rzm/barinya-bot/internal/models"
	"github.com/u9rzm/barinya-bot/internal/services/ledger"
	"github.com/u9rzm/barinya-bot/internal/services/referral"
	"github.com/u9rzm/barinya-bot/internal/services/tier"
	"gorm.io/gorm"
)

func newService(t *testing.T) (*UserService, *gorm.DB) {
	t.Helper()

	db := testdb.New(t)
	referralSvc := referral.NewReferralService(db, ledger.NewLedgerService(db))
	return NewUserService(db, tier.NewTierService(db), referralSvc), db
}

func TestCreateUserStartsOnLowestTier(t *testing.T) {
	svc, db := newService(t)

	user, err := svc.CreateUser(context.Background(), CreateUserInput{
		TelegramID: 5550001,
		Username:   "@barfly",
		FirstName:  " Ann ",
	})
	require.NoError(t, err)

	assert.Equal(t, "barfly", user.Username)
	assert.Equal(t, "Ann", user.FirstName)
	assert.True(t, user.IsActive)
	assert.True(t, user.PointsBalance.IsZero())
	assert.Len(t, user.ReferralCode, 8)
	require.NotNil(t, user.Tier)
	assert.Equal(t, testdb.TierBySlug(t, db, "bronze").ID, user.Tier.ID)

	_, err = svc.CreateUser(context.Background(), CreateUserInput{TelegramID: 5550001})
	assert.ErrorIs(t, err, apperrors.ErrInvalidState)

	_, err = svc.CreateUser(context.Background(), CreateUserInput{TelegramID: 0})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestCreateUserWithReferralCode(t *testing.T) {
	svc, db := newService(t)
	referrer := testdb.NewUser(t, db)

	user, err := svc.CreateUser(context.Background(), CreateUserInput{
		TelegramID:   5550002,
		ReferralCode: " " + referrer.ReferralCode + " ",
	})
	require.NoError(t, err)
	require.NotNil(t, user.ReferrerID)
	assert.Equal(t, referrer.ID, *user.ReferrerID)
}

func TestCreateUserWithUnknownCodeCreatesNothing(t *testing.T) {
	svc, db := newService(t)

	_, err := svc.CreateUser(context.Background(), CreateUserInput{
		TelegramID:   5550003,
		ReferralCode: "NOSUCHCD",
	})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	var count int64
	require.NoError(t, db.Model(&models.User{}).Where("telegram_id = ?", 5550003).Count(&count).Error)
	assert.Zero(t, count)
}

func TestFindOrCreate(t *testing.T) {
	svc, _ := newService(t)
	input := CreateUserInput{TelegramID: 5550004, Username: "regular"}

	first, created, err := svc.FindOrCreate(context.Background(), input)
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := svc.FindOrCreate(context.Background(), input)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
}

func TestGetUserNotFound(t *testing.T) {
	svc, _ := newService(t)

	_, err := svc.GetUserByTelegramID(context.Background(), 42)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestAttachWallet(t *testing.T) {
	svc, db := newService(t)
	alice := testdb.NewUser(t, db)
	bob := testdb.NewUser(t, db)
	const address = "EQD4FPq-PRDieyQKkizFTRtSDyucUIqrj0v_zXJmqaDp6_0t"

	user, err := svc.AttachWallet(context.Background(), alice.ID, "  "+address+"  ")
	require.NoError(t, err)
	assert.True(t, user.HasWallet())
	assert.Equal(t, address, *user.Wallet)
	assert.NotNil(t, user.WalletConnectedAt)

	_, err = svc.AttachWallet(context.Background(), bob.ID, address)
	assert.ErrorIs(t, err, apperrors.ErrInvalidState)

	_, err = svc.AttachWallet(context.Background(), bob.ID, "short")
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	// Re-attaching the same address to its owner is fine.
	_, err = svc.AttachWallet(context.Background(), alice.ID, address)
	assert.NoError(t, err)

	owner, err := svc.GetUserByWallet(context.Background(), address)
	require.NoError(t, err)
	assert.Equal(t, alice.ID, owner.ID)

	user, err = svc.DetachWallet(context.Background(), alice.ID)
	require.NoError(t, err)
	assert.False(t, user.HasWallet())
	assert.Nil(t, user.WalletConnectedAt)
}

func TestSetActiveAndList(t *testing.T) {
	svc, db := newService(t)
	user := testdb.NewUser(t, db)
	testdb.NewUser(t, db)

	require.NoError(t, svc.SetActive(context.Background(), user.ID, false))
	assert.False(t, testdb.ReloadUser(t, db, user.ID).IsActive)

	users, total, err := svc.ListUsers(context.Background(), 1, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, users, 1)
}

func TestSetTier(t *testing.T) {
	svc, db := newService(t)
	ctx := context.Background()
	u := testdb.NewUser(t, db)
	gold := testdb.TierBySlug(t, db, "gold")

	updated, err := svc.SetTier(ctx, u.ID, gold.ID)
	require.NoError(t, err)
	assert.Equal(t, gold.ID, updated.TierID)
	require.NotNil(t, updated.Tier)
	assert.Equal(t, "gold", updated.Tier.Slug)

	_, err = svc.SetTier(ctx, u.ID, uuid.New())
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.Equal(t, gold.ID, testdb.ReloadUser(t, db, u.ID).TierID)

	_, err = svc.SetTier(ctx, uuid.New(), gold.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestDeactivateByTelegramID(t *testing.T) {
	svc, db := newService(t)
	ctx := context.Background()
	u := testdb.NewUser(t, db)

	require.NoError(t, svc.DeactivateByTelegramID(ctx, u.TelegramID))
	assert.False(t, testdb.ReloadUser(t, db, u.ID).IsActive)

	assert.NoError(t, svc.DeactivateByTelegramID(ctx, 1))
}
