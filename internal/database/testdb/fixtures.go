package testdb

import (
	"strings"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/u9rzm/barinya-bot/internal/models"
	"gorm.io/gorm"
)

var telegramSeq int64 = 100000

// NewUser inserts an active user on the lowest tier. Options run before the insert.
func NewUser(t testing.TB, db *gorm.DB, opts ...func(*models.User)) *models.User {
	t.Helper()

	var lowest models.Tier
	require.NoError(t, db.Order("threshold ASC").First(&lowest).Error)

	user := &models.User{
		TelegramID:   atomic.AddInt64(&telegramSeq, 1),
		Username:     "user" + strings.ToLower(uuid.NewString()[:6]),
		IsActive:     true,
		TierID:       lowest.ID,
		ReferralCode: strings.ToUpper(uuid.NewString()[:8]),
	}
	for _, opt := range opts {
		opt(user)
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

// NewPendingOrder inserts a PENDING order with a single line totalling total.
func NewPendingOrder(t testing.TB, db *gorm.DB, userID uuid.UUID, total decimal.Decimal) *models.Order {
	t.Helper()

	order := &models.Order{
		UserID:      userID,
		TotalAmount: total,
		Status:      models.OrderStatusPending,
		Items: []models.OrderItem{{
			MenuItemID: uuid.New(),
			Name:       "House special",
			UnitPrice:  total,
			Quantity:   1,
		}},
	}
	require.NoError(t, db.Create(order).Error)
	return order
}

// TierBySlug loads a tier by slug.
func TierBySlug(t testing.TB, db *gorm.DB, slug string) *models.Tier {
	t.Helper()

	var tier models.Tier
	require.NoError(t, db.First(&tier, "slug = ?", slug).Error)
	return &tier
}

// ReloadUser reads the user row back from the database.
func ReloadUser(t testing.TB, db *gorm.DB, id uuid.UUID) *models.User {
	t.Helper()

	var user models.User
	require.NoError(t, db.First(&user, "id = ?", id).Error)
	return &user
}
