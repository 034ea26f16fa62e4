package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/u9rzm/barinya-bot/internal/cache"
	"github.com/u9rzm/barinya-bot/internal/config"
	"github.com/u9rzm/barinya-bot/internal/database/testdb"
	"github.com/u9rzm/barinya-bot/internal/handlers"
	"github.com/u9rzm/barinya-bot/internal/middleware"
	"github.com/u9rzm/barinya-bot/internal/models"
	"github.com/u9rzm/barinya-bot/internal/services/ledger"
	"github.com/u9rzm/barinya-bot/internal/services/menu"
	"github.com/u9rzm/barinya-bot/internal/services/notification"
	"github.com/u9rzm/barinya-bot/internal/services/order"
	"github.com/u9rzm/barinya-bot/internal/services/promotion"
	"github.com/u9rzm/barinya-bot/internal/services/referral"
	"github.com/u9rzm/barinya-bot/internal/services/rewards"
	"github.com/u9rzm/barinya-bot/internal/services/statistics"
	"github.com/u9rzm/barinya-bot/internal/services/tier"
	"github.com/u9rzm/barinya-bot/internal/services/user"
	"github.com/u9rzm/barinya-bot/internal/utils"
)

const (
	botKey        = "bot-key"
	adminTelegram = int64(1)
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testEnv struct {
	db     *gorm.DB
	router *gin.Engine
}

func newTestEnv(t *testing.T, checks map[string]HealthCheck) *testEnv {
	t.Helper()

	db := testdb.New(t)
	cfg := &config.Config{
		Security: config.SecurityConfig{
			IPRateLimit:        1000,
			IPRateBurst:        1000,
			AdminRateLimit:     60000,
			AdminRateBurst:     1000,
			CORSAllowedOrigins: []string{"*"},
			BotAPIKey:          botKey,
			AdminTelegramIDs:   []int64{adminTelegram},
		},
		Rewards: config.RewardsConfig{
			MaxAttempts:     3,
			InitialInterval: time.Millisecond,
			Multiplier:      2,
			MaxInterval:     10 * time.Millisecond,
		},
	}

	ledgerSvc := ledger.NewLedgerService(db)
	tierSvc := tier.NewTierService(db)
	referralSvc := referral.NewReferralService(db, ledgerSvc)
	userSvc := user.NewUserService(db, tierSvc, referralSvc)
	orderSvc := order.NewOrderService(db)
	menuSvc := menu.NewMenuService(db)
	rewardSvc := rewards.NewRewardService(db, ledgerSvc, tierSvc, referralSvc, cfg.Rewards)
	promotionSvc := promotion.NewPromotionService(db, notification.DirectNotifier{Sender: notification.LogSender{}, Deactivator: userSvc})

	store, err := cache.NewMemoryStore(64)
	require.NoError(t, err)
	cached := statistics.NewCachedStatistics(statistics.NewAggregator(db), store, "stats:", 30*time.Minute)
	scheduler := statistics.NewScheduler(cached, time.Hour, time.Minute)

	jwtManager := utils.NewJWTManager("test-secret", 1)
	rateLimiter := middleware.NewRateLimiter(cfg.Security.IPRateLimit, cfg.Security.AdminRateLimit, cfg.Security.IPRateBurst, cfg.Security.AdminRateBurst)
	t.Cleanup(rateLimiter.Stop)

	router := SetupRouter(cfg, Handlers{
		Auth:       handlers.NewAuthHandler(userSvc, jwtManager, cfg.Security),
		Loyalty:    handlers.NewLoyaltyHandler(userSvc, ledgerSvc, tierSvc, referralSvc),
		Orders:     handlers.NewOrderHandler(orderSvc, rewardSvc),
		Menu:       handlers.NewMenuHandler(menuSvc),
		Admin:      handlers.NewAdminHandler(userSvc, ledgerSvc, tierSvc),
		Statistics: handlers.NewStatisticsHandler(cached, scheduler),
		Promotions: handlers.NewPromotionHandler(promotionSvc),
	}, jwtManager, rateLimiter, checks)

	return &testEnv{db: db, router: router}
}

func (e *testEnv) do(method, path, token string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

type authResponse struct {
	Token   string      `json:"token"`
	Created bool        `json:"created"`
	IsAdmin bool        `json:"is_admin"`
	User    models.User `json:"user"`
}

func (e *testEnv) login(t *testing.T, telegramID int64, referralCode string) authResponse {
	t.Helper()
	w := e.do(http.MethodPost, "/api/v1/auth/telegram", "", gin.H{
		"telegram_id":   telegramID,
		"first_name":    "Guest",
		"referral_code": referralCode,
	}, "X-Bot-Key", botKey)
	require.Contains(t, []int{http.StatusOK, http.StatusCreated}, w.Code, w.Body.String())

	var resp authResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, map[string]HealthCheck{
		"database": func(ctx context.Context) error { return nil },
	})
	w := env.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")

	down := newTestEnv(t, map[string]HealthCheck{
		"redis": func(ctx context.Context) error { return errors.New("connection refused") },
	})
	w = down.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")
}

func TestTelegramAuth(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(http.MethodPost, "/api/v1/auth/telegram", "", gin.H{"telegram_id": 77})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(http.MethodPost, "/api/v1/auth/telegram", "", gin.H{"telegram_id": 77}, "X-Bot-Key", botKey)
	assert.Equal(t, http.StatusCreated, w.Code)

	again := env.login(t, 77, "")
	assert.False(t, again.Created)
	assert.False(t, again.IsAdmin)
	assert.NotEmpty(t, again.Token)

	admin := env.login(t, adminTelegram, "")
	assert.True(t, admin.IsAdmin)

	w = env.do(http.MethodPost, "/api/v1/auth/telegram", "", gin.H{"telegram_id": 78, "referral_code": "NOPE1234"}, "X-Bot-Key", botKey)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestOrderLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)
	admin := env.login(t, adminTelegram, "")
	referrer := env.login(t, 300, "")
	guest := env.login(t, 301, referrer.User.ReferralCode)

	w := env.do(http.MethodPost, "/api/v1/admin/menu", admin.Token, gin.H{
		"name": "Negroni", "category": "Cocktails", "price": "250",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var item models.MenuItem
	decode(t, w, &item)

	w = env.do(http.MethodGet, "/api/v1/menu", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Negroni")

	w = env.do(http.MethodPost, "/api/v1/me/orders", guest.Token, gin.H{
		"items": []gin.H{{"menu_item_id": item.ID, "quantity": 4}},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var placed models.Order
	decode(t, w, &placed)
	assert.True(t, placed.TotalAmount.Equal(decimal.NewFromInt(1000)))
	assert.Equal(t, models.OrderStatusPending, placed.Status)

	w = env.do(http.MethodPost, "/api/v1/admin/orders/"+placed.ID.String()+"/complete", guest.Token, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(http.MethodPost, "/api/v1/admin/orders/"+placed.ID.String()+"/complete", admin.Token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var result rewards.RewardResult
	decode(t, w, &result)
	assert.True(t, result.PointsEarned.Equal(decimal.NewFromInt(50)))
	assert.True(t, result.TierChanged)
	require.NotNil(t, result.Commission)
	assert.True(t, result.Commission.Amount.Equal(decimal.NewFromInt(10)))

	w = env.do(http.MethodPost, "/api/v1/admin/orders/"+placed.ID.String()+"/complete", admin.Token, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(http.MethodGet, "/api/v1/me/balance", guest.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var balance struct {
		PointsBalance decimal.Decimal `json:"points_balance"`
		Tier          models.Tier     `json:"tier"`
	}
	decode(t, w, &balance)
	assert.True(t, balance.PointsBalance.Equal(decimal.NewFromInt(50)))
	assert.Equal(t, "silver", balance.Tier.Slug)

	w = env.do(http.MethodGet, "/api/v1/me/referral", referrer.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats referral.ReferralStats
	decode(t, w, &stats)
	assert.Equal(t, int64(1), stats.TotalReferees)
	assert.True(t, stats.TotalEarned.Equal(decimal.NewFromInt(10)))

	w = env.do(http.MethodGet, "/api/v1/me/orders/"+placed.ID.String(), referrer.Token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(http.MethodGet, "/api/v1/me/history", guest.Token, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), string(models.CategoryOrderReward))
}

func TestAdminErrorsMapToStatus(t *testing.T) {
	env := newTestEnv(t, nil)
	admin := env.login(t, adminTelegram, "")
	guest := env.login(t, 400, "")

	w := env.do(http.MethodPost, "/api/v1/admin/orders/not-a-uuid/complete", admin.Token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(http.MethodPost, "/api/v1/admin/orders/"+uuid.NewString()+"/complete", admin.Token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	usersPath := "/api/v1/admin/users/" + guest.User.ID.String()
	w = env.do(http.MethodPost, usersPath+"/points/add", admin.Token, gin.H{"amount": "-5", "reason": "typo"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(http.MethodPost, usersPath+"/points/add", admin.Token, gin.H{"amount": "30", "reason": "birthday"})
	assert.Equal(t, http.StatusCreated, w.Code)

	w = env.do(http.MethodPost, usersPath+"/points/redeem", admin.Token, gin.H{"amount": "40", "reason": "free shot"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(http.MethodPost, usersPath+"/points/deduct", admin.Token, gin.H{"amount": "40", "reason": "chargeback"})
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.True(t, testdb.ReloadUser(t, env.db, guest.User.ID).PointsBalance.Equal(decimal.NewFromInt(-10)))

	w = env.do(http.MethodGet, "/api/v1/admin/ledger/reconcile", admin.Token, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":0`)
}

func TestTierAdministration(t *testing.T) {
	env := newTestEnv(t, nil)
	admin := env.login(t, adminTelegram, "")

	w := env.do(http.MethodPost, "/api/v1/admin/tiers", admin.Token, gin.H{
		"name": "Platinum", "threshold": "20000", "points_rate": "12", "sort_order": 4,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var platinum models.Tier
	decode(t, w, &platinum)

	w = env.do(http.MethodPost, "/api/v1/admin/tiers", admin.Token, gin.H{
		"name": "Duplicate", "threshold": "20000", "points_rate": "1",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(http.MethodGet, "/api/v1/tiers", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Platinum")

	bronze := testdb.TierBySlug(t, env.db, "bronze")
	w = env.do(http.MethodDelete, "/api/v1/admin/tiers/"+bronze.ID.String(), admin.Token, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(http.MethodPut, "/api/v1/admin/tiers/"+bronze.ID.String(), admin.Token, gin.H{"threshold": "100"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(http.MethodDelete, "/api/v1/admin/tiers/"+platinum.ID.String(), admin.Token, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = env.do(http.MethodPost, "/api/v1/admin/tiers/recalculate", admin.Token, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSetUserTier(t *testing.T) {
	env := newTestEnv(t, nil)
	admin := env.login(t, adminTelegram, "")
	guest := env.login(t, 610, "")
	gold := testdb.TierBySlug(t, env.db, "gold")
	path := "/api/v1/admin/users/" + guest.User.ID.String() + "/tier"

	w := env.do(http.MethodPut, path, guest.Token, gin.H{"tier_id": gold.ID})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(http.MethodPut, path, admin.Token, gin.H{"tier_id": gold.ID})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, gold.ID, testdb.ReloadUser(t, env.db, guest.User.ID).TierID)

	w = env.do(http.MethodPut, path, admin.Token, gin.H{"tier_id": uuid.New()})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(http.MethodPut, path, admin.Token, gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPromotionEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)
	admin := env.login(t, adminTelegram, "")
	env.login(t, 620, "")
	now := time.Now().UTC()

	w := env.do(http.MethodPost, "/api/v1/admin/promotions", admin.Token, gin.H{
		"title": "Happy hour", "description": "Two for one",
		"start_date": now.Add(-time.Hour), "end_date": now.Add(48 * time.Hour),
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var promo models.Promotion
	decode(t, w, &promo)

	w = env.do(http.MethodPost, "/api/v1/admin/promotions", admin.Token, gin.H{
		"title": "Backwards", "description": "x",
		"start_date": now.Add(48 * time.Hour), "end_date": now,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(http.MethodGet, "/api/v1/promotions", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Happy hour")

	w = env.do(http.MethodPost, "/api/v1/admin/promotions/"+promo.ID.String()+"/broadcast", admin.Token, nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var result promotion.BroadcastResult
	decode(t, w, &result)
	assert.Equal(t, 2, result.Total)
	assert.Equal(t, int64(2), result.Queued)

	w = env.do(http.MethodDelete, "/api/v1/admin/promotions/"+promo.ID.String(), admin.Token, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = env.do(http.MethodPost, "/api/v1/admin/promotions/"+promo.ID.String()+"/broadcast", admin.Token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStatisticsEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)
	admin := env.login(t, adminTelegram, "")
	env.login(t, 501, "")

	w := env.do(http.MethodGet, "/api/v1/admin/statistics/overall", admin.Token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var overall statistics.OverallStatistics
	decode(t, w, &overall)
	assert.Equal(t, int64(2), overall.Users.TotalUsers)

	w = env.do(http.MethodGet, "/api/v1/admin/statistics/top-users?limit=500", admin.Token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = env.do(http.MethodGet, "/api/v1/admin/statistics/top-users?limit=abc", admin.Token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(http.MethodGet, "/api/v1/admin/statistics/growth?days=7", admin.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var growth statistics.UserGrowth
	decode(t, w, &growth)
	assert.Len(t, growth.Trend, 7)

	w = env.do(http.MethodPost, "/api/v1/admin/statistics/refresh", admin.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"succeeded":4`)

	w = env.do(http.MethodGet, "/api/v1/admin/statistics/cache", admin.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var status statistics.CacheStatus
	decode(t, w, &status)
	assert.Contains(t, status.Entries, statistics.KeyOverall)
	assert.Contains(t, status.Entries, statistics.KeyWalletStats)

	w = env.do(http.MethodDelete, "/api/v1/admin/statistics/cache", admin.Token, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(http.MethodGet, "/api/v1/admin/statistics/cache", admin.Token, nil)
	decode(t, w, &status)
	assert.Equal(t, 0, status.EntryCount)

	w = env.do(http.MethodGet, "/api/v1/admin/statistics/scheduler", admin.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var sched statistics.SchedulerStatus
	decode(t, w, &sched)
	assert.False(t, sched.Running)
	assert.NotNil(t, sched.LastRefresh)
}
