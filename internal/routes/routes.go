package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/u9rzm/barinya-bot/internal/config"
	"github.com/u9rzm/barinya-bot/internal/handlers"
	"github.com/u9rzm/barinya-bot/internal/middleware"
	"github.com/u9rzm/barinya-bot/internal/utils"
)

// Handlers bundles the HTTP handlers the router mounts
type Handlers struct {
	Auth       *handlers.AuthHandler
	Loyalty    *handlers.LoyaltyHandler
	Orders     *handlers.OrderHandler
	Menu       *handlers.MenuHandler
	Admin      *handlers.AdminHandler
	Statistics *handlers.StatisticsHandler
	Promotions *handlers.PromotionHandler
}

// HealthCheck reports whether a dependency is reachable
type HealthCheck func(ctx context.Context) error

// SetupRouter builds the gin engine with every route registered
func SetupRouter(cfg *config.Config, h Handlers, jwtManager *utils.JWTManager, rateLimiter *middleware.RateLimiter, checks map[string]HealthCheck) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())
	router.Use(middleware.CORSMiddleware(cfg.Security.CORSAllowedOrigins))
	router.Use(middleware.SecureHeadersMiddleware(middleware.DefaultSecureHeadersConfig(cfg.Security.UseHSTS)))
	router.Use(rateLimiter.IPRateLimiterMiddleware())

	router.GET("/health", healthHandler(checks))

	v1 := router.Group("/api/v1")
	RegisterAuthRoutes(v1, h.Auth, cfg.Security)
	RegisterUserRoutes(v1, h, jwtManager)
	RegisterAdminRoutes(v1, h, jwtManager, rateLimiter)

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Route not found"})
	})

	return router
}

// RegisterAuthRoutes registers the bot-facing token exchange
func RegisterAuthRoutes(v1 *gin.RouterGroup, authHandler *handlers.AuthHandler, security config.SecurityConfig) {
	authGroup := v1.Group("/auth")
	authGroup.Use(middleware.BotKeyMiddleware(security.BotAPIKey))
	{
		authGroup.POST("/telegram", authHandler.TelegramAuth)
	}
}

// RegisterUserRoutes registers routes for authenticated users
func RegisterUserRoutes(v1 *gin.RouterGroup, h Handlers, jwtManager *utils.JWTManager) {
	v1.GET("/tiers", h.Loyalty.ListTiers)
	v1.GET("/menu", h.Menu.GetMenu)
	v1.GET("/menu/:id", h.Menu.GetMenuItem)
	v1.GET("/promotions", h.Promotions.ListActive)

	me := v1.Group("/me")
	me.Use(middleware.AuthMiddleware(jwtManager))
	{
		me.GET("", h.Loyalty.GetProfile)
		me.GET("/balance", h.Loyalty.GetBalance)
		me.GET("/history", h.Loyalty.GetHistory)

		me.POST("/referral", h.Loyalty.RegisterReferral)
		me.GET("/referral", h.Loyalty.GetReferralStats)

		me.PUT("/wallet", h.Loyalty.AttachWallet)
		me.DELETE("/wallet", h.Loyalty.DetachWallet)

		me.POST("/orders", h.Orders.CreateOrder)
		me.GET("/orders", h.Orders.ListMyOrders)
		me.GET("/orders/:id", h.Orders.GetMyOrder)
		me.POST("/orders/:id/cancel", h.Orders.CancelMyOrder)
	}
}

// RegisterAdminRoutes registers staff routes
func RegisterAdminRoutes(v1 *gin.RouterGroup, h Handlers, jwtManager *utils.JWTManager, rateLimiter *middleware.RateLimiter) {
	admin := v1.Group("/admin")
	admin.Use(middleware.AuthMiddleware(jwtManager), middleware.AdminMiddleware(), rateLimiter.AdminRateLimiterMiddleware())

	orders := admin.Group("/orders")
	{
		orders.GET("", h.Orders.ListOrders)
		orders.GET("/:id", h.Orders.GetOrder)
		orders.POST("/:id/complete", h.Orders.CompleteOrder)
		orders.POST("/:id/cancel", h.Orders.CancelOrder)
	}

	users := admin.Group("/users")
	{
		users.GET("", h.Admin.ListUsers)
		users.GET("/:id", h.Admin.GetUser)
		users.GET("/:id/history", h.Admin.GetUserHistory)
		users.PUT("/:id/active", h.Admin.SetUserActive)
		users.PUT("/:id/tier", h.Admin.SetUserTier)
		users.POST("/:id/points/add", h.Admin.AddPoints)
		users.POST("/:id/points/deduct", h.Admin.DeductPoints)
		users.POST("/:id/points/redeem", h.Admin.RedeemPoints)
	}

	tiers := admin.Group("/tiers")
	{
		tiers.POST("", h.Admin.CreateTier)
		tiers.PUT("/:id", h.Admin.UpdateTier)
		tiers.DELETE("/:id", h.Admin.DeleteTier)
		tiers.PUT("/order", h.Admin.ReorderTiers)
		tiers.POST("/recalculate", h.Admin.RecalculateTiers)
	}

	menu := admin.Group("/menu")
	{
		menu.GET("", h.Menu.GetMenu)
		menu.POST("", h.Menu.CreateMenuItem)
		menu.PUT("/:id", h.Menu.UpdateMenuItem)
		menu.DELETE("/:id", h.Menu.DeleteMenuItem)
	}

	promotions := admin.Group("/promotions")
	{
		promotions.GET("", h.Promotions.ListAll)
		promotions.POST("", h.Promotions.Create)
		promotions.DELETE("/:id", h.Promotions.Delete)
		promotions.POST("/:id/broadcast", h.Promotions.Broadcast)
	}

	admin.GET("/ledger/reconcile", h.Admin.Reconcile)

	stats := admin.Group("/statistics")
	{
		stats.GET("/overall", h.Statistics.GetOverall)
		stats.GET("/tiers", h.Statistics.GetTierDistribution)
		stats.GET("/top-users", h.Statistics.GetTopUsers)
		stats.GET("/wallets", h.Statistics.GetWalletStats)
		stats.GET("/growth", h.Statistics.GetUserGrowth)
		stats.POST("/refresh", h.Statistics.Refresh)
		stats.GET("/cache", h.Statistics.CacheStatus)
		stats.DELETE("/cache", h.Statistics.Invalidate)
		stats.GET("/scheduler", h.Statistics.SchedulerStatus)
	}
}

func healthHandler(checks map[string]HealthCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		results := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				results[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			results[name] = "ok"
		}

		overall := "healthy"
		if status != http.StatusOK {
			overall = "degraded"
		}
		c.JSON(status, gin.H{"status": overall, "checks": results})
	}
}
