package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/u9rzm/barinya-bot/internal/app"
	"github.com/u9rzm/barinya-bot/internal/config"
	"github.com/u9rzm/barinya-bot/internal/database"
	"github.com/u9rzm/barinya-bot/internal/handlers"
	"github.com/u9rzm/barinya-bot/internal/jobs"
	"github.com/u9rzm/barinya-bot/internal/middleware"
	"github.com/u9rzm/barinya-bot/internal/queue"
	"github.com/u9rzm/barinya-bot/internal/routes"
	"github.com/u9rzm/barinya-bot/internal/utils"
)

func main() {
	// Initialize configuration (.env is loaded by LoadConfig)
	cfg := config.LoadConfig()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}
	defer a.Close()

	// Notification delivery
	jobs.RegisterAllJobHandlers(a.Queue, a.Sender, a.Users)
	workerPool := queue.NewWorkerPool(a.Queue, cfg.Notifications.Workers)
	if err := workerPool.Start(ctx); err != nil {
		log.Fatalf("Failed to start notification workers: %v", err)
	}

	// Ledger reconciliation
	reconciliation := jobs.NewReconciliationJob(a.Ledger, cfg.Jobs.ReconcileInterval)
	if err := reconciliation.Start(ctx); err != nil {
		log.Fatalf("Failed to schedule reconciliation: %v", err)
	}

	// Statistics refresh
	if cfg.Statistics.SchedulerEnabled {
		a.Scheduler.Start(ctx)
	} else {
		log.Println("[Scheduler] Statistics scheduler disabled")
	}

	jwtManager := utils.NewJWTManager(cfg.JWT.Secret, cfg.JWT.Expiration)
	rateLimiter := middleware.NewRateLimiter(
		cfg.Security.IPRateLimit,
		cfg.Security.AdminRateLimit,
		cfg.Security.IPRateBurst,
		cfg.Security.AdminRateBurst,
	)
	defer rateLimiter.Stop()

	router := routes.SetupRouter(cfg, routes.Handlers{
		Auth:       handlers.NewAuthHandler(a.Users, jwtManager, cfg.Security),
		Loyalty:    handlers.NewLoyaltyHandler(a.Users, a.Ledger, a.Tiers, a.Referral),
		Orders:     handlers.NewOrderHandler(a.Orders, a.Rewards),
		Menu:       handlers.NewMenuHandler(a.Menu),
		Admin:      handlers.NewAdminHandler(a.Users, a.Ledger, a.Tiers),
		Statistics: handlers.NewStatisticsHandler(a.Statistics, a.Scheduler),
		Promotions: handlers.NewPromotionHandler(a.Promotions),
	}, jwtManager, rateLimiter, map[string]routes.HealthCheck{
		"database": func(ctx context.Context) error { return database.Ping(ctx, a.DB) },
		"redis":    func(ctx context.Context) error { return a.Redis.Ping(ctx).Err() },
	})

	srv := startServer(router, cfg.Server)

	// Wait for interrupt signal to gracefully shut down the server
	<-ctx.Done()
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	a.Scheduler.Stop()
	reconciliation.Stop()
	workerPool.Stop()

	log.Println("Server exiting")
}

// startServer starts the HTTP server
func startServer(router *gin.Engine, cfg config.ServerConfig) *http.Server {
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	log.Printf("Server started on port %s", cfg.Port)
	return srv
}
