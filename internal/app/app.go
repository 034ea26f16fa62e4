// Package app wires the loyalty services together. The server and the
// admin CLI share it so both run the same stack against the same stores.
package app

import (
	"context"
	"fmt"
	"log"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"

	"github.com/u9rzm/barinya-bot/internal/cache"
	"github.com/u9rzm/barinya-bot/internal/config"
	"github.com/u9rzm/barinya-bot/internal/database"
	"github.com/u9rzm/barinya-bot/internal/jobs"
	"github.com/u9rzm/barinya-bot/internal/queue"
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
)

// App holds the stores and services of one process
type App struct {
	Config *config.Config
	DB     *gorm.DB
	Redis  *redis.Client
	Queue  *queue.RedisQueue

	// Sender is the transport notifications end up on
	Sender   notification.Sender
	Notifier notification.Notifier

	Ledger     *ledger.LedgerService
	Tiers      *tier.TierService
	Referral   *referral.ReferralService
	Users      *user.UserService
	Orders     *order.OrderService
	Menu       *menu.MenuService
	Rewards    *rewards.RewardService
	Promotions *promotion.PromotionService
	Aggregator *statistics.Aggregator
	Statistics *statistics.CachedStatistics
	Scheduler  *statistics.Scheduler
}

// New connects to Postgres and Redis, migrates the schema, verifies the tier
// ladder and builds every service. A missing tier ladder is fatal.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	db, err := database.InitDB(cfg.Database)
	if err != nil {
		return nil, err
	}

	redisClient, err := database.InitRedis(ctx, cfg.Redis)
	if err != nil {
		_ = database.Close(db)
		return nil, err
	}

	a, err := Build(ctx, cfg, db, redisClient)
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// Build wires services over already opened stores
func Build(ctx context.Context, cfg *config.Config, db *gorm.DB, redisClient *redis.Client) (*App, error) {
	a := &App{Config: cfg, DB: db, Redis: redisClient}

	a.Ledger = ledger.NewLedgerService(db)
	a.Tiers = tier.NewTierService(db)
	a.Referral = referral.NewReferralService(db, a.Ledger)
	a.Users = user.NewUserService(db, a.Tiers, a.Referral)
	a.Orders = order.NewOrderService(db)
	a.Menu = menu.NewMenuService(db)

	if cfg.Loyalty.TierSeedFile != "" {
		if _, err := a.Tiers.SeedFromFile(ctx, cfg.Loyalty.TierSeedFile); err != nil {
			return a, fmt.Errorf("failed to seed tiers from %s: %w", cfg.Loyalty.TierSeedFile, err)
		}
	}
	if err := a.Tiers.EnsureConfigured(ctx); err != nil {
		return a, err
	}

	a.Queue = queue.NewRedisQueue(redisClient, cfg.Notifications.Queue)
	a.Sender = notification.LogSender{}
	switch cfg.Notifications.Mode {
	case "", "queue":
		a.Notifier = jobs.NewQueueNotifier(a.Queue)
	case "direct":
		a.Notifier = notification.DirectNotifier{Sender: a.Sender, Deactivator: a.Users}
	default:
		return a, fmt.Errorf("unknown notification mode %q", cfg.Notifications.Mode)
	}

	a.Rewards = rewards.NewRewardService(db, a.Ledger, a.Tiers, a.Referral, cfg.Rewards,
		rewards.WithNotifier(a.Notifier))
	a.Promotions = promotion.NewPromotionService(db, a.Notifier)

	store, err := cache.NewStore(cfg.Cache, redisClient)
	if err != nil {
		return a, err
	}
	a.Aggregator = statistics.NewAggregator(db)
	a.Statistics = statistics.NewCachedStatistics(a.Aggregator, store, cfg.Cache.KeyPrefix, cfg.Statistics.TTL)
	a.Scheduler = statistics.NewScheduler(a.Statistics, cfg.Statistics.RefreshInterval, cfg.Statistics.RetryDelay)

	return a, nil
}

// Close releases the store connections
func (a *App) Close() {
	if a == nil {
		return
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			log.Printf("Error closing redis: %v", err)
		}
	}
	if a.DB != nil {
		if err := database.Close(a.DB); err != nil {
			log.Printf("Error closing database: %v", err)
		}
	}
}
