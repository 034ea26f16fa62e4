// Package statistics computes dashboard aggregates and serves them through a
// TTL cache that a background scheduler keeps warm.
package statistics

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/u9rzm/barinya-bot/internal/apperrors"
	"github.com/u9rzm/barinya-bot/internal/models"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const (
	dateLayout      = "2006-01-02"
	maxGrowthDays   = 366
	maxTopUsers     = 100
	recentWalletAge = 7 * 24 * time.Hour
)

var hundred = decimal.NewFromInt(100)

// UserStatistics counts members and recent sign-ups
type UserStatistics struct {
	TotalUsers          int64     `json:"total_users"`
	ActiveUsers         int64     `json:"active_users"`
	UsersWithWallets    int64     `json:"users_with_wallets"`
	UsersWithoutWallets int64     `json:"users_without_wallets"`
	NewUsersToday       int64     `json:"new_users_today"`
	NewUsersThisWeek    int64     `json:"new_users_this_week"`
	NewUsersThisMonth   int64     `json:"new_users_this_month"`
	GeneratedAt         time.Time `json:"generated_at"`
}

// LoyaltyStatistics summarises the points ledger
type LoyaltyStatistics struct {
	TotalPointsIssued    decimal.Decimal  `json:"total_points_issued"`
	TotalPointsRedeemed  decimal.Decimal  `json:"total_points_redeemed"`
	ActivePointsBalance  decimal.Decimal  `json:"active_points_balance"`
	UsersByTier          map[string]int64 `json:"users_by_tier"`
	AveragePointsPerUser decimal.Decimal  `json:"average_points_per_user"`
	EntriesToday         int64            `json:"entries_today"`
	EntriesThisWeek      int64            `json:"entries_this_week"`
	EntriesThisMonth     int64            `json:"entries_this_month"`
	GeneratedAt          time.Time        `json:"generated_at"`
}

// OrderStatistics summarises orders and revenue
type OrderStatistics struct {
	TotalOrders       int64           `json:"total_orders"`
	CompletedOrders   int64           `json:"completed_orders"`
	PendingOrders     int64           `json:"pending_orders"`
	CancelledOrders   int64           `json:"cancelled_orders"`
	TotalRevenue      decimal.Decimal `json:"total_revenue"`
	AverageOrderValue decimal.Decimal `json:"average_order_value"`
	OrdersToday       int64           `json:"orders_today"`
	OrdersThisWeek    int64           `json:"orders_this_week"`
	OrdersThisMonth   int64           `json:"orders_this_month"`
	GeneratedAt       time.Time       `json:"generated_at"`
}

// OverallStatistics combines the user, loyalty and order snapshots
type OverallStatistics struct {
	Users       UserStatistics    `json:"users"`
	Loyalty     LoyaltyStatistics `json:"loyalty"`
	Orders      OrderStatistics   `json:"orders"`
	GeneratedAt time.Time         `json:"generated_at"`
}

// TierStats describes the members of one tier
type TierStats struct {
	TierID        uuid.UUID       `json:"tier_id"`
	Name          string          `json:"name"`
	Slug          string          `json:"slug"`
	Threshold     decimal.Decimal `json:"threshold"`
	PointsRate    decimal.Decimal `json:"points_rate"`
	UserCount     int64           `json:"user_count"`
	AveragePoints decimal.Decimal `json:"avg_points"`
	TotalSpend    decimal.Decimal `json:"total_spend"`
}

// TierDistribution lists every tier, ascending by threshold, empty ones included
type TierDistribution struct {
	Tiers       []TierStats `json:"tiers"`
	GeneratedAt time.Time   `json:"generated_at"`
}

// TopUser is one row of the points leaderboard
type TopUser struct {
	UserID          uuid.UUID       `json:"user_id"`
	TelegramID      int64           `json:"telegram_id"`
	Username        string          `json:"username"`
	PointsBalance   decimal.Decimal `json:"points_balance"`
	CumulativeSpend decimal.Decimal `json:"cumulative_spend"`
	TierName        string          `json:"tier_name"`
}

// TopUsers is the leaderboard of active members by balance
type TopUsers struct {
	Limit       int       `json:"limit"`
	Users       []TopUser `json:"users"`
	GeneratedAt time.Time `json:"generated_at"`
}

// WalletStats describes wallet adoption
type WalletStats struct {
	TotalUsers            int64           `json:"total_users"`
	UsersWithWallets      int64           `json:"users_with_wallets"`
	UsersWithoutWallets   int64           `json:"users_without_wallets"`
	ConnectionRatePercent decimal.Decimal `json:"connection_rate_percent"`
	RecentConnectionsWeek int64           `json:"recent_connections_week"`
	GeneratedAt           time.Time       `json:"generated_at"`
}

// UserGrowth maps each of the last Days UTC dates to its sign-up count
type UserGrowth struct {
	Days        int              `json:"days"`
	Trend       map[string]int64 `json:"trend"`
	GeneratedAt time.Time        `json:"generated_at"`
}

// AggregatorOption configures an Aggregator
type AggregatorOption func(*Aggregator)

// WithAggregatorClock overrides the time source
func WithAggregatorClock(now func() time.Time) AggregatorOption {
	return func(a *Aggregator) { a.now = now }
}

// Aggregator computes statistics straight from the database. Every call is a
// fresh read; caching is layered on top by CachedStatistics.
type Aggregator struct {
	db  *gorm.DB
	now func() time.Time
}

// NewAggregator creates a new aggregator
func NewAggregator(db *gorm.DB, opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{db: db, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// periods holds the UTC starts of today, this week (Monday) and this month
type periods struct {
	now   time.Time
	today time.Time
	week  time.Time
	month time.Time
}

func periodsAt(now time.Time) periods {
	now = now.UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	sinceMonday := (int(today.Weekday()) + 6) % 7
	return periods{
		now:   now,
		today: today,
		week:  today.AddDate(0, 0, -sinceMonday),
		month: time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC),
	}
}

// ratio returns num/den rounded to 2 places, or zero when den is zero
func ratio(num decimal.Decimal, den int64) decimal.Decimal {
	if den == 0 {
		return decimal.Zero
	}
	return num.Div(decimal.NewFromInt(den)).Round(2)
}

func count(db *gorm.DB, model interface{}, query string, args ...interface{}) (int64, error) {
	var n int64
	q := db.Model(model)
	if query != "" {
		q = q.Where(query, args...)
	}
	if err := q.Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}

func sum(db *gorm.DB, model interface{}, expr, query string, args ...interface{}) (decimal.Decimal, error) {
	var total decimal.Decimal
	q := db.Model(model).Select(fmt.Sprintf("COALESCE(SUM(%s), 0)", expr))
	if query != "" {
		q = q.Where(query, args...)
	}
	if err := q.Row().Scan(&total); err != nil {
		return decimal.Zero, err
	}
	return total, nil
}

// countSince returns rows of model created at or after each cut-off
func countSince(db *gorm.DB, model interface{}, cutoffs ...time.Time) ([]int64, error) {
	counts := make([]int64, len(cutoffs))
	for i, cutoff := range cutoffs {
		n, err := count(db, model, "created_at >= ?", cutoff)
		if err != nil {
			return nil, err
		}
		counts[i] = n
	}
	return counts, nil
}

const walletAttached = "wallet IS NOT NULL AND wallet <> ''"

// UserStatistics counts members
func (a *Aggregator) UserStatistics(ctx context.Context) (*UserStatistics, error) {
	const op = "statistics.UserStatistics"
	db := a.db.WithContext(ctx)
	p := periodsAt(a.now())

	total, err := count(db, &models.User{}, "")
	if err != nil {
		return nil, apperrors.FromDB(op, err)
	}
	active, err := count(db, &models.User{}, "is_active = ?", true)
	if err != nil {
		return nil, apperrors.FromDB(op, err)
	}
	withWallets, err := count(db, &models.User{}, walletAttached)
	if err != nil {
		return nil, apperrors.FromDB(op, err)
	}
	recent, err := countSince(db, &models.User{}, p.today, p.week, p.month)
	if err != nil {
		return nil, apperrors.FromDB(op, err)
	}

	return &UserStatistics{
		TotalUsers:          total,
		ActiveUsers:         active,
		UsersWithWallets:    withWallets,
		UsersWithoutWallets: total - withWallets,
		NewUsersToday:       recent[0],
		NewUsersThisWeek:    recent[1],
		NewUsersThisMonth:   recent[2],
		GeneratedAt:         p.now,
	}, nil
}

// tierAggregate is one grouped row of users per tier
type tierAggregate struct {
	TierID     uuid.UUID
	UserCount  int64
	AvgPoints  decimal.Decimal
	TotalSpend decimal.Decimal
}

func (a *Aggregator) tierAggregates(db *gorm.DB) ([]models.Tier, map[uuid.UUID]tierAggregate, error) {
	var tiers []models.Tier
	if err := db.Order("threshold ASC").Find(&tiers).Error; err != nil {
		return nil, nil, err
	}

	var rows []tierAggregate
	if err := db.Model(&models.User{}).
		Select("tier_id, COUNT(*) AS user_count, COALESCE(AVG(points_balance), 0) AS avg_points, COALESCE(SUM(cumulative_spend), 0) AS total_spend").
		Group("tier_id").
		Scan(&rows).Error; err != nil {
		return nil, nil, err
	}

	byTier := make(map[uuid.UUID]tierAggregate, len(rows))
	for _, row := range rows {
		byTier[row.TierID] = row
	}
	return tiers, byTier, nil
}

// LoyaltyStatistics summarises points issued, redeemed and held
func (a *Aggregator) LoyaltyStatistics(ctx context.Context) (*LoyaltyStatistics, error) {
	const op = "statistics.LoyaltyStatistics"
	db := a.db.WithContext(ctx)
	p := periodsAt(a.now())

	issued, err := sum(db, &models.LedgerEntry{}, "amount", "amount > 0")
	if err != nil {
		return nil, apperrors.FromDB(op, err)
	}
	redeemed, err := sum(db, &models.LedgerEntry{}, "amount", "amount < 0")
	if err != nil {
		return nil, apperrors.FromDB(op, err)
	}
	balance, err := sum(db, &models.User{}, "points_balance", "")
	if err != nil {
		return nil, apperrors.FromDB(op, err)
	}
	users, err := count(db, &models.User{}, "")
	if err != nil {
		return nil, apperrors.FromDB(op, err)
	}

	tiers, byTier, err := a.tierAggregates(db)
	if err != nil {
		return nil, apperrors.FromDB(op, err)
	}
	usersByTier := make(map[string]int64, len(tiers))
	for _, t := range tiers {
		usersByTier[t.Name] = byTier[t.ID].UserCount
	}

	recent, err := countSince(db, &models.LedgerEntry{}, p.today, p.week, p.month)
	if err != nil {
		return nil, apperrors.FromDB(op, err)
	}

	return &LoyaltyStatistics{
		TotalPointsIssued:    issued,
		TotalPointsRedeemed:  redeemed.Abs(),
		ActivePointsBalance:  balance,
		UsersByTier:          usersByTier,
		AveragePointsPerUser: ratio(balance, users),
		EntriesToday:         recent[0],
		EntriesThisWeek:      recent[1],
		EntriesThisMonth:     recent[2],
		GeneratedAt:          p.now,
	}, nil
}

// OrderStatistics summarises orders by status; revenue counts completed orders only
func (a *Aggregator) OrderStatistics(ctx context.Context) (*OrderStatistics, error) {
	const op = "statistics.OrderStatistics"
	db := a.db.WithContext(ctx)
	p := periodsAt(a.now())

	var byStatus []struct {
		Status models.OrderStatus
		Count  int64
	}
	if err := db.Model(&models.Order{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&byStatus).Error; err != nil {
		return nil, apperrors.FromDB(op, err)
	}

	stats := &OrderStatistics{GeneratedAt: p.now}
	for _, row := range byStatus {
		stats.TotalOrders += row.Count
		switch row.Status {
		case models.OrderStatusCompleted:
			stats.CompletedOrders = row.Count
		case models.OrderStatusPending:
			stats.PendingOrders = row.Count
		case models.OrderStatusCancelled:
			stats.CancelledOrders = row.Count
		}
	}

	revenue, err := sum(db, &models.Order{}, "total_amount", "status = ?", models.OrderStatusCompleted)
	if err != nil {
		return nil, apperrors.FromDB(op, err)
	}
	stats.TotalRevenue = revenue
	stats.AverageOrderValue = ratio(revenue, stats.CompletedOrders)

	recent, err := countSince(db, &models.Order{}, p.today, p.week, p.month)
	if err != nil {
		return nil, apperrors.FromDB(op, err)
	}
	stats.OrdersToday, stats.OrdersThisWeek, stats.OrdersThisMonth = recent[0], recent[1], recent[2]
	return stats, nil
}

// OverallStatistics computes the user, loyalty and order snapshots concurrently
func (a *Aggregator) OverallStatistics(ctx context.Context) (*OverallStatistics, error) {
	var (
		users   *UserStatistics
		loyalty *LoyaltyStatistics
		orders  *OrderStatistics
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		users, err = a.UserStatistics(gctx)
		return err
	})
	g.Go(func() (err error) {
		loyalty, err = a.LoyaltyStatistics(gctx)
		return err
	})
	g.Go(func() (err error) {
		orders, err = a.OrderStatistics(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &OverallStatistics{
		Users:       *users,
		Loyalty:     *loyalty,
		Orders:      *orders,
		GeneratedAt: a.now().UTC(),
	}, nil
}

// TierDistribution reports members, average balance and spend per tier
func (a *Aggregator) TierDistribution(ctx context.Context) (*TierDistribution, error) {
	const op = "statistics.TierDistribution"

	tiers, byTier, err := a.tierAggregates(a.db.WithContext(ctx))
	if err != nil {
		return nil, apperrors.FromDB(op, err)
	}

	dist := &TierDistribution{Tiers: make([]TierStats, 0, len(tiers)), GeneratedAt: a.now().UTC()}
	for _, t := range tiers {
		agg := byTier[t.ID]
		dist.Tiers = append(dist.Tiers, TierStats{
			TierID:        t.ID,
			Name:          t.Name,
			Slug:          t.Slug,
			Threshold:     t.Threshold,
			PointsRate:    t.PointsRate,
			UserCount:     agg.UserCount,
			AveragePoints: agg.AvgPoints.Round(2),
			TotalSpend:    agg.TotalSpend,
		})
	}
	return dist, nil
}

// TopUsersByPoints returns the active members with the highest balances
func (a *Aggregator) TopUsersByPoints(ctx context.Context, limit int) (*TopUsers, error) {
	const op = "statistics.TopUsersByPoints"

	if limit < 1 || limit > maxTopUsers {
		return nil, apperrors.InvalidInput(op, "limit must be between 1 and %d", maxTopUsers)
	}

	users := make([]TopUser, 0, limit)
	if err := a.db.WithContext(ctx).
		Table("users").
		Select("users.id AS user_id, users.telegram_id, users.username, users.points_balance, users.cumulative_spend, tiers.name AS tier_name").
		Joins("JOIN tiers ON tiers.id = users.tier_id").
		Where("users.is_active = ?", true).
		Order("users.points_balance DESC").
		Order("users.telegram_id ASC").
		Limit(limit).
		Scan(&users).Error; err != nil {
		return nil, apperrors.FromDB(op, err)
	}

	return &TopUsers{Limit: limit, Users: users, GeneratedAt: a.now().UTC()}, nil
}

// WalletConnectionStats reports wallet adoption and connections in the last 7 days
func (a *Aggregator) WalletConnectionStats(ctx context.Context) (*WalletStats, error) {
	const op = "statistics.WalletConnectionStats"
	db := a.db.WithContext(ctx)
	now := a.now().UTC()

	total, err := count(db, &models.User{}, "")
	if err != nil {
		return nil, apperrors.FromDB(op, err)
	}
	withWallets, err := count(db, &models.User{}, walletAttached)
	if err != nil {
		return nil, apperrors.FromDB(op, err)
	}
	recent, err := count(db, &models.User{}, walletAttached+" AND wallet_connected_at >= ?", now.Add(-recentWalletAge))
	if err != nil {
		return nil, apperrors.FromDB(op, err)
	}

	return &WalletStats{
		TotalUsers:            total,
		UsersWithWallets:      withWallets,
		UsersWithoutWallets:   total - withWallets,
		ConnectionRatePercent: ratio(decimal.NewFromInt(withWallets).Mul(hundred), total),
		RecentConnectionsWeek: recent,
		GeneratedAt:           now,
	}, nil
}

// UserGrowthTrend counts sign-ups per UTC day over the last days days,
// today included. Days without sign-ups are present with zero.
func (a *Aggregator) UserGrowthTrend(ctx context.Context, days int) (*UserGrowth, error) {
	const op = "statistics.UserGrowthTrend"

	if days < 1 || days > maxGrowthDays {
		return nil, apperrors.InvalidInput(op, "days must be between 1 and %d", maxGrowthDays)
	}

	p := periodsAt(a.now())
	start := p.today.AddDate(0, 0, -(days - 1))

	trend := make(map[string]int64, days)
	for d := start; !d.After(p.today); d = d.AddDate(0, 0, 1) {
		trend[d.Format(dateLayout)] = 0
	}

	var createdAt []time.Time
	if err := a.db.WithContext(ctx).
		Model(&models.User{}).
		Where("created_at >= ?", start).
		Pluck("created_at", &createdAt).Error; err != nil {
		return nil, apperrors.FromDB(op, err)
	}
	for _, ts := range createdAt {
		day := ts.UTC().Format(dateLayout)
		if _, ok := trend[day]; ok {
			trend[day]++
		}
	}

	return &UserGrowth{Days: days, Trend: trend, GeneratedAt: p.now}, nil
}
