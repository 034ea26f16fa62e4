package statistics

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/u9rzm/barinya-bot/internal/apperrors"
	"github.com/u9rzm/barinya-bot/internal/cache"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/u9rzm/barinya-bot/internal/services/statistics"

// Cache keys
const (
	KeyOverall          = "overall"
	KeyTierDistribution = "tier_distribution"
	KeyTopUsers         = "top_users_10"
	KeyWalletStats      = "wallet_stats"

	topUsersPrefix   = "top_users_"
	userGrowthPrefix = "user_growth_"
	defaultTopUsers  = 10
)

// RefreshKeys are the keys RefreshAll recomputes, in order
var RefreshKeys = []string{KeyOverall, KeyTierDistribution, KeyTopUsers, KeyWalletStats}

// Source computes fresh statistics. *Aggregator is the production implementation.
type Source interface {
	OverallStatistics(ctx context.Context) (*OverallStatistics, error)
	TierDistribution(ctx context.Context) (*TierDistribution, error)
	TopUsersByPoints(ctx context.Context, limit int) (*TopUsers, error)
	WalletConnectionStats(ctx context.Context) (*WalletStats, error)
	UserGrowthTrend(ctx context.Context, days int) (*UserGrowth, error)
}

// Entry is what gets written to the store for each key
type Entry struct {
	Payload   json.RawMessage `json:"payload"`
	CachedAt  time.Time       `json:"cached_at"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// EntryStatus describes one cached key
type EntryStatus struct {
	CachedAt            time.Time `json:"cached_at"`
	ExpiresAt           time.Time `json:"expires_at"`
	TTLRemainingSeconds int64     `json:"ttl_remaining_seconds"`
	// StoreTTLSeconds is the expiry the backing store reports for the key
	StoreTTLSeconds     int64     `json:"store_ttl_seconds"`
}

// CacheStatus describes everything currently cached
type CacheStatus struct {
	EntryCount int                    `json:"entry_count"`
	TTLMinutes float64                `json:"ttl_minutes"`
	Entries    map[string]EntryStatus `json:"entries"`
}

// CachedOption configures CachedStatistics
type CachedOption func(*CachedStatistics)

// WithCacheClock overrides the time source used for expiry
func WithCacheClock(now func() time.Time) CachedOption {
	return func(c *CachedStatistics) { c.now = now }
}

// CachedStatistics serves statistics from a TTL cache, computing them on a
// miss. Concurrent misses on one key may each compute; the last write wins.
type CachedStatistics struct {
	source Source
	store  cache.Store
	prefix string
	ttl    time.Duration
	now    func() time.Time
	tracer trace.Tracer
}

// NewCachedStatistics creates a cache over source. Keys are stored as prefix+key.
func NewCachedStatistics(source Source, store cache.Store, prefix string, ttl time.Duration, opts ...CachedOption) *CachedStatistics {
	c := &CachedStatistics{
		source: source,
		store:  store,
		prefix: prefix,
		ttl:    ttl,
		now:    time.Now,
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TTL returns how long entries stay fresh
func (c *CachedStatistics) TTL() time.Duration {
	return c.ttl
}

// compute resolves key to a Source call
func (c *CachedStatistics) compute(ctx context.Context, key string) (interface{}, error) {
	const op = "statistics.Get"

	switch key {
	case KeyOverall:
		return c.source.OverallStatistics(ctx)
	case KeyTierDistribution:
		return c.source.TierDistribution(ctx)
	case KeyWalletStats:
		return c.source.WalletConnectionStats(ctx)
	}

	if raw, ok := strings.CutPrefix(key, topUsersPrefix); ok {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return nil, apperrors.InvalidInput(op, "invalid top users key %q", key)
		}
		return c.source.TopUsersByPoints(ctx, limit)
	}
	if raw, ok := strings.CutPrefix(key, userGrowthPrefix); ok {
		days, err := strconv.Atoi(raw)
		if err != nil {
			return nil, apperrors.InvalidInput(op, "invalid user growth key %q", key)
		}
		return c.source.UserGrowthTrend(ctx, days)
	}
	return nil, apperrors.InvalidInput(op, "unknown statistics key %q", key)
}

// load reads a live entry; expiry is judged by the stored ExpiresAt
func (c *CachedStatistics) load(ctx context.Context, key string) (*Entry, bool) {
	raw, ok, err := c.store.Get(ctx, c.prefix+key)
	if err != nil {
		log.Printf("[Stats] cache read for %s failed: %v", key, err)
		return nil, false
	}
	if !ok {
		return nil, false
	}

	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		log.Printf("[Stats] discarding unreadable cache entry %s: %v", key, err)
		return nil, false
	}
	if !c.now().Before(entry.ExpiresAt) {
		return nil, false
	}
	return &entry, true
}

// Get returns the JSON payload for key, from cache unless expired or forceRefresh.
// Computation errors are returned; a failed cache write is only logged.
func (c *CachedStatistics) Get(ctx context.Context, key string, forceRefresh bool) (json.RawMessage, error) {
	ctx, span := c.tracer.Start(ctx, "statistics.Get", trace.WithAttributes(
		attribute.String("stats.key", key),
		attribute.Bool("stats.force_refresh", forceRefresh),
	))
	defer span.End()

	if !forceRefresh {
		if entry, ok := c.load(ctx, key); ok {
			span.SetAttributes(attribute.Bool("stats.cache_hit", true))
			return entry.Payload, nil
		}
	}
	span.SetAttributes(attribute.Bool("stats.cache_hit", false))

	value, err := c.compute(ctx, key)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	payload, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("statistics: encoding %s: %w", key, err)
	}

	cachedAt := c.now().UTC()
	entry := Entry{Payload: payload, CachedAt: cachedAt, ExpiresAt: cachedAt.Add(c.ttl)}
	encoded, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("statistics: encoding cache entry %s: %w", key, err)
	}
	if err := c.store.Set(ctx, c.prefix+key, encoded, c.ttl); err != nil {
		log.Printf("[Stats] cache write for %s failed: %v", key, err)
	}
	return payload, nil
}

func getAs[T any](ctx context.Context, c *CachedStatistics, key string, force bool) (*T, error) {
	payload, err := c.Get(ctx, key, force)
	if err != nil {
		return nil, err
	}
	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil, fmt.Errorf("statistics: decoding %s: %w", key, err)
	}
	return &v, nil
}

// GetOverallStatistics returns the cached overall snapshot
func (c *CachedStatistics) GetOverallStatistics(ctx context.Context, force bool) (*OverallStatistics, error) {
	return getAs[OverallStatistics](ctx, c, KeyOverall, force)
}

// GetTierDistribution returns the cached tier distribution
func (c *CachedStatistics) GetTierDistribution(ctx context.Context, force bool) (*TierDistribution, error) {
	return getAs[TierDistribution](ctx, c, KeyTierDistribution, force)
}

// GetTopUsers returns the cached leaderboard for limit
func (c *CachedStatistics) GetTopUsers(ctx context.Context, limit int, force bool) (*TopUsers, error) {
	if limit <= 0 {
		limit = defaultTopUsers
	}
	return getAs[TopUsers](ctx, c, topUsersPrefix+strconv.Itoa(limit), force)
}

// GetWalletStats returns the cached wallet statistics
func (c *CachedStatistics) GetWalletStats(ctx context.Context, force bool) (*WalletStats, error) {
	return getAs[WalletStats](ctx, c, KeyWalletStats, force)
}

// GetUserGrowth returns the cached growth trend for days
func (c *CachedStatistics) GetUserGrowth(ctx context.Context, days int, force bool) (*UserGrowth, error) {
	return getAs[UserGrowth](ctx, c, userGrowthPrefix+strconv.Itoa(days), force)
}

// RefreshAll recomputes every key in RefreshKeys and reports per-key success.
// Failures, panics included, are logged and never stop the other keys.
func (c *CachedStatistics) RefreshAll(ctx context.Context) map[string]bool {
	ctx, span := c.tracer.Start(ctx, "statistics.RefreshAll")
	defer span.End()

	results := make(map[string]bool, len(RefreshKeys))
	for _, key := range RefreshKeys {
		results[key] = c.refreshKey(ctx, key)
	}

	ok := 0
	for _, success := range results {
		if success {
			ok++
		}
	}
	span.SetAttributes(attribute.Int("stats.refreshed", ok), attribute.Int("stats.keys", len(results)))
	if ok == len(results) {
		log.Printf("[Stats] refresh completed (%d/%d)", ok, len(results))
	} else {
		log.Printf("[Stats] refresh partially failed (%d/%d): %v", ok, len(results), results)
	}
	return results
}

func (c *CachedStatistics) refreshKey(ctx context.Context, key string) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Stats] refresh of %s panicked: %v", key, r)
			ok = false
		}
	}()

	if _, err := c.Get(ctx, key, true); err != nil {
		log.Printf("[Stats] refresh of %s failed: %v", key, err)
		return false
	}
	return true
}

// Invalidate drops key from the cache, or every statistics key when key is empty
func (c *CachedStatistics) Invalidate(ctx context.Context, key string) error {
	const op = "statistics.Invalidate"

	if key != "" {
		if err := c.store.Delete(ctx, c.prefix+key); err != nil {
			return apperrors.Storage(op, err)
		}
		log.Printf("[Stats] cache invalidated: %s", key)
		return nil
	}

	keys, err := c.store.Keys(ctx, c.prefix)
	if err != nil {
		return apperrors.Storage(op, err)
	}
	if err := c.store.Delete(ctx, keys...); err != nil {
		return apperrors.Storage(op, err)
	}
	log.Printf("[Stats] cache invalidated: all (%d keys)", len(keys))
	return nil
}

// Status describes the live cache entries
func (c *CachedStatistics) Status(ctx context.Context) (*CacheStatus, error) {
	const op = "statistics.Status"

	keys, err := c.store.Keys(ctx, c.prefix)
	if err != nil {
		return nil, apperrors.Storage(op, err)
	}
	sort.Strings(keys)

	now := c.now()
	status := &CacheStatus{TTLMinutes: c.ttl.Minutes(), Entries: make(map[string]EntryStatus, len(keys))}
	for _, full := range keys {
		key := strings.TrimPrefix(full, c.prefix)
		entry, ok := c.load(ctx, key)
		if !ok {
			continue
		}
		es := EntryStatus{
			CachedAt:            entry.CachedAt,
			ExpiresAt:           entry.ExpiresAt,
			TTLRemainingSeconds: int64(entry.ExpiresAt.Sub(now).Seconds()),
		}
		remaining, live, err := c.store.TTL(ctx, full)
		if err != nil {
			log.Printf("[Stats] failed to read store ttl for %s: %v", key, err)
		} else if live {
			es.StoreTTLSeconds = int64(remaining.Seconds())
		}
		status.Entries[key] = es
	}
	status.EntryCount = len(status.Entries)
	return status, nil
}
