package middleware

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimiter implements rate limiting for API endpoints
type RateLimiter struct {
	ipLimiters       map[string]*rate.Limiter
	adminLimiters    map[string]*rate.Limiter
	ipMutex          sync.Mutex
	adminMutex       sync.Mutex
	ipLimiterRate    rate.Limit
	adminLimiterRate rate.Limit
	ipBurst          int
	adminBurst       int
	cleanupTicker    *time.Ticker
	stop             chan struct{}
	stopOnce         sync.Once
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(ipRequestsPerSecond, adminRequestsPerMinute float64, ipBurst, adminBurst int) *RateLimiter {
	limiter := &RateLimiter{
		ipLimiters:       make(map[string]*rate.Limiter),
		adminLimiters:    make(map[string]*rate.Limiter),
		ipLimiterRate:    rate.Limit(ipRequestsPerSecond),
		adminLimiterRate: rate.Limit(adminRequestsPerMinute / 60), // Convert to per-second rate
		ipBurst:          ipBurst,
		adminBurst:       adminBurst,
		cleanupTicker:    time.NewTicker(5 * time.Minute),
		stop:             make(chan struct{}),
	}

	go limiter.cleanup()

	return limiter
}

// cleanup periodically drops all limiters so idle clients do not accumulate
func (rl *RateLimiter) cleanup() {
	for {
		select {
		case <-rl.stop:
			return
		case <-rl.cleanupTicker.C:
			rl.ipMutex.Lock()
			rl.ipLimiters = make(map[string]*rate.Limiter)
			rl.ipMutex.Unlock()

			rl.adminMutex.Lock()
			rl.adminLimiters = make(map[string]*rate.Limiter)
			rl.adminMutex.Unlock()
		}
	}
}

// Stop stops the rate limiter cleanup
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() {
		rl.cleanupTicker.Stop()
		close(rl.stop)
	})
}

func (rl *RateLimiter) getIPLimiter(ip string) *rate.Limiter {
	rl.ipMutex.Lock()
	defer rl.ipMutex.Unlock()

	limiter, exists := rl.ipLimiters[ip]
	if !exists {
		limiter = rate.NewLimiter(rl.ipLimiterRate, rl.ipBurst)
		rl.ipLimiters[ip] = limiter
	}
	return limiter
}

func (rl *RateLimiter) getAdminLimiter(key string) *rate.Limiter {
	rl.adminMutex.Lock()
	defer rl.adminMutex.Unlock()

	limiter, exists := rl.adminLimiters[key]
	if !exists {
		limiter = rate.NewLimiter(rl.adminLimiterRate, rl.adminBurst)
		rl.adminLimiters[key] = limiter
	}
	return limiter
}

// IPRateLimiterMiddleware limits requests based on IP address
func (rl *RateLimiter) IPRateLimiterMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.getIPLimiter(c.ClientIP()).Allow() {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// AdminRateLimiterMiddleware limits admin requests per authenticated user.
// It must run after AuthMiddleware.
func (rl *RateLimiter) AdminRateLimiterMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		if userID, ok := CurrentUserID(c); ok {
			key = fmt.Sprintf("user:%s", userID)
		}

		if !rl.getAdminLimiter(key).Allow() {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "too many admin requests, please try again later",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
