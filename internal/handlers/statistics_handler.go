package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/u9rzm/barinya-bot/internal/services/statistics"
)

// StatisticsHandler serves cached admin statistics
type StatisticsHandler struct {
	stats     *statistics.CachedStatistics
	scheduler *statistics.Scheduler
}

// NewStatisticsHandler creates a new statistics handler
func NewStatisticsHandler(stats *statistics.CachedStatistics, scheduler *statistics.Scheduler) *StatisticsHandler {
	return &StatisticsHandler{stats: stats, scheduler: scheduler}
}

func forceRefresh(c *gin.Context) bool {
	force, _ := strconv.ParseBool(c.Query("force"))
	return force
}

// queryInt reads an integer query value; malformed values write a 400
func queryInt(c *gin.Context, name string, def int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		badRequest(c, "Invalid "+name)
		return 0, false
	}
	return v, true
}

// GetOverall returns user, loyalty and order statistics
func (h *StatisticsHandler) GetOverall(c *gin.Context) {
	stats, err := h.stats.GetOverallStatistics(c.Request.Context(), forceRefresh(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// GetTierDistribution returns users, balances and spend per tier
func (h *StatisticsHandler) GetTierDistribution(c *gin.Context) {
	stats, err := h.stats.GetTierDistribution(c.Request.Context(), forceRefresh(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// GetTopUsers returns the highest balances. limit defaults to 10.
func (h *StatisticsHandler) GetTopUsers(c *gin.Context) {
	limit, ok := queryInt(c, "limit", 10)
	if !ok {
		return
	}

	stats, err := h.stats.GetTopUsers(c.Request.Context(), limit, forceRefresh(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// GetWalletStats returns wallet connection statistics
func (h *StatisticsHandler) GetWalletStats(c *gin.Context) {
	stats, err := h.stats.GetWalletStats(c.Request.Context(), forceRefresh(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// GetUserGrowth returns daily registrations. days defaults to 30.
func (h *StatisticsHandler) GetUserGrowth(c *gin.Context) {
	days, ok := queryInt(c, "days", 30)
	if !ok {
		return
	}

	stats, err := h.stats.GetUserGrowth(c.Request.Context(), days, forceRefresh(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// Refresh recomputes every scheduled key now and reports per-key success
func (h *StatisticsHandler) Refresh(c *gin.Context) {
	results := h.scheduler.RefreshNow(c.Request.Context())

	succeeded := 0
	for _, ok := range results {
		if ok {
			succeeded++
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"results":   results,
		"succeeded": succeeded,
		"total":     len(results),
	})
}

// CacheStatus lists the live cache entries
func (h *StatisticsHandler) CacheStatus(c *gin.Context) {
	status, err := h.stats.Status(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// Invalidate drops one key (?key=) or the whole statistics cache
func (h *StatisticsHandler) Invalidate(c *gin.Context) {
	key := c.Query("key")
	if err := h.stats.Invalidate(c.Request.Context(), key); err != nil {
		respondError(c, err)
		return
	}
	if key == "" {
		key = "all"
	}
	c.JSON(http.StatusOK, gin.H{"invalidated": key})
}

// SchedulerStatus reports the background refresh loop
func (h *StatisticsHandler) SchedulerStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.scheduler.Status())
}
