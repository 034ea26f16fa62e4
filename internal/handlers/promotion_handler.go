package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/u9rzm/barinya-bot/internal/services/promotion"
)

// PromotionHandler lists promotions and lets admins announce them
type PromotionHandler struct {
	promotions *promotion.PromotionService
}

// NewPromotionHandler creates a new promotion handler
func NewPromotionHandler(promotions *promotion.PromotionService) *PromotionHandler {
	return &PromotionHandler{promotions: promotions}
}

// ListActive returns the promotions running now
func (h *PromotionHandler) ListActive(c *gin.Context) {
	promos, err := h.promotions.GetActivePromotions(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"promotions": promos})
}

// ListAll returns every promotion
func (h *PromotionHandler) ListAll(c *gin.Context) {
	promos, err := h.promotions.ListPromotions(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"promotions": promos})
}

// Create stores a new promotion
func (h *PromotionHandler) Create(c *gin.Context) {
	var req promotion.PromotionInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	promo, err := h.promotions.CreatePromotion(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, promo)
}

// Delete removes a promotion
func (h *PromotionHandler) Delete(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	if err := h.promotions.DeletePromotion(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Broadcast sends a promotion to every active user
func (h *PromotionHandler) Broadcast(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	result, err := h.promotions.BroadcastPromotion(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, result)
}
