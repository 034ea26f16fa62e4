package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/u9rzm/barinya-bot/internal/models"
	"github.com/u9rzm/barinya-bot/internal/services/ledger"
	"github.com/u9rzm/barinya-bot/internal/services/tier"
	"github.com/u9rzm/barinya-bot/internal/services/user"
	"github.com/u9rzm/barinya-bot/internal/utils"
)

// AdminHandler handles manual point adjustments, the tier ladder and user management
type AdminHandler struct {
	users  *user.UserService
	ledger *ledger.LedgerService
	tiers  *tier.TierService
}

// PointsRequest moves points on a user's balance
type PointsRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason" binding:"required"`
}

// SetActiveRequest enables or disables a user
type SetActiveRequest struct {
	Active *bool `json:"active" binding:"required"`
}

// SetTierRequest assigns a tier by hand
type SetTierRequest struct {
	TierID uuid.UUID `json:"tier_id" binding:"required"`
}

// ReorderTiersRequest maps tier IDs to display positions
type ReorderTiersRequest struct {
	Order map[uuid.UUID]int `json:"order" binding:"required"`
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(users *user.UserService, ledgerSvc *ledger.LedgerService, tiers *tier.TierService) *AdminHandler {
	return &AdminHandler{users: users, ledger: ledgerSvc, tiers: tiers}
}

func bindPoints(c *gin.Context) (*PointsRequest, bool) {
	var req PointsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return nil, false
	}
	req.Reason = strings.TrimSpace(req.Reason)
	return &req, true
}

// AddPoints credits a manual adjustment
func (h *AdminHandler) AddPoints(c *gin.Context) {
	userID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	req, ok := bindPoints(c)
	if !ok {
		return
	}

	entry, err := h.ledger.AddPoints(c.Request.Context(), userID, req.Amount, models.CategoryAdjustment, req.Reason, nil)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, entry)
}

// DeductPoints debits a manual adjustment. The balance may go negative.
func (h *AdminHandler) DeductPoints(c *gin.Context) {
	userID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	req, ok := bindPoints(c)
	if !ok {
		return
	}

	entry, err := h.ledger.DeductPoints(c.Request.Context(), userID, req.Amount, models.CategoryAdjustment, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, entry)
}

// RedeemPoints spends points on a reward, refusing when the balance is short
func (h *AdminHandler) RedeemPoints(c *gin.Context) {
	userID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	req, ok := bindPoints(c)
	if !ok {
		return
	}

	entry, err := h.ledger.RedeemPoints(c.Request.Context(), userID, req.Amount, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, entry)
}

// ListUsers returns a page of users
func (h *AdminHandler) ListUsers(c *gin.Context) {
	page, size := utils.ParsePagination(c.Query("page"), c.Query("page_size"), 50, 200)
	users, total, err := h.users.ListUsers(c.Request.Context(), page, size)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users, "total": total, "page": page, "page_size": size})
}

// GetUser returns one user with their tier
func (h *AdminHandler) GetUser(c *gin.Context) {
	userID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	u, err := h.users.GetUser(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

// GetUserHistory returns a page of any user's ledger entries
func (h *AdminHandler) GetUserHistory(c *gin.Context) {
	userID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	page, size := utils.ParsePagination(c.Query("page"), c.Query("page_size"), 50, 200)
	entries, total, err := h.ledger.GetHistory(c.Request.Context(), userID, page, size)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "total": total, "page": page, "page_size": size})
}

// SetUserActive enables or disables a user
func (h *AdminHandler) SetUserActive(c *gin.Context) {
	userID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	var req SetActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	if err := h.users.SetActive(c.Request.Context(), userID, *req.Active); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": userID, "is_active": *req.Active})
}

// SetUserTier overrides a user's tier until the next spend recalculation
func (h *AdminHandler) SetUserTier(c *gin.Context) {
	userID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	var req SetTierRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	u, err := h.users.SetTier(c.Request.Context(), userID, req.TierID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

// CreateTier adds a tier to the ladder
func (h *AdminHandler) CreateTier(c *gin.Context) {
	var req tier.TierInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	t, err := h.tiers.CreateTier(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, t)
}

// UpdateTier changes a tier's name, threshold, rate or position
func (h *AdminHandler) UpdateTier(c *gin.Context) {
	tierID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	var req tier.TierUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	t, err := h.tiers.UpdateTier(c.Request.Context(), tierID, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// DeleteTier removes an empty tier
func (h *AdminHandler) DeleteTier(c *gin.Context) {
	tierID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	deleted, err := h.tiers.DeleteTier(c.Request.Context(), tierID)
	if err != nil {
		respondError(c, err)
		return
	}
	if !deleted {
		c.JSON(http.StatusConflict, gin.H{"error": "Tier does not exist, still has members or is the only tier starting at 0"})
		return
	}
	c.Status(http.StatusNoContent)
}

// ReorderTiers sets the display order of tiers
func (h *AdminHandler) ReorderTiers(c *gin.Context) {
	var req ReorderTiersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	if err := h.tiers.ReorderTiers(c.Request.Context(), req.Order); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Tiers reordered"})
}

// RecalculateTiers re-classifies every user after the ladder changed
func (h *AdminHandler) RecalculateTiers(c *gin.Context) {
	moved, err := h.tiers.RecalculateAll(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users_moved": moved})
}

// Reconcile reports users whose balance disagrees with their ledger
func (h *AdminHandler) Reconcile(c *gin.Context) {
	drifts, err := h.ledger.Reconcile(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"drifts": drifts, "count": len(drifts)})
}
