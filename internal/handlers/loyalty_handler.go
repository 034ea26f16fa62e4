package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/u9rzm/barinya-bot/internal/services/ledger"
	"github.com/u9rzm/barinya-bot/internal/services/referral"
	"github.com/u9rzm/barinya-bot/internal/services/tier"
	"github.com/u9rzm/barinya-bot/internal/services/user"
	"github.com/u9rzm/barinya-bot/internal/utils"
)

// LoyaltyHandler serves a user's own loyalty account
type LoyaltyHandler struct {
	users    *user.UserService
	ledger   *ledger.LedgerService
	tiers    *tier.TierService
	referral *referral.ReferralService
}

// RegisterReferralRequest carries the code of the user who referred the caller
type RegisterReferralRequest struct {
	ReferralCode string `json:"referral_code" binding:"required"`
}

// WalletRequest attaches a wallet address
type WalletRequest struct {
	Address string `json:"address" binding:"required"`
}

// NewLoyaltyHandler creates a new loyalty handler
func NewLoyaltyHandler(users *user.UserService, ledgerSvc *ledger.LedgerService, tiers *tier.TierService, referralSvc *referral.ReferralService) *LoyaltyHandler {
	return &LoyaltyHandler{users: users, ledger: ledgerSvc, tiers: tiers, referral: referralSvc}
}

// GetProfile returns the caller with their tier
func (h *LoyaltyHandler) GetProfile(c *gin.Context) {
	userID, ok := currentUser(c)
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

// GetBalance returns the caller's points balance, spend and tier
func (h *LoyaltyHandler) GetBalance(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	u, err := h.users.GetUser(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"points_balance":   u.PointsBalance,
		"cumulative_spend": u.CumulativeSpend,
		"tier":             u.Tier,
	})
}

// GetHistory returns a page of the caller's ledger entries
func (h *LoyaltyHandler) GetHistory(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	page, size := utils.ParsePagination(c.Query("page"), c.Query("page_size"), 20, 100)
	entries, total, err := h.ledger.GetHistory(c.Request.Context(), userID, page, size)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"entries":   entries,
		"total":     total,
		"page":      page,
		"page_size": size,
	})
}

// ListTiers returns the tier ladder
func (h *LoyaltyHandler) ListTiers(c *gin.Context) {
	tiers, err := h.tiers.ListTiers(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tiers": tiers})
}

// RegisterReferral links the caller to a referrer by code
func (h *LoyaltyHandler) RegisterReferral(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req RegisterReferralRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	if err := h.referral.RegisterReferral(c.Request.Context(), userID, req.ReferralCode); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Referral registered"})
}

// GetReferralStats returns the caller's referral code and commission earnings
func (h *LoyaltyHandler) GetReferralStats(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	stats, err := h.referral.GetReferralStats(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// AttachWallet connects a wallet address to the caller
func (h *LoyaltyHandler) AttachWallet(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req WalletRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	u, err := h.users.AttachWallet(c.Request.Context(), userID, req.Address)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

// DetachWallet disconnects the caller's wallet
func (h *LoyaltyHandler) DetachWallet(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	u, err := h.users.DetachWallet(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}
