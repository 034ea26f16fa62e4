package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/u9rzm/barinya-bot/internal/config"
	"github.com/u9rzm/barinya-bot/internal/services/user"
	"github.com/u9rzm/barinya-bot/internal/utils"
)

// AuthHandler exchanges a Telegram identity for an access token
type AuthHandler struct {
	users      *user.UserService
	jwtManager *utils.JWTManager
	security   config.SecurityConfig
}

// TelegramAuthRequest is sent by the bot on behalf of a Telegram user
type TelegramAuthRequest struct {
	TelegramID   int64  `json:"telegram_id" binding:"required"`
	Username     string `json:"username"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	ReferralCode string `json:"referral_code"`
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(users *user.UserService, jwtManager *utils.JWTManager, security config.SecurityConfig) *AuthHandler {
	return &AuthHandler{users: users, jwtManager: jwtManager, security: security}
}

// TelegramAuth registers the Telegram user on first contact and issues a token.
// A referral code is only applied when the account is created.
func (h *AuthHandler) TelegramAuth(c *gin.Context) {
	var req TelegramAuthRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	u, created, err := h.users.FindOrCreate(c.Request.Context(), user.CreateUserInput{
		TelegramID:   req.TelegramID,
		Username:     req.Username,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		ReferralCode: req.ReferralCode,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	if !u.IsActive {
		c.JSON(http.StatusForbidden, gin.H{"error": "Account is disabled"})
		return
	}

	isAdmin := u.IsAdmin || h.security.IsAdmin(u.TelegramID)
	token, expiresAt, err := h.jwtManager.GenerateToken(u.ID, u.TelegramID, isAdmin)
	if err != nil {
		respondError(c, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{
		"token":      token,
		"expires_at": expiresAt,
		"created":    created,
		"is_admin":   isAdmin,
		"user":       u,
	})
}
