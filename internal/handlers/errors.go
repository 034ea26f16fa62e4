package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/u9rzm/barinya-bot/internal/apperrors"
	"github.com/u9rzm/barinya-bot/internal/middleware"
)

// statusFor maps an error kind to an HTTP status
func statusFor(err error) int {
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperrors.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, apperrors.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, apperrors.ErrStorage):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err as JSON. Client errors carry their message;
// everything else is logged and hidden behind a generic one.
func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	if apperrors.IsClientError(err) {
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	log.Printf("[HTTP] %s %s failed: %v", c.Request.Method, c.FullPath(), err)
	message := "Internal server error"
	if status == http.StatusServiceUnavailable {
		message = "Service temporarily unavailable, please retry"
	}
	c.JSON(status, gin.H{"error": message})
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": message})
}

// pathUUID parses a UUID path parameter, writing a 400 when it is malformed
func pathUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		badRequest(c, "Invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

// currentUser returns the authenticated user's ID, writing a 401 when absent
func currentUser(c *gin.Context) (uuid.UUID, bool) {
	id, ok := middleware.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return uuid.Nil, false
	}
	return id, true
}
