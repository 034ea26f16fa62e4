package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/u9rzm/barinya-bot/internal/middleware"
	"github.com/u9rzm/barinya-bot/internal/services/menu"
)

// MenuHandler serves and edits the bar menu
type MenuHandler struct {
	menu *menu.MenuService
}

// NewMenuHandler creates a new menu handler
func NewMenuHandler(menuSvc *menu.MenuService) *MenuHandler {
	return &MenuHandler{menu: menuSvc}
}

// GetMenu returns available items grouped by category. Admins may pass all=true.
func (h *MenuHandler) GetMenu(c *gin.Context) {
	availableOnly := !(c.Query("all") == "true" && c.GetBool(middleware.ContextIsAdmin))

	categories, err := h.menu.GetMenu(c.Request.Context(), availableOnly)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"categories": categories})
}

// GetMenuItem returns a single item
func (h *MenuHandler) GetMenuItem(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	item, err := h.menu.GetMenuItem(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

// CreateMenuItem adds an item
func (h *MenuHandler) CreateMenuItem(c *gin.Context) {
	var req menu.ItemInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	item, err := h.menu.CreateMenuItem(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, item)
}

// UpdateMenuItem edits an item
func (h *MenuHandler) UpdateMenuItem(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	var req menu.ItemUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	item, err := h.menu.UpdateMenuItem(c.Request.Context(), id, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

// DeleteMenuItem removes an item. Past orders keep their price snapshots.
func (h *MenuHandler) DeleteMenuItem(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	if err := h.menu.DeleteMenuItem(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
