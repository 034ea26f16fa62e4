package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/u9rzm/barinya-bot/internal/models"
	"github.com/u9rzm/barinya-bot/internal/services/order"
	"github.com/u9rzm/barinya-bot/internal/services/rewards"
	"github.com/u9rzm/barinya-bot/internal/utils"
)

// OrderHandler handles order placement and completion
type OrderHandler struct {
	orders  *order.OrderService
	rewards *rewards.RewardService
}

// CreateOrderRequest lists the menu items to order
type CreateOrderRequest struct {
	Items []order.ItemRequest `json:"items" binding:"required"`
}

// NewOrderHandler creates a new order handler
func NewOrderHandler(orders *order.OrderService, rewardSvc *rewards.RewardService) *OrderHandler {
	return &OrderHandler{orders: orders, rewards: rewardSvc}
}

// CreateOrder places a PENDING order for the caller
func (h *OrderHandler) CreateOrder(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	o, err := h.orders.CreateOrder(c.Request.Context(), userID, req.Items)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, o)
}

// ListMyOrders returns a page of the caller's orders
func (h *OrderHandler) ListMyOrders(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	page, size := utils.ParsePagination(c.Query("page"), c.Query("page_size"), 20, 100)
	orders, total, err := h.orders.GetUserOrders(c.Request.Context(), userID, page, size)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders, "total": total, "page": page, "page_size": size})
}

// GetMyOrder returns one of the caller's orders. Other users' orders read as missing.
func (h *OrderHandler) GetMyOrder(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	orderID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	o, err := h.orders.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		respondError(c, err)
		return
	}
	if o.UserID != userID {
		c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
		return
	}
	c.JSON(http.StatusOK, o)
}

// CancelMyOrder cancels one of the caller's PENDING orders
func (h *OrderHandler) CancelMyOrder(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	orderID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	o, err := h.orders.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		respondError(c, err)
		return
	}
	if o.UserID != userID {
		c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
		return
	}

	h.cancel(c, orderID)
}

// ListOrders returns a page of all orders, optionally filtered by status
func (h *OrderHandler) ListOrders(c *gin.Context) {
	status := models.OrderStatus(strings.ToUpper(c.Query("status")))
	switch status {
	case "", models.OrderStatusPending, models.OrderStatusCompleted, models.OrderStatusCancelled:
	default:
		badRequest(c, "Invalid status filter")
		return
	}

	page, size := utils.ParsePagination(c.Query("page"), c.Query("page_size"), 50, 200)
	orders, total, err := h.orders.ListOrders(c.Request.Context(), status, page, size)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders, "total": total, "page": page, "page_size": size})
}

// GetOrder returns any order
func (h *OrderHandler) GetOrder(c *gin.Context) {
	orderID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	o, err := h.orders.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

// CompleteOrder marks a PENDING order paid and runs the reward pass
func (h *OrderHandler) CompleteOrder(c *gin.Context) {
	orderID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	result, err := h.rewards.ProcessOrderRewards(c.Request.Context(), orderID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// CancelOrder cancels any PENDING order
func (h *OrderHandler) CancelOrder(c *gin.Context) {
	orderID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	h.cancel(c, orderID)
}

func (h *OrderHandler) cancel(c *gin.Context, orderID uuid.UUID) {
	o, err := h.orders.CancelOrder(c.Request.Context(), orderID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}
