package order

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/u9rzm/barinya-bot/internal/apperrors"
	"github.com/u9rzm/barinya-bot/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ItemRequest is one line of a new order
type ItemRequest struct {
	MenuItemID uuid.UUID `json:"menu_item_id" binding:"required"`
	Quantity   int       `json:"quantity" binding:"required,min=1"`
}

// OrderService creates and cancels orders. Completion belongs to the reward pass.
type OrderService struct {
	db *gorm.DB
}

// NewOrderService creates a new order service
func NewOrderService(db *gorm.DB) *OrderService {
	return &OrderService{db: db}
}

// CreateOrder places a PENDING order, snapshotting current menu prices
func (s *OrderService) CreateOrder(ctx context.Context, userID uuid.UUID, items []ItemRequest) (*models.Order, error) {
	const op = "order.CreateOrder"

	if len(items) == 0 {
		return nil, apperrors.InvalidInput(op, "order must contain at least one item")
	}
	ids := make([]uuid.UUID, 0, len(items))
	for _, item := range items {
		if item.Quantity < 1 {
			return nil, apperrors.InvalidInput(op, "quantity for menu item %s must be at least 1", item.MenuItemID)
		}
		ids = append(ids, item.MenuItemID)
	}

	var order *models.Order
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user models.User
		if err := tx.Select("id", "is_active").First(&user, "id = ?", userID).Error; err != nil {
			if apperrors.IsNotFound(apperrors.FromDB(op, err)) {
				return apperrors.NotFound(op, "user %s not found", userID)
			}
			return apperrors.FromDB(op, err)
		}
		if !user.IsActive {
			return apperrors.InvalidState(op, "user %s is not active", userID)
		}

		var menuItems []models.MenuItem
		if err := tx.Where("id IN ?", ids).Find(&menuItems).Error; err != nil {
			return apperrors.FromDB(op, err)
		}
		byID := make(map[uuid.UUID]models.MenuItem, len(menuItems))
		for _, m := range menuItems {
			byID[m.ID] = m
		}

		lines := make([]models.OrderItem, 0, len(items))
		total := decimal.Zero
		for _, item := range items {
			menuItem, ok := byID[item.MenuItemID]
			if !ok {
				return apperrors.NotFound(op, "menu item %s not found", item.MenuItemID)
			}
			if !menuItem.IsAvailable {
				return apperrors.InvalidState(op, "menu item %q is not available", menuItem.Name)
			}
			line := models.OrderItem{
				MenuItemID: menuItem.ID,
				Name:       menuItem.Name,
				UnitPrice:  menuItem.Price,
				Quantity:   item.Quantity,
			}
			total = total.Add(line.Subtotal())
			lines = append(lines, line)
		}
		if !total.IsPositive() {
			return apperrors.InvalidInput(op, "order amount must be greater than zero")
		}

		order = &models.Order{
			UserID:      userID,
			TotalAmount: total,
			Status:      models.OrderStatusPending,
			Items:       lines,
		}
		if err := tx.Create(order).Error; err != nil {
			return apperrors.FromDB(op, fmt.Errorf("error creating order: %w", err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[Orders] user %s placed order %s for %s", userID, order.ID, order.TotalAmount)
	return order, nil
}

// CancelOrder moves a PENDING order to CANCELLED
func (s *OrderService) CancelOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	const op = "order.CancelOrder"

	var order models.Order
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&order, "id = ?", orderID).Error; err != nil {
			if apperrors.IsNotFound(apperrors.FromDB(op, err)) {
				return apperrors.NotFound(op, "order %s not found", orderID)
			}
			return apperrors.FromDB(op, err)
		}
		if order.Status != models.OrderStatusPending {
			return apperrors.InvalidState(op, "order %s is %s and cannot be cancelled", orderID, order.Status)
		}

		now := time.Now().UTC()
		order.Status = models.OrderStatusCancelled
		order.CancelledAt = &now
		return apperrors.FromDB(op, tx.Model(&order).Updates(map[string]interface{}{
			"status":       models.OrderStatusCancelled,
			"cancelled_at": now,
		}).Error)
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[Orders] order %s cancelled", orderID)
	return &order, nil
}

// GetOrder returns an order with its lines
func (s *OrderService) GetOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	const op = "order.GetOrder"

	var order models.Order
	if err := s.db.WithContext(ctx).Preload("Items").First(&order, "id = ?", orderID).Error; err != nil {
		if apperrors.IsNotFound(apperrors.FromDB(op, err)) {
			return nil, apperrors.NotFound(op, "order %s not found", orderID)
		}
		return nil, apperrors.FromDB(op, err)
	}
	return &order, nil
}

// GetUserOrders returns a page of the user's orders, newest first
func (s *OrderService) GetUserOrders(ctx context.Context, userID uuid.UUID, page, pageSize int) ([]models.Order, int64, error) {
	return s.list(ctx, "order.GetUserOrders", func(db *gorm.DB) *gorm.DB {
		return db.Where("user_id = ?", userID)
	}, page, pageSize)
}

// ListOrders returns a page of all orders, optionally filtered by status
func (s *OrderService) ListOrders(ctx context.Context, status models.OrderStatus, page, pageSize int) ([]models.Order, int64, error) {
	return s.list(ctx, "order.ListOrders", func(db *gorm.DB) *gorm.DB {
		if status == "" {
			return db
		}
		return db.Where("status = ?", status)
	}, page, pageSize)
}

func (s *OrderService) list(ctx context.Context, op string, scope func(*gorm.DB) *gorm.DB, page, pageSize int) ([]models.Order, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}

	db := s.db.WithContext(ctx)
	var total int64
	if err := db.Model(&models.Order{}).Scopes(scope).Count(&total).Error; err != nil {
		return nil, 0, apperrors.FromDB(op, err)
	}

	var orders []models.Order
	if err := db.Scopes(scope).
		Preload("Items").
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&orders).Error; err != nil {
		return nil, 0, apperrors.FromDB(op, err)
	}
	return orders, total, nil
}
