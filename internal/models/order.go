package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusCompleted OrderStatus = "COMPLETED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// Order is a bar order. It moves PENDING -> COMPLETED exactly once, through
// the reward pass, or PENDING -> CANCELLED.
type Order struct {
	Base
	UserID      uuid.UUID       `gorm:"type:uuid;not null;index" json:"user_id"`
	User        *User           `gorm:"foreignKey:UserID" json:"-"`
	TotalAmount decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"total_amount"`
	Status      OrderStatus     `gorm:"type:varchar(16);not null;default:'PENDING';index" json:"status"`
	Items       []OrderItem     `gorm:"foreignKey:OrderID" json:"items,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	CancelledAt *time.Time      `json:"cancelled_at,omitempty"`
}

// OrderItem snapshots the menu price at order time.
type OrderItem struct {
	Base
	OrderID    uuid.UUID       `gorm:"type:uuid;not null;index" json:"order_id"`
	MenuItemID uuid.UUID       `gorm:"type:uuid;not null" json:"menu_item_id"`
	Name       string          `gorm:"type:varchar(128);not null" json:"name"`
	UnitPrice  decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"unit_price"`
	Quantity   int             `gorm:"not null" json:"quantity"`
}

// Subtotal returns UnitPrice * Quantity.
func (i OrderItem) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}
