package models

import "github.com/shopspring/decimal"

// MenuItem is something a user can order.
type MenuItem struct {
	Base
	Name        string          `gorm:"type:varchar(128);not null" json:"name"`
	Description string          `gorm:"type:text" json:"description"`
	Category    string          `gorm:"type:varchar(64);index" json:"category"`
	Price       decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"price"`
	IsAvailable bool            `gorm:"not null;default:true" json:"is_available"`
}
