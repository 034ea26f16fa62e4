package models

import (
	"github.com/shopspring/decimal"
)

// Tier is a loyalty level. A user belongs to the tier with the highest
// Threshold not exceeding their cumulative spend. PointsRate is a percentage
// of the order total credited as points.
type Tier struct {
	Base
	Name       string          `gorm:"type:varchar(64);not null" json:"name"`
	Slug       string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"slug"`
	Threshold  decimal.Decimal `gorm:"type:decimal(20,2);uniqueIndex;not null" json:"threshold"`
	PointsRate decimal.Decimal `gorm:"type:decimal(5,2);not null" json:"points_rate"`
	SortOrder  int             `gorm:"not null;default:0" json:"sort_order"`
}
