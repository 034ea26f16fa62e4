package models

import "time"

// Promotion is an offer announced to active members. It is active while
// StartDate <= now <= EndDate.
type Promotion struct {
	Base
	Title         string     `gorm:"type:varchar(255);not null" json:"title"`
	Description   string     `gorm:"type:text;not null" json:"description"`
	ImageURL      *string    `gorm:"type:varchar(500)" json:"image_url,omitempty"`
	StartDate     time.Time  `gorm:"not null;index" json:"start_date"`
	EndDate       time.Time  `gorm:"not null;index" json:"end_date"`
	BroadcastedAt *time.Time `json:"broadcasted_at,omitempty"`
}
