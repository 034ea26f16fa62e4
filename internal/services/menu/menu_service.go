package menu

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/u9rzm/barinya-bot/internal/apperrors"
	"github.com/u9rzm/barinya-bot/internal/models"
	"gorm.io/gorm"
)

// ItemInput describes a new menu item
type ItemInput struct {
	Name        string          `json:"name" binding:"required"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	Price       decimal.Decimal `json:"price"`
}

// ItemUpdate carries the fields to change; nil fields are left alone
type ItemUpdate struct {
	Name        *string          `json:"name"`
	Description *string          `json:"description"`
	Category    *string          `json:"category"`
	Price       *decimal.Decimal `json:"price"`
	IsAvailable *bool            `json:"is_available"`
}

// Category groups the menu for display
type Category struct {
	Name  string            `json:"name"`
	Items []models.MenuItem `json:"items"`
}

// MenuService manages the bar menu
type MenuService struct {
	db *gorm.DB
}

// NewMenuService creates a new menu service
func NewMenuService(db *gorm.DB) *MenuService {
	return &MenuService{db: db}
}

// GetMenu returns the menu grouped by category, in category then name order
func (s *MenuService) GetMenu(ctx context.Context, availableOnly bool) ([]Category, error) {
	const op = "menu.GetMenu"

	query := s.db.WithContext(ctx).Order("category ASC").Order("name ASC")
	if availableOnly {
		query = query.Where("is_available = ?", true)
	}

	var items []models.MenuItem
	if err := query.Find(&items).Error; err != nil {
		return nil, apperrors.FromDB(op, err)
	}

	var categories []Category
	for _, item := range items {
		if n := len(categories); n == 0 || categories[n-1].Name != item.Category {
			categories = append(categories, Category{Name: item.Category})
		}
		last := &categories[len(categories)-1]
		last.Items = append(last.Items, item)
	}
	return categories, nil
}

// GetMenuItem returns one menu item
func (s *MenuService) GetMenuItem(ctx context.Context, id uuid.UUID) (*models.MenuItem, error) {
	const op = "menu.GetMenuItem"

	var item models.MenuItem
	if err := s.db.WithContext(ctx).First(&item, "id = ?", id).Error; err != nil {
		if apperrors.IsNotFound(apperrors.FromDB(op, err)) {
			return nil, apperrors.NotFound(op, "menu item %s not found", id)
		}
		return nil, apperrors.FromDB(op, err)
	}
	return &item, nil
}

// CreateMenuItem adds an available item to the menu
func (s *MenuService) CreateMenuItem(ctx context.Context, input ItemInput) (*models.MenuItem, error) {
	const op = "menu.CreateMenuItem"

	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, apperrors.InvalidInput(op, "name is required")
	}
	if !input.Price.IsPositive() {
		return nil, apperrors.InvalidInput(op, "price must be positive")
	}

	item := &models.MenuItem{
		Name:        name,
		Description: input.Description,
		Category:    strings.TrimSpace(input.Category),
		Price:       input.Price.Round(2),
		IsAvailable: true,
	}
	if err := s.db.WithContext(ctx).Create(item).Error; err != nil {
		return nil, apperrors.FromDB(op, fmt.Errorf("error creating menu item: %w", err))
	}
	return item, nil
}

// UpdateMenuItem changes the given fields. Past orders keep their snapshot price.
func (s *MenuService) UpdateMenuItem(ctx context.Context, id uuid.UUID, update ItemUpdate) (*models.MenuItem, error) {
	const op = "menu.UpdateMenuItem"

	item, err := s.GetMenuItem(ctx, id)
	if err != nil {
		return nil, err
	}

	changes := map[string]interface{}{}
	if update.Name != nil {
		name := strings.TrimSpace(*update.Name)
		if name == "" {
			return nil, apperrors.InvalidInput(op, "name is required")
		}
		changes["name"] = name
	}
	if update.Description != nil {
		changes["description"] = *update.Description
	}
	if update.Category != nil {
		changes["category"] = strings.TrimSpace(*update.Category)
	}
	if update.Price != nil {
		if !update.Price.IsPositive() {
			return nil, apperrors.InvalidInput(op, "price must be positive")
		}
		changes["price"] = update.Price.Round(2)
	}
	if update.IsAvailable != nil {
		changes["is_available"] = *update.IsAvailable
	}
	if len(changes) == 0 {
		return item, nil
	}

	if err := s.db.WithContext(ctx).Model(item).Updates(changes).Error; err != nil {
		return nil, apperrors.FromDB(op, fmt.Errorf("error updating menu item: %w", err))
	}
	return s.GetMenuItem(ctx, id)
}

// DeleteMenuItem removes an item from the menu
func (s *MenuService) DeleteMenuItem(ctx context.Context, id uuid.UUID) error {
	const op = "menu.DeleteMenuItem"

	result := s.db.WithContext(ctx).Delete(&models.MenuItem{}, "id = ?", id)
	if result.Error != nil {
		return apperrors.FromDB(op, result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.NotFound(op, "menu item %s not found", id)
	}
	return nil
}
