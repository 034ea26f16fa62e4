package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/shopspring/decimal"
	"github.com/u9rzm/barinya-bot/internal/models"
	"gorm.io/gorm"
)

// DefaultTiers is the tier ladder installed on an empty database.
var DefaultTiers = []models.Tier{
	{Name: "Bronze", Slug: "bronze", Threshold: decimal.Zero, PointsRate: decimal.NewFromInt(5), SortOrder: 0},
	{Name: "Silver", Slug: "silver", Threshold: decimal.NewFromInt(1000), PointsRate: decimal.NewFromInt(7), SortOrder: 1},
	{Name: "Gold", Slug: "gold", Threshold: decimal.NewFromInt(5000), PointsRate: decimal.NewFromInt(10), SortOrder: 2},
}

// seedDefaultTiersMigration installs DefaultTiers unless tiers already exist
func seedDefaultTiersMigration() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_seed_default_tiers",
		Migrate: func(tx *gorm.DB) error {
			var count int64
			if err := tx.Model(&models.Tier{}).Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				return nil
			}

			tiers := make([]models.Tier, len(DefaultTiers))
			copy(tiers, DefaultTiers)
			return tx.Create(&tiers).Error
		},
		Rollback: func(tx *gorm.DB) error {
			slugs := make([]string, 0, len(DefaultTiers))
			for _, t := range DefaultTiers {
				slugs = append(slugs, t.Slug)
			}
			return tx.Where("slug IN ?", slugs).Delete(&models.Tier{}).Error
		},
	}
}

func init() {
	migrationsList = append(migrationsList, seedDefaultTiersMigration())
}
