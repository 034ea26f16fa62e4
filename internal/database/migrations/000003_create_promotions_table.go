package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/u9rzm/barinya-bot/internal/models"
	"gorm.io/gorm"
)

// createPromotionsTableMigration creates the promotions table
func createPromotionsTableMigration() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_promotions_table",
		Migrate: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&models.Promotion{})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&models.Promotion{})
		},
	}
}

func init() {
	migrationsList = append(migrationsList, createPromotionsTableMigration())
}
