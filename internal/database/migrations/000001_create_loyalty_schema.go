package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/u9rzm/barinya-bot/internal/models"
	"gorm.io/gorm"
)

// createLoyaltySchemaMigration creates the tiers, users, menu, orders and ledger tables
func createLoyaltySchemaMigration() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_loyalty_schema",
		Migrate: func(tx *gorm.DB) error {
			return tx.AutoMigrate(
				&models.Tier{},
				&models.User{},
				&models.MenuItem{},
				&models.Order{},
				&models.OrderItem{},
				&models.LedgerEntry{},
			)
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(
				&models.LedgerEntry{},
				&models.OrderItem{},
				&models.Order{},
				&models.MenuItem{},
				&models.User{},
				&models.Tier{},
			)
		},
	}
}

func init() {
	migrationsList = append(migrationsList, createLoyaltySchemaMigration())
}
