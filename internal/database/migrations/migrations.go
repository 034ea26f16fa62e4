package migrations

import (
	"log"
	"sort"

	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// migrationsList holds all migrations
var migrationsList []*gormigrate.Migration

// RunMigrations runs all database migrations
func RunMigrations(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, sortedMigrations())

	if err := m.Migrate(); err != nil {
		log.Printf("Could not migrate: %v", err)
		return err
	}
	log.Printf("Migrations ran successfully")
	return nil
}

// RollbackLast undoes the most recent migration
func RollbackLast(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, sortedMigrations())
	return m.RollbackLast()
}

// sortedMigrations orders migrations by ID regardless of file init order
func sortedMigrations() []*gormigrate.Migration {
	list := make([]*gormigrate.Migration, len(migrationsList))
	copy(list, migrationsList)
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}
