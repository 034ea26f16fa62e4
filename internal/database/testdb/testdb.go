// Package testdb opens migrated in-memory SQLite databases for service tests.
package testdb

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/u9rzm/barinya-bot/internal/database"
	"github.com/u9rzm/barinya-bot/internal/database/migrations"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// New returns a fresh database with the full schema and the default tiers.
// Each call gets its own named in-memory database; a single connection keeps
// transactions serialized the way row locks would on Postgres.
func New(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=0", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), database.GormConfig("silent"))
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, migrations.RunMigrations(db))

	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	return db
}
