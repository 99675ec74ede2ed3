// Package dbtest opens migrated in-memory databases for tests.
package dbtest

import (
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/bitu-idm/dirsync/internal/db/models"
)

// Open returns an in-memory sqlite database with every model migrated.
// The pool is limited to one connection so all queries see the same database.
func Open(t testing.TB) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err, "failed to create test database")

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(models.All()...), "failed to migrate test database")

	t.Cleanup(func() { _ = sqlDB.Close() })

	return db
}

// User creates an active user.
func User(t testing.TB, db *gorm.DB, username string) *models.User {
	t.Helper()

	u := &models.User{Username: username, Email: username + "@example.org", Active: true}
	require.NoError(t, db.Create(u).Error)

	return u
}
