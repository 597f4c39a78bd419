// Package testutil opens throwaway databases for package tests.
package testutil

import (
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	accountdomain "github.com/smallbiznis/yardcraft/internal/account/domain"
	"github.com/smallbiznis/yardcraft/internal/migration"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// NewDB returns a private in-memory sqlite database with the full schema.
// The pool holds one connection, so concurrent transactions queue the way
// row locks would serialize them on Postgres.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()

	conn, err := gorm.Open(sqlite.Open(":memory:?_pragma=foreign_keys(1)"), &gorm.Config{
		Logger:         gormlogger.Discard,
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)

	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetConnMaxLifetime(0)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, migration.AutoMigrate(conn))
	return conn
}

func NewNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return node
}

// SeedAccount inserts an account with no funding unless mutate adds some.
func SeedAccount(t *testing.T, conn *gorm.DB, node *snowflake.Node, mutate func(*accountdomain.Account)) accountdomain.Account {
	t.Helper()
	now := time.Now().UTC()
	id := node.Generate()
	account := accountdomain.Account{
		ID:                 id,
		ExternalID:         "user-" + id.String(),
		Email:              id.String() + "@example.com",
		TrialGrant:         3,
		SubscriptionStatus: accountdomain.SubscriptionInactive,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if mutate != nil {
		mutate(&account)
	}
	require.NoError(t, conn.Create(&account).Error)
	return account
}

// ReloadAccount reads the current row.
func ReloadAccount(t *testing.T, conn *gorm.DB, id snowflake.ID) accountdomain.Account {
	t.Helper()
	var account accountdomain.Account
	require.NoError(t, conn.First(&account, "id = ?", id).Error)
	return account
}
