// Package testutil holds helpers shared by package tests.
package testutil

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"agrivest/internal/models"
)

// NewTestDB opens a private in-memory database with the full schema. A single
// connection is kept open so concurrent callers queue on it, which gives the
// serialised transaction semantics the ledgers rely on.
func NewTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=busy_timeout(5000)", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err, "failed to open test database")

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, models.AutoMigrate(db), "failed to migrate test database")

	t.Cleanup(func() {
		sqlDB.Close()
	})
	return db
}

// SeedProject inserts an active project with settlement accounts.
func SeedProject(t *testing.T, db *gorm.DB, name string) *models.Project {
	t.Helper()
	p := &models.Project{
		Name:            name,
		Status:          models.ProjectStatusActive,
		Currency:        "USD",
		RevenueAccount:  name + "-revenue",
		TreasuryAccount: "treasury",
		LpPoolAccount:   "lp-pool",
	}
	require.NoError(t, db.Create(p).Error)
	return p
}

// Dec parses a decimal literal, failing the test on bad input.
func Dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	v, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return v
}
