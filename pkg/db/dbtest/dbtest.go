// Package dbtest provides in-memory sqlite databases migrated with every model.
package dbtest

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/smmhub-backend/pkg/db/models"
)

// New opens an isolated shared-cache sqlite database, migrates every model and
// seeds the default member tiers. A single connection keeps writers serialised.
func New(t testing.TB) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:smmhub_%s?mode=memory&cache=shared", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := conn.AutoMigrate(models.All()...); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	for _, lvl := range DefaultMemberLevels() {
		if err := conn.Create(&lvl).Error; err != nil {
			t.Fatalf("seed member level %d: %v", lvl.Level, err)
		}
	}
	return conn
}

// DefaultMemberLevels mirrors the seed rows of the member_levels migration.
func DefaultMemberLevels() []models.MemberLevel {
	return []models.MemberLevel{
		{Level: 1, Name: "普通会员", CashbackRate: decimal.RequireFromString("0.02")},
		{Level: 2, Name: "VIP会员", CashbackRate: decimal.RequireFromString("0.10")},
		{Level: 3, Name: "钻石会员", CashbackRate: decimal.RequireFromString("0.15")},
		{Level: 4, Name: "至尊会员", CashbackRate: decimal.RequireFromString("0.20")},
	}
}

// UserOption mutates a user before it is inserted.
type UserOption func(*models.User)

func WithBalance(amount string) UserOption {
	return func(u *models.User) { u.Balance = decimal.RequireFromString(amount) }
}

func WithMemberLevel(level int) UserOption {
	return func(u *models.User) { u.MemberLevel = level }
}

func WithInviter(inviter uuid.UUID) UserOption {
	return func(u *models.User) { u.InviterID = &inviter }
}

func AsAgent(level int) UserOption {
	return func(u *models.User) {
		u.IsAgent = true
		u.AgentLevel = level
	}
}

func WithOwnRates(direct, indirect string) UserOption {
	return func(u *models.User) {
		u.DirectCommissionRate = decimal.RequireFromString(direct)
		u.IndirectCommissionRate = decimal.RequireFromString(indirect)
	}
}

// SeedUser inserts an active user with zeroed totals.
func SeedUser(t testing.TB, db *gorm.DB, opts ...UserOption) models.User {
	t.Helper()
	id := uuid.New()
	user := models.User{
		ID:           id,
		Email:        id.String() + "@example.test",
		Username:     "user-" + id.String()[:8],
		PasswordHash: "x",
		IsActive:     true,
		MemberLevel:  1,
	}
	for _, opt := range opts {
		opt(&user)
	}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return user
}

// ReloadUser fetches the current row for id.
func ReloadUser(t testing.TB, db *gorm.DB, id uuid.UUID) models.User {
	t.Helper()
	var user models.User
	if err := db.First(&user, "id = ?", id).Error; err != nil {
		t.Fatalf("reload user %s: %v", id, err)
	}
	return user
}
