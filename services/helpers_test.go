package services

import (
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/cppla/checkin/models"
)

// newTestDB opens a private in-memory database. A single connection keeps
// the schema alive and serialises transactions the way row locks would.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(models.AllModels()...); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func createUser(t *testing.T, db *gorm.DB, name string) *models.User {
	t.Helper()
	u := &models.User{Username: name, Provider: "github", ProviderID: name}
	if err := db.Create(u).Error; err != nil {
		t.Fatalf("create user %s: %v", name, err)
	}
	return u
}

func seedCodes(t *testing.T, db *gorm.DB, n int, amount string) []models.RedemptionCode {
	t.Helper()
	codes := make([]models.RedemptionCode, 0, n)
	for i := 0; i < n; i++ {
		codes = append(codes, models.RedemptionCode{
			Code:   fmt.Sprintf("SEED-%04d", i+1),
			Amount: decimal.RequireFromString(amount),
		})
	}
	if n > 0 {
		if err := db.Create(&codes).Error; err != nil {
			t.Fatalf("seed codes: %v", err)
		}
	}
	return codes
}

func newTestEngine(t *testing.T, db *gorm.DB, opts EngineOptions) *CheckInEngine {
	t.Helper()
	if opts.Policy.BaseExp == 0 && opts.Policy.AmountFloor.IsZero() {
		opts.Policy = DefaultRewardPolicy()
	}
	e, err := NewCheckInEngine(db, opts)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return e
}

func reloadUser(t *testing.T, db *gorm.DB, id uint) models.User {
	t.Helper()
	var u models.User
	if err := db.First(&u, id).Error; err != nil {
		t.Fatalf("reload user %d: %v", id, err)
	}
	return u
}

// at returns an instant on the given UTC+8 calendar day at noon.
func at(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 12, 0, 0, 0, ReportingLocation(8*3600)).UTC()
}
