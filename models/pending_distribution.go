package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PendingDistribution is a code owed to a user whose check-in found the inventory empty.
// Entries are fulfilled oldest first.
type PendingDistribution struct {
	ID             uint            `gorm:"primaryKey" json:"id"`
	UserID         uint            `gorm:"not null;index" json:"user_id"`
	CheckInID      uint            `gorm:"not null;uniqueIndex" json:"check_in_id"`
	CheckinDate    Date            `gorm:"not null" json:"checkin_date"`
	Amount         decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"amount"`
	Resolved       bool            `gorm:"not null;default:false;index:idx_pending_queue,priority:1" json:"resolved"`
	ResolvedCodeID *uint           `json:"resolved_code_id"`
	ResolvedAt     *time.Time      `json:"resolved_at"`
	CreatedAt      time.Time       `gorm:"index:idx_pending_queue,priority:2" json:"created_at"`
}

// AllModels lists every table managed by AutoMigrate.
func AllModels() []interface{} {
	return []interface{}{&User{}, &CheckIn{}, &RedemptionCode{}, &PendingDistribution{}}
}
