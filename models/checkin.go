package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// CheckInStatus is the terminal state of a (user, day) allocation.
type CheckInStatus string

const (
	CheckInCompleted           CheckInStatus = "completed"
	CheckInPendingDistribution CheckInStatus = "pending_distribution"
)

// CheckIn stores one daily check-in. A row is never updated after insert;
// the composite unique index is what guarantees one row per user per day.
type CheckIn struct {
	ID              uint            `gorm:"primaryKey" json:"id"`
	UserID          uint            `gorm:"not null;uniqueIndex:idx_checkins_user_date,priority:1" json:"user_id"`
	CheckinDate     Date            `gorm:"not null;uniqueIndex:idx_checkins_user_date,priority:2;index" json:"checkin_date"`
	ConsecutiveDays int             `gorm:"not null" json:"consecutive_days"`
	BaseExp         int             `gorm:"not null" json:"base_exp"`
	LevelBonusExp   int             `gorm:"not null" json:"level_bonus_exp"`
	StreakBonusExp  int             `gorm:"not null" json:"streak_bonus_exp"`
	TotalExp        int             `gorm:"not null" json:"total_exp"`
	CodeAmount      decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"code_amount"`
	CodeID          *uint           `json:"code_id"`
	Code            *string         `gorm:"size:64" json:"code"`
	Status          CheckInStatus   `gorm:"size:32;not null" json:"status"`
	LevelBefore     int             `gorm:"not null" json:"level_before"`
	LevelAfter      int             `gorm:"not null" json:"level_after"`
	CreatedAt       time.Time       `json:"created_at"`
}

// TableName pins the table name used by raw queries and indexes.
func (CheckIn) TableName() string {
	return "check_ins"
}
