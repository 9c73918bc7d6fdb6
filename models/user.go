package models

import (
	"time"

	"gorm.io/gorm"
)

// User represents an OAuth-authenticated account together with its check-in counters.
// The counters are only written by the check-in engine.
type User struct {
	ID                  uint           `gorm:"primaryKey" json:"id"`
	Username            string         `gorm:"size:64;not null;uniqueIndex" json:"username"`
	Email               string         `gorm:"size:255" json:"email"`
	Provider            string         `gorm:"size:32;index:idx_users_provider" json:"provider"`
	ProviderID          string         `gorm:"size:255;index:idx_users_provider" json:"provider_id"`
	AvatarURL           string         `gorm:"size:512" json:"avatar_url"`
	CurrentLevel        int            `gorm:"not null;default:1" json:"current_level"`
	Experience          int64          `gorm:"not null;default:0" json:"experience"`
	TotalCheckins       int            `gorm:"not null;default:0" json:"total_checkins"`
	ConsecutiveCheckins int            `gorm:"not null;default:0" json:"consecutive_checkins"`
	MaxConsecutive      int            `gorm:"not null;default:0" json:"max_consecutive"`
	LastCheckinDate     *Date          `json:"last_checkin_date"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
	DeletedAt           gorm.DeletedAt `gorm:"index" json:"-"`
}

// BeforeCreate fills defaults that a zero-valued struct would otherwise persist.
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.CurrentLevel < 1 {
		u.CurrentLevel = 1
	}
	return nil
}
