package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/cppla/checkin/models"
)

// CheckInStatus is the read-only view behind GET /checkin/status.
type CheckInStatus struct {
	Today               models.Date     `json:"today"`
	CheckedInToday      bool            `json:"checked_in_today"`
	Record              *models.CheckIn `json:"record,omitempty"`
	Code                *string         `json:"code"`
	CodePending         bool            `json:"code_pending"`
	CurrentLevel        int             `json:"current_level"`
	Experience          int64           `json:"experience"`
	NextLevelExp        *int64          `json:"next_level_exp"`
	TotalCheckins       int             `json:"total_checkins"`
	ConsecutiveCheckins int             `json:"consecutive_checkins"`
	MaxConsecutive      int             `json:"max_consecutive"`
	LastCheckinDate     *models.Date    `json:"last_checkin_date"`
	// StreakIfCheckedIn is what the streak would become after checking in today.
	StreakIfCheckedIn int `json:"streak_if_checked_in"`
}

// Status never writes. A streak that was broken yesterday is reported as 0
// because the stored counter is only corrected on the next check-in.
func (e *CheckInEngine) Status(ctx context.Context, userID uint, now time.Time) (*CheckInStatus, error) {
	db := e.db.WithContext(ctx)
	today := e.Today(now)

	var user models.User
	if err := db.First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("load user: %w", err)
	}

	st := &CheckInStatus{
		Today:               today,
		CurrentLevel:        user.CurrentLevel,
		Experience:          user.Experience,
		TotalCheckins:       user.TotalCheckins,
		ConsecutiveCheckins: user.ConsecutiveCheckins,
		MaxConsecutive:      user.MaxConsecutive,
		LastCheckinDate:     user.LastCheckinDate,
	}
	if next := e.levels.Next(user.CurrentLevel); next != nil {
		req := next.RequiredExp
		st.NextLevelExp = &req
	}

	rec, err := e.findRecord(db, userID, today)
	if err != nil {
		return nil, err
	}
	if rec != nil {
		st.CheckedInToday = true
		st.Record = rec
		st.StreakIfCheckedIn = rec.ConsecutiveDays
		if st.Code, err = resolvedCode(db, rec); err != nil {
			return nil, fmt.Errorf("resolve code: %w", err)
		}
		st.CodePending = st.Code == nil
		return st, nil
	}

	st.StreakIfCheckedIn = ComputeStreak(user.LastCheckinDate, today, user.ConsecutiveCheckins)
	if user.LastCheckinDate != nil && !user.LastCheckinDate.AddDays(1).Equal(today) {
		st.ConsecutiveCheckins = 0
	}
	return st, nil
}
