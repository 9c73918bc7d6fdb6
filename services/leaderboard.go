package services

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/cppla/checkin/models"
)

type LeaderboardKind string

const (
	LeaderboardStreak LeaderboardKind = "streak"
	LeaderboardTotal  LeaderboardKind = "total"
)

// LeaderboardEntry is one ranked user.
type LeaderboardEntry struct {
	Rank                int    `json:"rank"`
	UserID              uint   `json:"user_id"`
	Username            string `json:"username"`
	AvatarURL           string `json:"avatar_url"`
	CurrentLevel        int    `json:"current_level"`
	ConsecutiveCheckins int    `json:"consecutive_checkins"`
	TotalCheckins       int    `json:"total_checkins"`
}

// Leaderboard ranks users by live streak or lifetime check-ins.
// A stored streak only counts while the user checked in today or yesterday.
func Leaderboard(ctx context.Context, db *gorm.DB, kind LeaderboardKind, limit int, now time.Time, loc *time.Location) ([]LeaderboardEntry, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	q := db.WithContext(ctx).Model(&models.User{}).
		Select("id", "username", "avatar_url", "current_level", "consecutive_checkins", "total_checkins", "last_checkin_date")
	switch kind {
	case LeaderboardStreak:
		today := models.DateOf(now, loc)
		q = q.Where("consecutive_checkins > 0 AND last_checkin_date >= ?", today.AddDays(-1)).
			Order("consecutive_checkins DESC, total_checkins DESC, id ASC")
	case LeaderboardTotal:
		q = q.Where("total_checkins > 0").Order("total_checkins DESC, experience DESC, id ASC")
	default:
		return nil, fmt.Errorf("unknown leaderboard %q", kind)
	}
	var users []models.User
	if err := q.Limit(limit).Find(&users).Error; err != nil {
		return nil, err
	}
	out := make([]LeaderboardEntry, 0, len(users))
	for i, u := range users {
		out = append(out, LeaderboardEntry{
			Rank:                i + 1,
			UserID:              u.ID,
			Username:            u.Username,
			AvatarURL:           u.AvatarURL,
			CurrentLevel:        u.CurrentLevel,
			ConsecutiveCheckins: u.ConsecutiveCheckins,
			TotalCheckins:       u.TotalCheckins,
		})
	}
	return out, nil
}
