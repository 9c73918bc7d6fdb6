package services

import "github.com/cppla/checkin/models"

// ComputeStreak returns the consecutive-day count after checking in on today.
// It continues the streak only when the previous check-in was exactly yesterday;
// a missing date, a gap, or a same-day call all start over at 1.
func ComputeStreak(last *models.Date, today models.Date, prior int) int {
	if last == nil || last.IsZero() {
		return 1
	}
	if last.AddDays(1).Equal(today) {
		return prior + 1
	}
	return 1
}
