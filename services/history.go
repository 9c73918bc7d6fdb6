package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/cppla/checkin/models"
)

// History serves the per-user read projections: owned codes, past check-ins
// and the month calendar.
type History struct {
	db  *gorm.DB
	loc *time.Location
}

func NewHistory(db *gorm.DB, loc *time.Location) *History {
	if loc == nil {
		loc = time.UTC
	}
	return &History{db: db, loc: loc}
}

// UserCodeQuery filters ListUserCodes.
type UserCodeQuery struct {
	Keyword  string
	Used     *bool
	Page     int
	PageSize int
}

// UserCode is a code as shown to its owner.
type UserCode struct {
	ID               uint                    `json:"id"`
	Code             string                  `json:"code"`
	Amount           decimal.Decimal         `json:"amount"`
	DistributionType models.DistributionType `json:"distribution_type"`
	DistributedAt    *time.Time              `json:"distributed_at"`
	IsUsed           bool                    `json:"is_used"`
	UsedAt           *time.Time              `json:"used_at"`
}

// ListUserCodes pages through codes distributed to userID, newest first.
func (h *History) ListUserCodes(ctx context.Context, userID uint, q UserCodeQuery) (Page[UserCode], error) {
	page, size := normalizePage(q.Page, q.PageSize)
	db := h.db.WithContext(ctx).Model(&models.RedemptionCode{}).Where("distributed_to = ?", userID)
	if kw := strings.TrimSpace(q.Keyword); kw != "" {
		db = codeContains(db, kw)
	}
	if q.Used != nil {
		db = db.Where("is_used = ?", *q.Used)
	}
	var total int64
	if err := db.Count(&total).Error; err != nil {
		return Page[UserCode]{}, err
	}
	var rows []models.RedemptionCode
	if err := db.Order("distributed_at DESC, id DESC").Offset((page - 1) * size).Limit(size).Find(&rows).Error; err != nil {
		return Page[UserCode]{}, err
	}
	items := make([]UserCode, 0, len(rows))
	for _, r := range rows {
		items = append(items, UserCode{
			ID:               r.ID,
			Code:             r.Code,
			Amount:           r.Amount,
			DistributionType: r.DistributionType,
			DistributedAt:    r.DistributedAt,
			IsUsed:           r.IsUsed,
			UsedAt:           r.UsedAt,
		})
	}
	return newPage(items, page, size, total), nil
}

// HistoryEntry is a past check-in with its effective code.
type HistoryEntry struct {
	models.CheckIn
	ResolvedCode *string `json:"resolved_code"`
}

// ListCheckIns pages through userID's check-ins, most recent day first.
func (h *History) ListCheckIns(ctx context.Context, userID uint, page, size int) (Page[HistoryEntry], error) {
	page, size = normalizePage(page, size)
	db := h.db.WithContext(ctx)
	q := db.Model(&models.CheckIn{}).Where("user_id = ?", userID)
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return Page[HistoryEntry]{}, err
	}
	var rows []models.CheckIn
	if err := q.Order("checkin_date DESC").Offset((page - 1) * size).Limit(size).Find(&rows).Error; err != nil {
		return Page[HistoryEntry]{}, err
	}
	items := make([]HistoryEntry, 0, len(rows))
	for i := range rows {
		code, err := resolvedCode(db, &rows[i])
		if err != nil {
			return Page[HistoryEntry]{}, fmt.Errorf("resolve code for check-in %d: %w", rows[i].ID, err)
		}
		items = append(items, HistoryEntry{CheckIn: rows[i], ResolvedCode: code})
	}
	return newPage(items, page, size, total), nil
}

// CalendarDay is one cell of the month view.
type CalendarDay struct {
	Date            models.Date          `json:"date"`
	CheckedIn       bool                 `json:"checked_in"`
	ConsecutiveDays int                  `json:"consecutive_days,omitempty"`
	TotalExp        int                  `json:"total_exp,omitempty"`
	Status          models.CheckInStatus `json:"status,omitempty"`
}

// MonthCalendar summarises one calendar month for a user.
type MonthCalendar struct {
	Year         int           `json:"year"`
	Month        int           `json:"month"`
	Days         []CalendarDay `json:"days"`
	CheckedDays  int           `json:"checked_days"`
	TotalExp     int           `json:"total_exp"`
	TotalAmount  string        `json:"total_amount"`
	LongestRun   int           `json:"longest_run"`
	IsCurrent    bool          `json:"is_current"`
	TodayChecked bool          `json:"today_checked"`
}

// MonthCalendar returns every day of the requested month with check-in marks.
func (h *History) MonthCalendar(ctx context.Context, userID uint, year int, month time.Month, now time.Time) (*MonthCalendar, error) {
	if month < time.January || month > time.December || year < 1970 || year > 9999 {
		return nil, fmt.Errorf("invalid month %04d-%02d", year, int(month))
	}
	first := models.NewDate(year, month, 1)
	last := first.LastOfMonth()

	var rows []models.CheckIn
	if err := h.db.WithContext(ctx).
		Where("user_id = ? AND checkin_date >= ? AND checkin_date <= ?", userID, first, last).
		Order("checkin_date ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load month check-ins: %w", err)
	}
	byDay := make(map[models.Date]models.CheckIn, len(rows))
	for _, r := range rows {
		byDay[r.CheckinDate] = r
	}

	today := models.DateOf(now, h.loc)
	cal := &MonthCalendar{
		Year:      year,
		Month:     int(month),
		IsCurrent: today.FirstOfMonth().Equal(first),
	}
	amount := decimal.Zero
	run := 0
	for d := first; !d.After(last); d = d.AddDays(1) {
		cell := CalendarDay{Date: d}
		if r, ok := byDay[d]; ok {
			cell.CheckedIn = true
			cell.ConsecutiveDays = r.ConsecutiveDays
			cell.TotalExp = r.TotalExp
			cell.Status = r.Status
			cal.CheckedDays++
			cal.TotalExp += r.TotalExp
			amount = amount.Add(r.CodeAmount)
			run++
			if run > cal.LongestRun {
				cal.LongestRun = run
			}
			if d.Equal(today) {
				cal.TodayChecked = true
			}
		} else {
			run = 0
		}
		cal.Days = append(cal.Days, cell)
	}
	cal.TotalAmount = amount.StringFixed(2)
	return cal, nil
}
