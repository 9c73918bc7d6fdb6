package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cppla/checkin/models"
)

// ResultStatus is the outcome reported to the caller of CheckIn.
type ResultStatus string

const (
	StatusCompleted           ResultStatus = "COMPLETED"
	StatusPendingDistribution ResultStatus = "PENDING_DISTRIBUTION"
	StatusAlreadyCheckedIn    ResultStatus = "ALREADY_CHECKED_IN"
)

const defaultMaxRetries = 3

// CheckInResult is returned for every successful call, including repeats on the same day.
type CheckInResult struct {
	Status           ResultStatus    `json:"status"`
	CheckinDate      models.Date     `json:"checkin_date"`
	ExperienceGained int             `json:"experience_gained"`
	ConsecutiveDays  int             `json:"consecutive_days"`
	Reward           Reward          `json:"reward"`
	Code             *string         `json:"code"`
	CodeAmount       decimal.Decimal `json:"code_amount"`
	LevelUp          *LevelUp        `json:"level_up,omitempty"`
	CurrentLevel     int             `json:"current_level"`
	TotalExperience  int64           `json:"total_experience"`
}

// EngineOptions configures a CheckInEngine.
type EngineOptions struct {
	Policy     RewardPolicy
	Levels     LevelTable
	Location   *time.Location
	Inventory  *Inventory
	MaxRetries int
	Logger     *zap.Logger
}

// CheckInEngine allocates daily rewards. It keeps no per-request state; all
// coordination between concurrent callers happens in the database.
type CheckInEngine struct {
	db         *gorm.DB
	policy     RewardPolicy
	levels     LevelTable
	loc        *time.Location
	inventory  *Inventory
	maxRetries int
	log        *zap.Logger
}

// NewCheckInEngine validates the options and returns an engine bound to db.
func NewCheckInEngine(db *gorm.DB, opts EngineOptions) (*CheckInEngine, error) {
	if err := opts.Policy.Validate(); err != nil {
		return nil, err
	}
	if len(opts.Levels) == 0 {
		opts.Levels = DefaultLevelTable()
	}
	if err := opts.Levels.Validate(); err != nil {
		return nil, err
	}
	if opts.Location == nil {
		opts.Location = ReportingLocation(8 * 3600)
	}
	if opts.Inventory == nil {
		opts.Inventory = &Inventory{}
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &CheckInEngine{
		db:         db,
		policy:     opts.Policy,
		levels:     opts.Levels,
		loc:        opts.Location,
		inventory:  opts.Inventory,
		maxRetries: opts.MaxRetries,
		log:        opts.Logger,
	}, nil
}

// ReportingLocation returns a fixed zone at the given UTC offset in seconds.
func ReportingLocation(offsetSeconds int) *time.Location {
	sign := "+"
	off := offsetSeconds
	if off < 0 {
		sign = "-"
		off = -off
	}
	return time.FixedZone(fmt.Sprintf("UTC%s%02d:%02d", sign, off/3600, (off%3600)/60), offsetSeconds)
}

// Location is the reporting time zone used for calendar days.
func (e *CheckInEngine) Location() *time.Location { return e.loc }

// Levels exposes the level table for read-only projections.
func (e *CheckInEngine) Levels() LevelTable { return e.levels }

// Today returns the reporting-zone calendar day of now.
func (e *CheckInEngine) Today(now time.Time) models.Date {
	return models.DateOf(now, e.loc)
}

// CheckIn performs at most one allocation per user per calendar day.
// Repeated calls on the same day return the stored result with StatusAlreadyCheckedIn.
// Transient conflicts are replayed with the same inputs; when they persist
// ErrCheckInBusy is returned and nothing has been written.
func (e *CheckInEngine) CheckIn(ctx context.Context, userID uint, now time.Time) (*CheckInResult, error) {
	today := e.Today(now)
	var lastErr error
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := e.attempt(ctx, userID, today, now)
		if err == nil {
			return res, nil
		}
		if !isTransient(err) {
			return nil, err
		}
		lastErr = err
		e.log.Warn("check-in attempt conflicted, retrying",
			zap.Uint("user_id", userID),
			zap.String("date", today.String()),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}
	return nil, fmt.Errorf("%w: %v", ErrCheckInBusy, lastErr)
}

func (e *CheckInEngine) attempt(ctx context.Context, userID uint, today models.Date, now time.Time) (*CheckInResult, error) {
	db := e.db.WithContext(ctx)

	// cheap path for the common repeat call; the transaction below re-checks
	if existing, err := e.findRecord(db, userID, today); err != nil {
		return nil, err
	} else if existing != nil {
		return e.alreadyResult(db, existing)
	}

	var result *CheckInResult
	var already *models.CheckIn
	err := db.Transaction(func(tx *gorm.DB) error {
		var user models.User
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&user, userID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return fmt.Errorf("lock user: %w", err)
		}
		if err := validateUserState(&user); err != nil {
			return err
		}

		existing, err := e.findRecord(tx, userID, today)
		if err != nil {
			return err
		}
		if existing != nil {
			already = existing
			return nil
		}

		consecutive := ComputeStreak(user.LastCheckinDate, today, user.ConsecutiveCheckins)
		reward := e.policy.Compute(consecutive, user.CurrentLevel)

		code, err := e.inventory.TryClaim(ctx, tx, ClaimRequest{
			UserID:    userID,
			MinAmount: reward.CodeAmount,
			Type:      models.DistributionCheckin,
			At:        now,
		})
		if err != nil {
			return err
		}

		newExp := user.Experience + int64(reward.TotalExp)
		levelUp := CheckLevelUp(user.CurrentLevel, newExp, e.levels)
		newLevel := user.CurrentLevel
		if levelUp != nil {
			newLevel = levelUp.To
		}

		record := models.CheckIn{
			UserID:          userID,
			CheckinDate:     today,
			ConsecutiveDays: consecutive,
			BaseExp:         reward.BaseExp,
			LevelBonusExp:   reward.LevelBonusExp,
			StreakBonusExp:  reward.StreakBonusExp,
			TotalExp:        reward.TotalExp,
			CodeAmount:      reward.CodeAmount,
			Status:          models.CheckInPendingDistribution,
			LevelBefore:     user.CurrentLevel,
			LevelAfter:      newLevel,
			CreatedAt:       now,
		}
		if code != nil {
			record.Status = models.CheckInCompleted
			record.CodeID = &code.ID
			record.Code = &code.Code
		}
		// the unique (user_id, checkin_date) index rejects a concurrent duplicate here
		if err := tx.Create(&record).Error; err != nil {
			return fmt.Errorf("insert check-in: %w", err)
		}

		if code == nil {
			pending := models.PendingDistribution{
				UserID:      userID,
				CheckInID:   record.ID,
				CheckinDate: today,
				Amount:      reward.CodeAmount,
				CreatedAt:   now,
			}
			if err := tx.Create(&pending).Error; err != nil {
				return fmt.Errorf("insert pending distribution: %w", err)
			}
		}

		maxConsecutive := user.MaxConsecutive
		if consecutive > maxConsecutive {
			maxConsecutive = consecutive
		}
		if err := tx.Model(&models.User{}).Where("id = ?", userID).Updates(map[string]interface{}{
			"experience":           newExp,
			"total_checkins":       user.TotalCheckins + 1,
			"consecutive_checkins": consecutive,
			"max_consecutive":      maxConsecutive,
			"last_checkin_date":    today,
			"current_level":        newLevel,
			"updated_at":           now,
		}).Error; err != nil {
			return fmt.Errorf("update user counters: %w", err)
		}

		result = &CheckInResult{
			Status:           StatusCompleted,
			CheckinDate:      today,
			ExperienceGained: reward.TotalExp,
			ConsecutiveDays:  consecutive,
			Reward:           reward,
			Code:             record.Code,
			CodeAmount:       reward.CodeAmount,
			LevelUp:          levelUp,
			CurrentLevel:     newLevel,
			TotalExperience:  newExp,
		}
		if code == nil {
			result.Status = StatusPendingDistribution
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if already != nil {
		return e.alreadyResult(db, already)
	}

	fields := []zap.Field{
		zap.Uint("user_id", userID),
		zap.String("date", today.String()),
		zap.String("status", string(result.Status)),
		zap.Int("consecutive", result.ConsecutiveDays),
		zap.Int("exp", result.ExperienceGained),
		zap.String("amount", result.CodeAmount.StringFixed(2)),
	}
	if result.LevelUp != nil {
		fields = append(fields, zap.Int("level_from", result.LevelUp.From), zap.Int("level_to", result.LevelUp.To))
	}
	if result.Status == StatusPendingDistribution {
		e.log.Warn("inventory empty, check-in recorded as pending distribution", fields...)
	} else {
		e.log.Info("check-in completed", fields...)
	}
	return result, nil
}

func validateUserState(u *models.User) error {
	if u.CurrentLevel < 1 || u.Experience < 0 || u.TotalCheckins < 0 ||
		u.ConsecutiveCheckins < 0 || u.MaxConsecutive < 0 {
		return fmt.Errorf("%w: user %d", ErrCorruptUserState, u.ID)
	}
	return nil
}

func (e *CheckInEngine) findRecord(db *gorm.DB, userID uint, day models.Date) (*models.CheckIn, error) {
	var rec models.CheckIn
	err := db.Where("user_id = ? AND checkin_date = ?", userID, day).Take(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load check-in: %w", err)
	}
	return &rec, nil
}

// resolvedCode returns the code attached to a record, following a fulfilled
// pending entry when the record was written without one.
func resolvedCode(db *gorm.DB, rec *models.CheckIn) (*string, error) {
	if rec.Code != nil {
		return rec.Code, nil
	}
	var p models.PendingDistribution
	err := db.Where("check_in_id = ? AND resolved = ?", rec.ID, true).Take(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if p.ResolvedCodeID == nil {
		return nil, nil
	}
	var code models.RedemptionCode
	if err := db.Select("code").Take(&code, *p.ResolvedCodeID).Error; err != nil {
		return nil, err
	}
	return &code.Code, nil
}

func (e *CheckInEngine) alreadyResult(db *gorm.DB, rec *models.CheckIn) (*CheckInResult, error) {
	code, err := resolvedCode(db, rec)
	if err != nil {
		return nil, fmt.Errorf("resolve code for check-in %d: %w", rec.ID, err)
	}
	var user models.User
	if err := db.Select("id", "current_level", "experience").Take(&user, rec.UserID).Error; err != nil {
		return nil, fmt.Errorf("load user %d: %w", rec.UserID, err)
	}
	res := &CheckInResult{
		Status:           StatusAlreadyCheckedIn,
		CheckinDate:      rec.CheckinDate,
		ExperienceGained: rec.TotalExp,
		ConsecutiveDays:  rec.ConsecutiveDays,
		Reward: Reward{
			BaseExp:        rec.BaseExp,
			LevelBonusExp:  rec.LevelBonusExp,
			StreakBonusExp: rec.StreakBonusExp,
			TotalExp:       rec.TotalExp,
			CodeAmount:     rec.CodeAmount,
		},
		Code:            code,
		CodeAmount:      rec.CodeAmount,
		CurrentLevel:    user.CurrentLevel,
		TotalExperience: user.Experience,
	}
	if rec.LevelAfter > rec.LevelBefore {
		res.LevelUp = &LevelUp{From: rec.LevelBefore, To: rec.LevelAfter}
	}
	return res, nil
}
