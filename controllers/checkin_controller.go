package controllers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cppla/checkin/services"
	"github.com/cppla/checkin/utils"
)

// CheckInController exposes the daily check-in and the per-user projections.
type CheckInController struct {
	engine  *services.CheckInEngine
	history *services.History
}

// NewCheckInController creates a new controller instance.
func NewCheckInController(engine *services.CheckInEngine, history *services.History) *CheckInController {
	return &CheckInController{engine: engine, history: history}
}

// DailyCheckIn records today's check-in and allocates the reward.
func (c *CheckInController) DailyCheckIn(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}

	res, err := c.engine.CheckIn(ctx.Request.Context(), userID, nowFunc())
	if err != nil {
		switch {
		case errors.Is(err, services.ErrUserNotFound):
			utils.Error(ctx, http.StatusNotFound, 40410, "user not found")
		case errors.Is(err, services.ErrCheckInBusy):
			utils.Error(ctx, http.StatusServiceUnavailable, 50330, "check-in is busy, please retry")
		case errors.Is(err, services.ErrCorruptUserState):
			utils.Sugar.Errorf("check-in refused for user %d: %v", userID, err)
			utils.Error(ctx, http.StatusInternalServerError, 50032, "user state is inconsistent")
		default:
			utils.Sugar.Errorf("check-in failed for user %d: %v", userID, err)
			utils.Error(ctx, http.StatusInternalServerError, 50030, "failed to record check-in")
		}
		return
	}

	switch res.Status {
	case services.StatusAlreadyCheckedIn:
		utils.Respond(ctx, http.StatusBadRequest, 40030, "already checked in today", res)
	case services.StatusPendingDistribution:
		utils.Respond(ctx, http.StatusOK, 0, "checked in, redemption code will be sent when stock is available", res)
	default:
		utils.Respond(ctx, http.StatusOK, 0, "check-in successful", res)
	}
}

// Status reports today's state without writing anything.
func (c *CheckInController) Status(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}
	st, err := c.engine.Status(ctx.Request.Context(), userID, nowFunc())
	if err != nil {
		if errors.Is(err, services.ErrUserNotFound) {
			utils.Error(ctx, http.StatusNotFound, 40410, "user not found")
			return
		}
		utils.Error(ctx, http.StatusInternalServerError, 50031, "failed to load check-in status")
		return
	}
	utils.Success(ctx, st)
}

// Calendar returns one month of check-ins; ?month=YYYY-MM, default current month.
func (c *CheckInController) Calendar(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}
	now := nowFunc()
	today := c.engine.Today(now)
	year, month := today.Year, today.Month
	if raw := strings.TrimSpace(ctx.Query("month")); raw != "" {
		t, err := time.Parse("2006-01", raw)
		if err != nil {
			utils.Error(ctx, http.StatusBadRequest, 40031, "month must be YYYY-MM")
			return
		}
		year, month = t.Year(), t.Month()
	}
	cal, err := c.history.MonthCalendar(ctx.Request.Context(), userID, year, month, now)
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50033, "failed to load calendar")
		return
	}
	utils.Success(ctx, cal)
}

// History pages through past check-ins.
func (c *CheckInController) History(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}
	page, size := pageParams(ctx)
	res, err := c.history.ListCheckIns(ctx.Request.Context(), userID, page, size)
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50034, "failed to load check-in history")
		return
	}
	utils.Success(ctx, res)
}

// MyCodes lists the caller's redemption codes with keyword and used filters.
func (c *CheckInController) MyCodes(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}
	page, size := pageParams(ctx)
	res, err := c.history.ListUserCodes(ctx.Request.Context(), userID, services.UserCodeQuery{
		Keyword:  ctx.Query("keyword"),
		Used:     optionalBool(ctx.Query("used")),
		Page:     page,
		PageSize: size,
	})
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50035, "failed to load codes")
		return
	}
	utils.Success(ctx, res)
}
