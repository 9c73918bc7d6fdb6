package controllers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/cppla/checkin/models"
	"github.com/cppla/checkin/services"
	"github.com/cppla/checkin/utils"
)

const leaderboardCachePrefix = "cache:leaderboard:"

// StatsController provides public counters and the leaderboards.
type StatsController struct {
	db       *gorm.DB
	engine   *services.CheckInEngine
	cacheTTL time.Duration
}

// NewStatsController creates a new StatsController instance.
func NewStatsController(db *gorm.DB, engine *services.CheckInEngine, cacheTTL time.Duration) *StatsController {
	return &StatsController{db: db, engine: engine, cacheTTL: cacheTTL}
}

// GetStats returns aggregate check-in statistics.
func (s *StatsController) GetStats(ctx *gin.Context) {
	db := s.db.WithContext(ctx.Request.Context())
	today := s.engine.Today(nowFunc())

	var userCount, todayCount, available int64
	// counters degrade to 0 instead of failing the whole endpoint
	if err := db.Model(&models.User{}).Count(&userCount).Error; err != nil {
		userCount = 0
	}
	if err := db.Model(&models.CheckIn{}).Where("checkin_date = ?", today).Count(&todayCount).Error; err != nil {
		todayCount = 0
	}
	if err := db.Model(&models.RedemptionCode{}).Where("is_distributed = ? AND is_used = ?", false, false).Count(&available).Error; err != nil {
		available = 0
	}

	utils.Success(ctx, gin.H{
		"user_count":       userCount,
		"today":            today,
		"today_checkins":   todayCount,
		"available_codes":  available,
		"reporting_offset": s.engine.Location().String(),
	})
}

// Leaderboard ranks users by ?by=streak (default) or ?by=total.
func (s *StatsController) Leaderboard(ctx *gin.Context) {
	kind := services.LeaderboardKind(ctx.DefaultQuery("by", string(services.LeaderboardStreak)))
	if kind != services.LeaderboardStreak && kind != services.LeaderboardTotal {
		utils.Error(ctx, http.StatusBadRequest, 40060, "by must be streak or total")
		return
	}

	now := nowFunc()
	key := leaderboardCachePrefix + string(kind) + ":" + s.engine.Today(now).String()
	var cached []services.LeaderboardEntry
	if utils.CacheGetJSON(key, &cached) {
		utils.Success(ctx, gin.H{"by": kind, "items": cached, "cached": true})
		return
	}

	items, err := services.Leaderboard(ctx.Request.Context(), s.db, kind, 20, now, s.engine.Location())
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50060, "failed to load leaderboard")
		return
	}
	utils.CacheSetJSON(key, items, s.cacheTTL)
	utils.Success(ctx, gin.H{"by": kind, "items": items, "cached": false})
}
