package routes

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/cppla/checkin/config"
	"github.com/cppla/checkin/controllers"
	"github.com/cppla/checkin/middleware"
	"github.com/cppla/checkin/services"
	"github.com/cppla/checkin/utils"
)

// Deps are the services the HTTP layer is built on.
type Deps struct {
	DB          *gorm.DB
	Engine      *services.CheckInEngine
	History     *services.History
	Distributor *services.Distributor
	Exporter    *services.LedgerExporter
}

// SetupRouter wires routes, middlewares, and controllers.
func SetupRouter(d Deps) *gin.Engine {
	cfg := config.Get()
	switch strings.ToLower(cfg.GinMode) {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	gl, err := utils.NewRollingFileLogger(cfg.GinPath, cfg.LogLevel, cfg.LogMaxSizeMB, cfg.LogMaxBackups, cfg.LogMaxAgeDays, cfg.LogCompress)
	if err == nil {
		r.Use(ginzap.Ginzap(gl, time.RFC3339, true))
		r.Use(ginzap.RecoveryWithZap(gl, true))
	} else {
		utils.Sugar.Warnf("gin file logger unavailable, falling back to default recovery: %v", err)
		r.Use(gin.Recovery())
	}

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", middleware.AdminTokenHeader},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*" {
		corsCfg.AllowAllOrigins = true
		corsCfg.AllowCredentials = false
	} else {
		corsCfg.AllowOrigins = cfg.AllowedOrigins
	}
	r.Use(cors.New(corsCfg))

	r.GET("/health", func(ctx *gin.Context) {
		utils.Success(ctx, gin.H{"status": "ok"})
	})

	authController := controllers.NewAuthController(d.DB, d.Engine.Levels())
	checkinController := controllers.NewCheckInController(d.Engine, d.History)
	statsController := controllers.NewStatsController(d.DB, d.Engine, time.Duration(cfg.Checkin.LeaderboardCacheSec)*time.Second)
	adminController := controllers.NewAdminController(d.Distributor, d.Exporter, d.Engine)

	limiter := middleware.RateLimit(cfg.RateLimitPerMinute)

	api := r.Group("/api/v1")
	api.GET("/stats", statsController.GetStats)
	api.GET("/leaderboard", statsController.Leaderboard)

	authGroup := api.Group("/auth")
	authGroup.Use(limiter)
	authGroup.GET("/oauth/:provider/login", authController.OAuthRedirect)
	authGroup.GET("/oauth/:provider/callback", authController.OAuthCallback)
	authGroup.POST("/logout", middleware.AuthRequired(), authController.Logout)
	authGroup.GET("/me", middleware.AuthRequired(), authController.Me)

	protected := api.Group("")
	protected.Use(middleware.AuthRequired(), limiter)
	protected.POST("/checkin", checkinController.DailyCheckIn)
	protected.GET("/checkin/status", checkinController.Status)
	protected.GET("/checkin/calendar", checkinController.Calendar)
	protected.GET("/checkin/history", checkinController.History)
	protected.GET("/codes", checkinController.MyCodes)

	admin := api.Group("/admin")
	admin.Use(middleware.AdminRequired())
	admin.GET("/inventory", adminController.Inventory)
	admin.GET("/codes", adminController.ListCodes)
	admin.POST("/codes", adminController.ImportCodes)
	admin.POST("/codes/generate", adminController.GenerateCodes)
	admin.POST("/codes/gift", adminController.GiftCode)
	admin.POST("/codes/batch", adminController.BatchDistribute)
	admin.POST("/codes/:code/use", adminController.MarkUsed)
	admin.GET("/pending", adminController.ListPending)
	admin.POST("/pending/resolve", adminController.ResolvePending)
	admin.POST("/ledger/export", adminController.ExportLedger)

	r.NoRoute(func(ctx *gin.Context) {
		utils.Error(ctx, http.StatusNotFound, 40400, "api route not found")
	})

	return r
}
