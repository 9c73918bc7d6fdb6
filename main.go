package main

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cppla/checkin/config"
	"github.com/cppla/checkin/models"
	"github.com/cppla/checkin/routes"
	"github.com/cppla/checkin/services"
	"github.com/cppla/checkin/utils"
)

func main() {
	cfg := config.Load()

	// Initialize logger early
	if err := utils.InitLogger(cfg); err != nil {
		panic(err)
	}
	defer func() { _ = utils.Logger.Sync() }()

	db := config.InitDatabase(models.AllModels()...)

	policy, err := rewardPolicy(cfg.Checkin)
	if err != nil {
		utils.Sugar.Fatalf("invalid checkin reward settings: %v", err)
	}
	levels := services.DefaultLevelTable()
	if len(cfg.Checkin.LevelThresholds) > 0 {
		levels = services.LevelTableFrom(cfg.Checkin.LevelThresholds)
	}
	loc := services.ReportingLocation(cfg.Checkin.TimezoneOffsetMinutes * 60)
	inventory := &services.Inventory{
		MatchAmount:   cfg.Checkin.MatchAmount,
		ClaimAttempts: cfg.Checkin.ClaimAttempts,
	}

	engine, err := services.NewCheckInEngine(db, services.EngineOptions{
		Policy:     policy,
		Levels:     levels,
		Location:   loc,
		Inventory:  inventory,
		MaxRetries: cfg.Checkin.MaxRetries,
		Logger:     utils.Logger.Named("checkin"),
	})
	if err != nil {
		utils.Sugar.Fatalf("check-in engine: %v", err)
	}
	distributor := services.NewDistributor(db, inventory, utils.Logger.Named("distributor"))

	var store services.ObjectStore
	s3Store, err := utils.NewS3Store(context.Background(), cfg)
	if err != nil {
		utils.Sugar.Warnf("ledger storage disabled: %v", err)
	} else if s3Store != nil {
		store = s3Store
	}
	exporter := services.NewLedgerExporter(db, store, loc, cfg.StoragePrefix, utils.Logger.Named("ledger"))

	sched, err := services.NewScheduler(distributor, exporter, loc,
		time.Duration(cfg.Checkin.PendingSweepMinutes)*time.Minute, utils.Logger.Named("scheduler"))
	if err != nil {
		utils.Sugar.Fatalf("scheduler: %v", err)
	}
	sched.Start()

	r := routes.SetupRouter(routes.Deps{
		DB:          db,
		Engine:      engine,
		History:     services.NewHistory(db, loc),
		Distributor: distributor,
		Exporter:    exporter,
	})

	srv := utils.NewServer(":"+cfg.AppPort, r, utils.DEFAULT_READ_TIMEOUT, utils.DEFAULT_WRITE_TIMEOUT)
	srv.OnShutdown(func() {
		if err := sched.Shutdown(); err != nil {
			utils.Sugar.Warnf("scheduler shutdown: %v", err)
		}
	})

	utils.Sugar.Infof("Starting server on port %s (graceful), reporting zone %s", cfg.AppPort, loc)
	if err := srv.ListenAndServe(); err != nil {
		utils.Sugar.Fatalf("server stopped with error: %v", err)
	}
}

func rewardPolicy(c config.CheckinConfig) (services.RewardPolicy, error) {
	floor, err := decimal.NewFromString(c.AmountFloor)
	if err != nil {
		return services.RewardPolicy{}, err
	}
	levelStep, err := decimal.NewFromString(c.LevelAmountStep)
	if err != nil {
		return services.RewardPolicy{}, err
	}
	steps, err := services.ParseAmountSteps(c.AmountSteps)
	if err != nil {
		return services.RewardPolicy{}, err
	}
	p := services.RewardPolicy{
		BaseExp:           c.BaseExp,
		LevelBonusPercent: c.LevelBonusPercent,
		StreakExpPerDay:   c.StreakExpPerDay,
		AmountFloor:       floor,
		AmountSteps:       steps,
		LevelAmountStep:   levelStep,
	}
	return p, p.Validate()
}
