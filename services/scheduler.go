package services

import (
	"context"
	"errors"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/cppla/checkin/models"
)

// Scheduler runs the background sweeps: pending fulfilment and the daily ledger.
type Scheduler struct {
	sched       gocron.Scheduler
	distributor *Distributor
	exporter    *LedgerExporter
	loc         *time.Location
	log         *zap.Logger
}

// NewScheduler registers the jobs but does not start them. exporter may be nil,
// in which case the daily ledger job is skipped.
func NewScheduler(distributor *Distributor, exporter *LedgerExporter, loc *time.Location, sweepEvery time.Duration, log *zap.Logger) (*Scheduler, error) {
	if loc == nil {
		loc = time.UTC
	}
	if log == nil {
		log = zap.NewNop()
	}
	if sweepEvery <= 0 {
		sweepEvery = 5 * time.Minute
	}
	sched, err := gocron.NewScheduler(gocron.WithLocation(loc))
	if err != nil {
		return nil, err
	}
	s := &Scheduler{sched: sched, distributor: distributor, exporter: exporter, loc: loc, log: log}

	if _, err := sched.NewJob(
		gocron.DurationJob(sweepEvery),
		gocron.NewTask(s.sweepPending),
		gocron.WithName("pending-sweep"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		return nil, err
	}

	if exporter != nil && exporter.store != nil {
		if _, err := sched.NewJob(
			gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(0, 10, 0))),
			gocron.NewTask(s.exportYesterday),
			gocron.WithName("daily-ledger"),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.sched.Start()
	s.log.Info("scheduler started", zap.Int("jobs", len(s.sched.Jobs())))
}

// Shutdown waits for running jobs to finish.
func (s *Scheduler) Shutdown() error {
	return s.sched.Shutdown()
}

func (s *Scheduler) sweepPending() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	res, err := s.distributor.ResolvePending(ctx, 0, time.Now())
	if err != nil {
		s.log.Error("pending sweep failed", zap.Error(err))
		return
	}
	if res.Remaining > 0 {
		s.log.Warn("pending distributions still waiting for stock", zap.Int64("remaining", res.Remaining))
	}
}

func (s *Scheduler) exportYesterday() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	day := s.yesterday(time.Now())
	if _, err := s.exporter.Export(ctx, day); err != nil && !errors.Is(err, ErrStorageNotConfigured) {
		s.log.Error("daily ledger export failed", zap.String("day", day.String()), zap.Error(err))
	}
}

func (s *Scheduler) yesterday(now time.Time) models.Date {
	return models.DateOf(now, s.loc).AddDays(-1)
}
