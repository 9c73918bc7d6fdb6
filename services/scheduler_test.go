package services

import (
	"context"
	"testing"
	"time"

	"github.com/cppla/checkin/models"
)

func TestSchedulerJobs(t *testing.T) {
	db := newTestDB(t)
	d := NewDistributor(db, nil, nil)

	s, err := NewScheduler(d, NewLedgerExporter(db, nil, nil, "", nil), nil, time.Minute, nil)
	if err != nil {
		t.Fatal(err)
	}
	if n := len(s.sched.Jobs()); n != 1 {
		t.Fatalf("jobs without storage = %d, want 1", n)
	}
	_ = s.Shutdown()

	s, err = NewScheduler(d, NewLedgerExporter(db, newMemStore(), nil, "", nil), nil, time.Minute, nil)
	if err != nil {
		t.Fatal(err)
	}
	names := map[string]bool{}
	for _, j := range s.sched.Jobs() {
		names[j.Name()] = true
	}
	if !names["pending-sweep"] || !names["daily-ledger"] {
		t.Fatalf("jobs %v", names)
	}
	_ = s.Shutdown()
}

func TestSchedulerSweepResolvesPending(t *testing.T) {
	db := newTestDB(t)
	u := createUser(t, db, "alice")
	e := newTestEngine(t, db, EngineOptions{})
	if _, err := e.CheckIn(context.Background(), u.ID, time.Now()); err != nil {
		t.Fatal(err)
	}
	seedCodes(t, db, 1, "1.00")

	s, err := NewScheduler(NewDistributor(db, nil, nil), nil, nil, time.Hour, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Shutdown()
	s.sweepPending()

	var open int64
	db.Model(&models.PendingDistribution{}).Where("resolved = ?", false).Count(&open)
	if open != 0 {
		t.Fatalf("open pending = %d after sweep", open)
	}
}

func TestSchedulerYesterday(t *testing.T) {
	s := &Scheduler{loc: ReportingLocation(8 * 3600)}
	// 2024-03-01 00:05 in UTC+8
	now := time.Date(2024, 2, 29, 16, 5, 0, 0, time.UTC)
	if got := s.yesterday(now); !got.Equal(models.NewDate(2024, 2, 29)) {
		t.Fatalf("yesterday = %s", got)
	}
}
