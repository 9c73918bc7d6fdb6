package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cppla/checkin/models"
)

func TestCheckInFirstDayCompleted(t *testing.T) {
	db := newTestDB(t)
	u := createUser(t, db, "alice")
	seedCodes(t, db, 1, "1.00")
	e := newTestEngine(t, db, EngineOptions{})
	ctx := context.Background()

	res, err := e.CheckIn(ctx, u.ID, at(2024, 3, 1))
	if err != nil {
		t.Fatalf("CheckIn: %v", err)
	}
	if res.Status != StatusCompleted || res.ConsecutiveDays != 1 || res.ExperienceGained != 13 {
		t.Fatalf("unexpected result %+v", res)
	}
	if !res.CodeAmount.Equal(decimal.RequireFromString("1.10")) {
		t.Fatalf("amount = %s, want 1.10", res.CodeAmount)
	}
	if res.Code == nil || *res.Code != "SEED-0001" {
		t.Fatalf("code = %v, want SEED-0001", res.Code)
	}
	if n, _ := e.inventory.CountAvailable(ctx, db); n != 0 {
		t.Fatalf("available = %d, want 0", n)
	}

	again, err := e.CheckIn(ctx, u.ID, at(2024, 3, 1).Add(time.Hour))
	if err != nil {
		t.Fatalf("second CheckIn: %v", err)
	}
	if again.Status != StatusAlreadyCheckedIn || again.Code == nil || *again.Code != "SEED-0001" {
		t.Fatalf("repeat result %+v", again)
	}
	if again.ExperienceGained != 13 || !again.CodeAmount.Equal(res.CodeAmount) {
		t.Fatalf("repeat result does not mirror stored record: %+v", again)
	}

	user := reloadUser(t, db, u.ID)
	if user.Experience != 13 || user.TotalCheckins != 1 || user.ConsecutiveCheckins != 1 || user.MaxConsecutive != 1 {
		t.Fatalf("user counters %+v", user)
	}
	var records int64
	db.Model(&models.CheckIn{}).Where("user_id = ?", u.ID).Count(&records)
	if records != 1 {
		t.Fatalf("records = %d, want 1", records)
	}
}

func TestCheckInConcurrentSameUser(t *testing.T) {
	db := newTestDB(t)
	u := createUser(t, db, "alice")
	seedCodes(t, db, 5, "1.00")
	e := newTestEngine(t, db, EngineOptions{})
	now := at(2024, 3, 1)

	const n = 8
	var wg sync.WaitGroup
	results := make([]*CheckInResult, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = e.CheckIn(context.Background(), u.ID, now)
		}(i)
	}
	wg.Wait()

	completed, already := 0, 0
	var code string
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("call %d: %v", i, errs[i])
		}
		switch results[i].Status {
		case StatusCompleted:
			completed++
			code = *results[i].Code
		case StatusAlreadyCheckedIn:
			already++
		}
	}
	if completed != 1 || already != n-1 {
		t.Fatalf("completed=%d already=%d", completed, already)
	}
	for i := 0; i < n; i++ {
		if results[i].Code == nil || *results[i].Code != code {
			t.Fatalf("call %d returned code %v, want %s", i, results[i].Code, code)
		}
	}
	if left, _ := e.inventory.CountAvailable(context.Background(), db); left != 4 {
		t.Fatalf("available = %d, want 4", left)
	}
}

// A concurrent winner commits between this request's re-check and its insert.
// The reads are made to miss the winner's row until the insert has run, so the
// unique (user_id, checkin_date) index is what rejects the duplicate.
func TestCheckInDuplicateInsertReplaysAsAlready(t *testing.T) {
	db := newTestDB(t)
	u := createUser(t, db, "alice")
	codes := seedCodes(t, db, 2, "1.00")
	e := newTestEngine(t, db, EngineOptions{})
	now := at(2024, 3, 1)

	winnerCode := codes[0]
	db.Model(&models.RedemptionCode{}).Where("id = ?", winnerCode.ID).Updates(map[string]interface{}{
		"is_distributed": true, "distributed_to": u.ID, "distributed_at": now,
	})
	winner := models.CheckIn{
		UserID:          u.ID,
		CheckinDate:     e.Today(now),
		ConsecutiveDays: 1,
		BaseExp:         10,
		LevelBonusExp:   1,
		StreakBonusExp:  2,
		TotalExp:        13,
		CodeAmount:      decimal.RequireFromString("1.10"),
		Status:          models.CheckInCompleted,
		CodeID:          &winnerCode.ID,
		Code:            &winnerCode.Code,
		LevelBefore:     1,
		LevelAfter:      1,
		CreatedAt:       now,
	}
	if err := db.Create(&winner).Error; err != nil {
		t.Fatal(err)
	}

	hidden := true
	inserts := 0
	var insertErr error
	if err := db.Callback().Query().Before("gorm:query").Register("test:hide_winner", func(tx *gorm.DB) {
		if hidden && tx.Statement.Table == "check_ins" {
			tx.Statement.AddClause(clause.Where{Exprs: []clause.Expression{clause.Expr{SQL: "1 = 0"}}})
		}
	}); err != nil {
		t.Fatal(err)
	}
	if err := db.Callback().Create().After("gorm:create").Register("test:observe_insert", func(tx *gorm.DB) {
		if tx.Statement.Table == "check_ins" {
			inserts++
			insertErr = tx.Error
			hidden = false
		}
	}); err != nil {
		t.Fatal(err)
	}

	res, err := e.CheckIn(context.Background(), u.ID, now)
	if err != nil {
		t.Fatalf("CheckIn: %v", err)
	}
	if inserts != 1 || !errors.Is(insertErr, gorm.ErrDuplicatedKey) {
		t.Fatalf("inserts=%d err=%v, want one duplicate-key failure", inserts, insertErr)
	}
	if res.Status != StatusAlreadyCheckedIn || res.Code == nil || *res.Code != winnerCode.Code {
		t.Fatalf("result %+v", res)
	}
	if res.ExperienceGained != 13 {
		t.Fatalf("exp = %d, want the winner's 13", res.ExperienceGained)
	}

	if n, _ := e.inventory.CountAvailable(context.Background(), db); n != 1 {
		t.Fatalf("available = %d, want 1", n)
	}
	var records int64
	db.Model(&models.CheckIn{}).Where("user_id = ?", u.ID).Count(&records)
	if records != 1 {
		t.Fatalf("records = %d, want 1", records)
	}
	user := reloadUser(t, db, u.ID)
	if user.Experience != 0 || user.TotalCheckins != 0 || user.ConsecutiveCheckins != 0 {
		t.Fatalf("user counters changed: %+v", user)
	}
}

func TestCheckInConservesCodes(t *testing.T) {
	db := newTestDB(t)
	const users, codes = 6, 4
	seedCodes(t, db, codes, "1.00")
	e := newTestEngine(t, db, EngineOptions{})
	now := at(2024, 3, 1)

	ids := make([]uint, users)
	for i := range ids {
		ids[i] = createUser(t, db, fmt.Sprintf("user%d", i)).ID
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id uint) {
			defer wg.Done()
			if _, err := e.CheckIn(context.Background(), id, now); err != nil {
				t.Errorf("user %d: %v", id, err)
			}
		}(id)
	}
	wg.Wait()

	var completed, pendingRecs, pendingRows, distributed int64
	db.Model(&models.CheckIn{}).Where("status = ?", models.CheckInCompleted).Count(&completed)
	db.Model(&models.CheckIn{}).Where("status = ?", models.CheckInPendingDistribution).Count(&pendingRecs)
	db.Model(&models.PendingDistribution{}).Where("resolved = ?", false).Count(&pendingRows)
	db.Model(&models.RedemptionCode{}).Where("is_distributed = ?", true).Count(&distributed)

	if completed != codes || distributed != codes {
		t.Fatalf("completed=%d distributed=%d, want %d", completed, distributed, codes)
	}
	if pendingRecs != users-codes || pendingRows != users-codes {
		t.Fatalf("pending records=%d rows=%d, want %d", pendingRecs, pendingRows, users-codes)
	}

	var owners []uint
	db.Model(&models.RedemptionCode{}).Where("is_distributed = ?", true).Distinct().Pluck("distributed_to", &owners)
	if len(owners) != codes {
		t.Fatalf("codes went to %d distinct users, want %d", len(owners), codes)
	}
}

func TestCheckInStreakContinuesAndResets(t *testing.T) {
	db := newTestDB(t)
	u := createUser(t, db, "alice")
	e := newTestEngine(t, db, EngineOptions{})
	ctx := context.Background()

	for d := 1; d <= 3; d++ {
		res, err := e.CheckIn(ctx, u.ID, at(2024, 2, 27+d))
		if err != nil {
			t.Fatalf("day %d: %v", d, err)
		}
		if res.ConsecutiveDays != d {
			t.Fatalf("day %d streak = %d", d, res.ConsecutiveDays)
		}
	}
	// 2024-02-28, 02-29, 03-01; skip 03-02
	res, err := e.CheckIn(ctx, u.ID, at(2024, 3, 3))
	if err != nil {
		t.Fatalf("after gap: %v", err)
	}
	if res.ConsecutiveDays != 1 || res.Reward.StreakBonusExp != 2 {
		t.Fatalf("after gap %+v", res)
	}

	user := reloadUser(t, db, u.ID)
	if user.ConsecutiveCheckins != 1 || user.MaxConsecutive != 3 || user.TotalCheckins != 4 {
		t.Fatalf("user counters %+v", user)
	}
	if user.LastCheckinDate == nil || !user.LastCheckinDate.Equal(models.NewDate(2024, 3, 3)) {
		t.Fatalf("last date %v", user.LastCheckinDate)
	}
}

func TestCheckInReportingMidnight(t *testing.T) {
	db := newTestDB(t)
	u := createUser(t, db, "alice")
	e := newTestEngine(t, db, EngineOptions{Location: ReportingLocation(8 * 3600)})
	ctx := context.Background()

	first, err := e.CheckIn(ctx, u.ID, time.Date(2024, 3, 9, 15, 59, 59, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	second, err := e.CheckIn(ctx, u.ID, time.Date(2024, 3, 9, 16, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	if !first.CheckinDate.Equal(models.NewDate(2024, 3, 9)) || !second.CheckinDate.Equal(models.NewDate(2024, 3, 10)) {
		t.Fatalf("dates %s and %s", first.CheckinDate, second.CheckinDate)
	}
	if second.Status == StatusAlreadyCheckedIn || second.ConsecutiveDays != 2 {
		t.Fatalf("second %+v", second)
	}
}

func TestCheckInLevelSkip(t *testing.T) {
	db := newTestDB(t)
	u := createUser(t, db, "alice")
	db.Model(&models.User{}).Where("id = ?", u.ID).Update("experience", 307)
	e := newTestEngine(t, db, EngineOptions{})

	res, err := e.CheckIn(context.Background(), u.ID, at(2024, 3, 1))
	if err != nil {
		t.Fatal(err)
	}
	if res.LevelUp == nil || res.LevelUp.From != 1 || res.LevelUp.To != 3 {
		t.Fatalf("level up %+v", res.LevelUp)
	}
	if res.TotalExperience != 320 || res.CurrentLevel != 3 {
		t.Fatalf("result %+v", res)
	}
	if user := reloadUser(t, db, u.ID); user.CurrentLevel != 3 {
		t.Fatalf("stored level %d", user.CurrentLevel)
	}

	again, err := e.CheckIn(context.Background(), u.ID, at(2024, 3, 1))
	if err != nil {
		t.Fatal(err)
	}
	if again.LevelUp == nil || again.LevelUp.To != 3 {
		t.Fatalf("repeat lost level up: %+v", again.LevelUp)
	}
}

func TestCheckInPendingThenResolvedByImport(t *testing.T) {
	db := newTestDB(t)
	u := createUser(t, db, "alice")
	e := newTestEngine(t, db, EngineOptions{})
	d := NewDistributor(db, nil, nil)
	ctx := context.Background()
	now := at(2024, 3, 1)

	res, err := e.CheckIn(ctx, u.ID, now)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusPendingDistribution || res.Code != nil {
		t.Fatalf("result %+v", res)
	}
	if user := reloadUser(t, db, u.ID); user.Experience != 13 {
		t.Fatalf("exp must still be granted, got %d", user.Experience)
	}

	st, err := e.Status(ctx, u.ID, now)
	if err != nil {
		t.Fatal(err)
	}
	if !st.CheckedInToday || !st.CodePending {
		t.Fatalf("status %+v", st)
	}

	imp, err := d.ImportCodes(ctx, []CodeInput{{Code: "LATE-0001", Amount: decimal.RequireFromString("1.10")}}, "restock", now.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if imp.Resolved == nil || imp.Resolved.Resolved != 1 || imp.Resolved.Remaining != 0 {
		t.Fatalf("import %+v", imp)
	}

	again, err := e.CheckIn(ctx, u.ID, now.Add(2*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if again.Status != StatusAlreadyCheckedIn || again.Code == nil || *again.Code != "LATE-0001" {
		t.Fatalf("repeat %+v", again)
	}

	var rec models.CheckIn
	db.Where("user_id = ?", u.ID).Take(&rec)
	if rec.Status != models.CheckInPendingDistribution || rec.Code != nil {
		t.Fatalf("stored record was rewritten: %+v", rec)
	}
}

func TestCheckInCorruptState(t *testing.T) {
	db := newTestDB(t)
	u := createUser(t, db, "alice")
	db.Model(&models.User{}).Where("id = ?", u.ID).UpdateColumn("current_level", 0)
	e := newTestEngine(t, db, EngineOptions{})

	_, err := e.CheckIn(context.Background(), u.ID, at(2024, 3, 1))
	if !errors.Is(err, ErrCorruptUserState) {
		t.Fatalf("err = %v, want ErrCorruptUserState", err)
	}
	var n int64
	db.Model(&models.CheckIn{}).Count(&n)
	if n != 0 {
		t.Fatalf("records = %d after corrupt state", n)
	}
}

func TestCheckInUnknownUser(t *testing.T) {
	db := newTestDB(t)
	e := newTestEngine(t, db, EngineOptions{})
	if _, err := e.CheckIn(context.Background(), 999, at(2024, 3, 1)); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("err = %v, want ErrUserNotFound", err)
	}
}

func TestCheckInCanceledContext(t *testing.T) {
	db := newTestDB(t)
	u := createUser(t, db, "alice")
	e := newTestEngine(t, db, EngineOptions{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.CheckIn(ctx, u.ID, at(2024, 3, 1)); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestIsTransient(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{gorm.ErrDuplicatedKey, true},
		{fmt.Errorf("wrap: %w", ErrClaimConflict), true},
		{errors.New("Error 1213: Deadlock found when trying to get lock"), true},
		{errors.New("pq: could not serialize access"), true},
		{ErrCorruptUserState, false},
		{ErrUserNotFound, false},
	}
	for _, tc := range cases {
		if got := isTransient(tc.err); got != tc.want {
			t.Errorf("isTransient(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestStatusBeforeAndAfter(t *testing.T) {
	db := newTestDB(t)
	u := createUser(t, db, "alice")
	seedCodes(t, db, 2, "1.00")
	e := newTestEngine(t, db, EngineOptions{})
	ctx := context.Background()

	if _, err := e.CheckIn(ctx, u.ID, at(2024, 3, 1)); err != nil {
		t.Fatal(err)
	}

	st, err := e.Status(ctx, u.ID, at(2024, 3, 2))
	if err != nil {
		t.Fatal(err)
	}
	if st.CheckedInToday || st.StreakIfCheckedIn != 2 || st.ConsecutiveCheckins != 1 {
		t.Fatalf("next-day status %+v", st)
	}
	if st.NextLevelExp == nil || *st.NextLevelExp != 100 {
		t.Fatalf("next level exp %v", st.NextLevelExp)
	}

	st, err = e.Status(ctx, u.ID, at(2024, 3, 4))
	if err != nil {
		t.Fatal(err)
	}
	if st.ConsecutiveCheckins != 0 || st.StreakIfCheckedIn != 1 {
		t.Fatalf("broken-streak status %+v", st)
	}

	st, err = e.Status(ctx, u.ID, at(2024, 3, 1))
	if err != nil {
		t.Fatal(err)
	}
	if !st.CheckedInToday || st.Code == nil || st.CodePending {
		t.Fatalf("same-day status %+v", st)
	}
}
