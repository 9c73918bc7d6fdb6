package services

import (
	"context"
	"testing"
	"time"

	"github.com/cppla/checkin/models"
)

func TestMonthCalendar(t *testing.T) {
	db := newTestDB(t)
	u := createUser(t, db, "alice")
	e := newTestEngine(t, db, EngineOptions{})
	h := NewHistory(db, e.Location())
	ctx := context.Background()

	for _, d := range []int{1, 2, 3, 5, 29} {
		if _, err := e.CheckIn(ctx, u.ID, at(2024, 2, d)); err != nil {
			t.Fatalf("check in 02-%02d: %v", d, err)
		}
	}
	// a day outside the month must not leak in
	if _, err := e.CheckIn(ctx, u.ID, at(2024, 3, 1)); err != nil {
		t.Fatal(err)
	}

	cal, err := h.MonthCalendar(ctx, u.ID, 2024, time.February, at(2024, 2, 29))
	if err != nil {
		t.Fatalf("MonthCalendar: %v", err)
	}
	if len(cal.Days) != 29 {
		t.Fatalf("leap February has %d days", len(cal.Days))
	}
	if cal.CheckedDays != 5 || cal.LongestRun != 3 {
		t.Fatalf("checked=%d longest=%d", cal.CheckedDays, cal.LongestRun)
	}
	if !cal.IsCurrent || !cal.TodayChecked {
		t.Fatalf("current=%v today=%v", cal.IsCurrent, cal.TodayChecked)
	}
	if !cal.Days[2].CheckedIn || cal.Days[2].ConsecutiveDays != 3 || cal.Days[3].CheckedIn {
		t.Fatalf("cells %+v %+v", cal.Days[2], cal.Days[3])
	}
	// 13 + 15 + 17 + 13 + 13
	if cal.TotalExp != 71 || cal.TotalAmount != "5.50" {
		t.Fatalf("totals exp=%d amount=%s", cal.TotalExp, cal.TotalAmount)
	}

	past, err := h.MonthCalendar(ctx, u.ID, 2024, time.January, at(2024, 3, 1))
	if err != nil || past.CheckedDays != 0 || len(past.Days) != 31 || past.IsCurrent {
		t.Fatalf("January = %+v, %v", past, err)
	}

	if _, err := h.MonthCalendar(ctx, u.ID, 2024, 13, at(2024, 3, 1)); err == nil {
		t.Fatal("month 13 accepted")
	}
}

func TestListCheckInsShowsResolvedCode(t *testing.T) {
	db := newTestDB(t)
	u := createUser(t, db, "alice")
	e := newTestEngine(t, db, EngineOptions{})
	d := NewDistributor(db, nil, nil)
	h := NewHistory(db, e.Location())
	ctx := context.Background()

	if _, err := e.CheckIn(ctx, u.ID, at(2024, 3, 1)); err != nil {
		t.Fatal(err)
	}
	seedCodes(t, db, 1, "1.00")
	if _, err := e.CheckIn(ctx, u.ID, at(2024, 3, 2)); err != nil {
		t.Fatal(err)
	}

	page, err := h.ListCheckIns(ctx, u.ID, 1, 10)
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 2 || !page.Items[0].CheckinDate.Equal(models.NewDate(2024, 3, 2)) {
		t.Fatalf("page %+v", page)
	}
	if page.Items[0].ResolvedCode == nil || page.Items[1].ResolvedCode != nil {
		t.Fatalf("codes %v %v", page.Items[0].ResolvedCode, page.Items[1].ResolvedCode)
	}

	if _, err := d.ImportCodes(ctx, []CodeInput{{Code: "LATE-0001", Amount: amt("1.00")}}, "", at(2024, 3, 2)); err != nil {
		t.Fatal(err)
	}
	page, _ = h.ListCheckIns(ctx, u.ID, 1, 10)
	if page.Items[1].ResolvedCode == nil || *page.Items[1].ResolvedCode != "LATE-0001" {
		t.Fatalf("pending record not resolved: %+v", page.Items[1])
	}
}

func TestListUserCodes(t *testing.T) {
	db := newTestDB(t)
	u := createUser(t, db, "alice")
	other := createUser(t, db, "bob")
	seedCodes(t, db, 3, "1.00")
	d := NewDistributor(db, nil, nil)
	h := NewHistory(db, nil)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	first, _ := d.GiftCode(ctx, u.ID, base)
	if _, err := d.GiftCode(ctx, u.ID, base.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	if _, err := d.GiftCode(ctx, other.ID, base); err != nil {
		t.Fatal(err)
	}
	if _, err := d.MarkUsed(ctx, first.Code, u.ID, base.Add(2*time.Hour)); err != nil {
		t.Fatal(err)
	}

	page, err := h.ListUserCodes(ctx, u.ID, UserCodeQuery{})
	if err != nil || page.Total != 2 {
		t.Fatalf("all = %+v, %v", page, err)
	}
	if page.Items[0].Code != "SEED-0002" {
		t.Fatalf("newest first expected, got %s", page.Items[0].Code)
	}
	used := true
	page, _ = h.ListUserCodes(ctx, u.ID, UserCodeQuery{Used: &used})
	if page.Total != 1 || page.Items[0].Code != first.Code {
		t.Fatalf("used = %+v", page)
	}
	page, _ = h.ListUserCodes(ctx, u.ID, UserCodeQuery{Keyword: "0003"})
	if page.Total != 0 {
		t.Fatalf("keyword matched a foreign code: %+v", page)
	}
	page, _ = h.ListUserCodes(ctx, u.ID, UserCodeQuery{Keyword: "SEED_"})
	if page.Total != 0 {
		t.Fatalf("underscore treated as a wildcard: %+v", page)
	}
}

func TestLeaderboard(t *testing.T) {
	db := newTestDB(t)
	e := newTestEngine(t, db, EngineOptions{})
	ctx := context.Background()

	steady := createUser(t, db, "steady")
	lapsed := createUser(t, db, "lapsed")
	fresh := createUser(t, db, "fresh")
	createUser(t, db, "idle")

	for d := 1; d <= 4; d++ {
		if _, err := e.CheckIn(ctx, steady.ID, at(2024, 3, d)); err != nil {
			t.Fatal(err)
		}
	}
	for d := 1; d <= 2; d++ {
		if _, err := e.CheckIn(ctx, lapsed.ID, at(2024, 2, 20+d)); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := e.CheckIn(ctx, fresh.ID, at(2024, 3, 5)); err != nil {
		t.Fatal(err)
	}

	now := at(2024, 3, 5)
	streak, err := Leaderboard(ctx, db, LeaderboardStreak, 10, now, e.Location())
	if err != nil {
		t.Fatal(err)
	}
	if len(streak) != 2 || streak[0].UserID != steady.ID || streak[0].Rank != 1 || streak[1].UserID != fresh.ID {
		t.Fatalf("streak board %+v", streak)
	}

	total, err := Leaderboard(ctx, db, LeaderboardTotal, 10, now, e.Location())
	if err != nil {
		t.Fatal(err)
	}
	if len(total) != 3 || total[0].UserID != steady.ID || total[1].UserID != lapsed.ID {
		t.Fatalf("total board %+v", total)
	}

	if _, err := Leaderboard(ctx, db, "bogus", 10, now, e.Location()); err == nil {
		t.Fatal("unknown kind accepted")
	}
}
