package services

import "fmt"

// LevelThreshold is the experience required to hold Level.
type LevelThreshold struct {
	Level       int   `json:"level"`
	RequiredExp int64 `json:"required_exp"`
}

// LevelTable is ordered by ascending level.
type LevelTable []LevelThreshold

// LevelUp describes a level transition produced by one check-in.
type LevelUp struct {
	From int `json:"from"`
	To   int `json:"to"`
}

// DefaultLevelTable has thirteen tiers; display names live in the frontend.
func DefaultLevelTable() LevelTable {
	return LevelTable{
		{1, 0}, {2, 100}, {3, 300}, {4, 600}, {5, 1000}, {6, 1500}, {7, 2100},
		{8, 2800}, {9, 3600}, {10, 4500}, {11, 5500}, {12, 6600}, {13, 7800},
	}
}

// LevelTableFrom builds a table from thresholds where index 0 is level 1.
func LevelTableFrom(thresholds []int64) LevelTable {
	t := make(LevelTable, 0, len(thresholds))
	for i, exp := range thresholds {
		t = append(t, LevelThreshold{Level: i + 1, RequiredExp: exp})
	}
	return t
}

// Validate checks that levels and thresholds strictly increase.
func (t LevelTable) Validate() error {
	if len(t) == 0 {
		return fmt.Errorf("level table is empty")
	}
	for i := 1; i < len(t); i++ {
		if t[i].Level <= t[i-1].Level || t[i].RequiredExp < t[i-1].RequiredExp {
			return fmt.Errorf("level table not ascending at level %d", t[i].Level)
		}
	}
	return nil
}

// Next returns the threshold right above level, or nil at the top tier.
func (t LevelTable) Next(level int) *LevelThreshold {
	for i := range t {
		if t[i].Level > level {
			return &t[i]
		}
	}
	return nil
}

// CheckLevelUp jumps directly to the highest level the experience qualifies for.
func CheckLevelUp(currentLevel int, newExperience int64, table LevelTable) *LevelUp {
	best := currentLevel
	for _, th := range table {
		if th.Level > best && newExperience >= th.RequiredExp {
			best = th.Level
		}
	}
	if best == currentLevel {
		return nil
	}
	return &LevelUp{From: currentLevel, To: best}
}
