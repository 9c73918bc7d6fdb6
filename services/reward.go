package services

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// AmountStep raises the code amount once the streak reaches MinDays.
type AmountStep struct {
	MinDays int             `json:"min_days"`
	Bonus   decimal.Decimal `json:"bonus"`
}

// RewardPolicy holds the constants of the reward formula.
type RewardPolicy struct {
	BaseExp           int
	LevelBonusPercent int
	StreakExpPerDay   int
	AmountFloor       decimal.Decimal
	AmountSteps       []AmountStep
	LevelAmountStep   decimal.Decimal
}

// Reward is the outcome of one check-in before inventory is consulted.
type Reward struct {
	BaseExp        int             `json:"base_exp"`
	LevelBonusExp  int             `json:"level_bonus_exp"`
	StreakBonusExp int             `json:"streak_bonus_exp"`
	TotalExp       int             `json:"total_exp"`
	CodeAmount     decimal.Decimal `json:"code_amount"`
}

// DefaultRewardPolicy returns the production constants.
func DefaultRewardPolicy() RewardPolicy {
	return RewardPolicy{
		BaseExp:           10,
		LevelBonusPercent: 10,
		StreakExpPerDay:   2,
		AmountFloor:       decimal.NewFromInt(1),
		AmountSteps: []AmountStep{
			{MinDays: 7, Bonus: decimal.RequireFromString("0.5")},
			{MinDays: 15, Bonus: decimal.RequireFromString("1.0")},
			{MinDays: 30, Bonus: decimal.RequireFromString("2.0")},
		},
		LevelAmountStep: decimal.RequireFromString("0.1"),
	}
}

// ParseAmountSteps parses "minDays:bonus" pairs separated by commas,
// for example "7:0.5,15:1.0,30:2.0".
func ParseAmountSteps(raw string) ([]AmountStep, error) {
	var steps []AmountStep
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		days, bonus, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("amount step %q: want minDays:bonus", part)
		}
		n, err := strconv.Atoi(strings.TrimSpace(days))
		if err != nil {
			return nil, fmt.Errorf("amount step %q: %w", part, err)
		}
		b, err := decimal.NewFromString(strings.TrimSpace(bonus))
		if err != nil {
			return nil, fmt.Errorf("amount step %q: %w", part, err)
		}
		steps = append(steps, AmountStep{MinDays: n, Bonus: b})
	}
	return steps, nil
}

// Validate rejects policies that would break monotonicity.
func (p RewardPolicy) Validate() error {
	if p.BaseExp < 0 || p.LevelBonusPercent < 0 || p.StreakExpPerDay < 0 {
		return fmt.Errorf("reward policy: experience constants must be non-negative")
	}
	if p.AmountFloor.IsNegative() || p.LevelAmountStep.IsNegative() {
		return fmt.Errorf("reward policy: amount constants must be non-negative")
	}
	for _, s := range p.AmountSteps {
		if s.MinDays < 1 || s.Bonus.IsNegative() {
			return fmt.Errorf("reward policy: invalid amount step %d/%s", s.MinDays, s.Bonus)
		}
	}
	return nil
}

// Compute is pure: the same inputs always produce the same Reward.
func (p RewardPolicy) Compute(consecutiveDays, level int) Reward {
	if consecutiveDays < 0 {
		consecutiveDays = 0
	}
	if level < 1 {
		level = 1
	}

	// floor(base * level * percent / 100); all operands are non-negative
	levelBonus := p.BaseExp * level * p.LevelBonusPercent / 100
	streakBonus := consecutiveDays * p.StreakExpPerDay

	amount := p.AmountFloor
	steps := append([]AmountStep(nil), p.AmountSteps...)
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].MinDays < steps[j].MinDays })
	for _, s := range steps {
		if consecutiveDays >= s.MinDays {
			amount = amount.Add(s.Bonus)
		}
	}
	amount = amount.Add(p.LevelAmountStep.Mul(decimal.NewFromInt(int64(level))))

	return Reward{
		BaseExp:        p.BaseExp,
		LevelBonusExp:  levelBonus,
		StreakBonusExp: streakBonus,
		TotalExp:       p.BaseExp + levelBonus + streakBonus,
		// decimal.Round rounds half away from zero, i.e. half-up for positive amounts
		CodeAmount: amount.Round(2),
	}
}
