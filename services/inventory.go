package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cppla/checkin/models"
)

const defaultClaimAttempts = 5

// Inventory claims redemption codes. It holds no state besides options, so one
// value can be shared by every request.
type Inventory struct {
	// MatchAmount restricts claims to codes worth at least the computed amount.
	// Off by default: amounts are set at upload and claims take any available code.
	MatchAmount bool
	// ClaimAttempts bounds how many candidates are tried when racing other claimants.
	ClaimAttempts int
}

// ClaimRequest describes who receives the code and why.
type ClaimRequest struct {
	UserID    uint
	MinAmount decimal.Decimal
	Type      models.DistributionType
	At        time.Time
}

// InventoryStats is an operational snapshot of the pool.
type InventoryStats struct {
	Available        int64           `json:"available"`
	Distributed      int64           `json:"distributed"`
	Used             int64           `json:"used"`
	Total            int64           `json:"total"`
	PendingUnsettled int64           `json:"pending_unsettled"`
	PendingOwed      decimal.Decimal `json:"pending_owed"`
}

func (inv *Inventory) attempts() int {
	if inv == nil || inv.ClaimAttempts <= 0 {
		return defaultClaimAttempts
	}
	return inv.ClaimAttempts
}

func (inv *Inventory) availableScope(db *gorm.DB, minAmount decimal.Decimal) *gorm.DB {
	q := db.Model(&models.RedemptionCode{}).Where("is_distributed = ? AND is_used = ?", false, false)
	if inv != nil && inv.MatchAmount && minAmount.IsPositive() {
		q = q.Where("amount >= ?", minAmount)
	}
	return q
}

// TryClaim marks one available code as distributed to req.UserID using tx, which
// should be the caller's transaction so the claim commits or rolls back with it.
// It returns (nil, nil) when the pool is empty.
func (inv *Inventory) TryClaim(ctx context.Context, tx *gorm.DB, req ClaimRequest) (*models.RedemptionCode, error) {
	tx = tx.WithContext(ctx)
	at := req.At
	if at.IsZero() {
		at = time.Now()
	}

	var skip []uint
	for i := 0; i < inv.attempts(); i++ {
		var candidate models.RedemptionCode
		q := inv.availableScope(tx, req.MinAmount).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Order("id ASC")
		if len(skip) > 0 {
			q = q.Where("id NOT IN ?", skip)
		}
		if err := q.Take(&candidate).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, nil
			}
			return nil, fmt.Errorf("select code candidate: %w", err)
		}

		userID := req.UserID
		res := tx.Model(&models.RedemptionCode{}).
			Where("id = ? AND is_distributed = ?", candidate.ID, false).
			Updates(map[string]interface{}{
				"is_distributed":    true,
				"distributed_to":    userID,
				"distributed_at":    at,
				"distribution_type": req.Type,
				"updated_at":        at,
			})
		if res.Error != nil {
			return nil, fmt.Errorf("claim code %d: %w", candidate.ID, res.Error)
		}
		if res.RowsAffected == 1 {
			candidate.IsDistributed = true
			candidate.DistributedTo = &userID
			candidate.DistributedAt = &at
			candidate.DistributionType = req.Type
			return &candidate, nil
		}
		// someone else won this code between select and update
		skip = append(skip, candidate.ID)
	}
	return nil, ErrClaimConflict
}

// CountAvailable is diagnostic only; the number can be stale immediately.
func (inv *Inventory) CountAvailable(ctx context.Context, db *gorm.DB) (int64, error) {
	var n int64
	err := inv.availableScope(db.WithContext(ctx), decimal.Zero).Count(&n).Error
	return n, err
}

// Stats aggregates pool and pending counters.
func (inv *Inventory) Stats(ctx context.Context, db *gorm.DB) (InventoryStats, error) {
	db = db.WithContext(ctx)
	var st InventoryStats
	var err error
	if st.Available, err = inv.CountAvailable(ctx, db); err != nil {
		return st, err
	}
	if err = db.Model(&models.RedemptionCode{}).Count(&st.Total).Error; err != nil {
		return st, err
	}
	if err = db.Model(&models.RedemptionCode{}).Where("is_distributed = ?", true).Count(&st.Distributed).Error; err != nil {
		return st, err
	}
	if err = db.Model(&models.RedemptionCode{}).Where("is_used = ?", true).Count(&st.Used).Error; err != nil {
		return st, err
	}

	var owed struct {
		Entries int64
		Amount  decimal.Decimal
	}
	if err = db.Model(&models.PendingDistribution{}).
		Select("COUNT(*) AS entries, COALESCE(SUM(amount), 0) AS amount").
		Where("resolved = ?", false).
		Scan(&owed).Error; err != nil {
		return st, err
	}
	st.PendingUnsettled = owed.Entries
	st.PendingOwed = owed.Amount.Round(2)
	return st, nil
}
