package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DistributionType records how a code reached its owner.
type DistributionType string

const (
	DistributionCheckin DistributionType = "checkin"
	DistributionGift    DistributionType = "gift"
	DistributionBatch   DistributionType = "batch"
)

// RedemptionCode is a pre-generated voucher with a face value.
type RedemptionCode struct {
	ID               uint             `gorm:"primaryKey" json:"id"`
	Code             string           `gorm:"size:64;not null;uniqueIndex" json:"code"`
	Amount           decimal.Decimal  `gorm:"type:decimal(10,2);not null" json:"amount"`
	BatchID          string           `gorm:"size:32;index" json:"batch_id"`
	Remark           string           `gorm:"size:255" json:"remark"`
	IsDistributed    bool             `gorm:"not null;default:false;index:idx_codes_available,priority:1" json:"is_distributed"`
	IsUsed           bool             `gorm:"not null;default:false;index:idx_codes_available,priority:2" json:"is_used"`
	DistributedTo    *uint            `gorm:"index" json:"distributed_to"`
	DistributedAt    *time.Time       `gorm:"index" json:"distributed_at"`
	DistributionType DistributionType `gorm:"size:16" json:"distribution_type"`
	UsedBy           *uint            `json:"used_by"`
	UsedAt           *time.Time       `json:"used_at"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}
