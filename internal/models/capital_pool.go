package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	ContributionStatusPending  = "pending"
	ContributionStatusApproved = "approved"
	ContributionStatusRejected = "rejected"

	// CapitalPoolID is the singleton pool row every approve/allocate locks.
	CapitalPoolID uint = 1
)

// Contribution is an outside contributor's entry in the capital pool ledger.
// PoolShareSnapshot is frozen at approval and never rewritten.
type Contribution struct {
	ID                uint             `gorm:"primarykey" json:"id"`
	ContributorID     string           `gorm:"size:64;not null;index" json:"contributor_id"`
	Amount            decimal.Decimal  `gorm:"type:numeric(20,2);not null" json:"amount"`
	Status            string           `gorm:"size:16;not null;default:'pending';index" json:"status"`
	Proof             string           `gorm:"type:text" json:"proof"`
	ApprovedBy        string           `gorm:"size:64" json:"approved_by"`
	ApprovedAt        *time.Time       `json:"approved_at"`
	RejectedBy        string           `gorm:"size:64" json:"rejected_by"`
	RejectReason      string           `gorm:"type:text" json:"reject_reason"`
	PoolShareSnapshot *decimal.Decimal `gorm:"type:numeric(9,8)" json:"pool_share_snapshot"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

func (Contribution) TableName() string {
	return "contributions"
}

// PoolContributor is the stored share projection: one row per contributor
// with an approved contribution. SharePct is refreshed on every approval.
type PoolContributor struct {
	ContributorID string          `gorm:"primaryKey;size:64" json:"contributor_id"`
	ApprovedTotal decimal.Decimal `gorm:"type:numeric(20,2);not null" json:"approved_total"`
	SharePct      decimal.Decimal `gorm:"type:numeric(9,8);not null" json:"share_pct"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func (PoolContributor) TableName() string {
	return "pool_contributors"
}

// CapitalPool holds the pool aggregates. AvailableBalance == ApprovedTotal - AllocatedTotal.
type CapitalPool struct {
	ID               uint            `gorm:"primarykey" json:"id"`
	ApprovedTotal    decimal.Decimal `gorm:"type:numeric(20,2);not null;default:0" json:"approved_total"`
	AllocatedTotal   decimal.Decimal `gorm:"type:numeric(20,2);not null;default:0" json:"allocated_total"`
	AvailableBalance decimal.Decimal `gorm:"type:numeric(20,2);not null;default:0" json:"available_balance"`
	ReplenishedTotal decimal.Decimal `gorm:"type:numeric(20,2);not null;default:0" json:"replenished_total"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

func (CapitalPool) TableName() string {
	return "capital_pools"
}

// Allocation deploys pool capital to a project. Shares sum to TotalAmount.
type Allocation struct {
	ID             uint              `gorm:"primarykey" json:"id"`
	ProjectID      uint              `gorm:"not null;index" json:"project_id"`
	TotalAmount    decimal.Decimal   `gorm:"type:numeric(20,2);not null" json:"total_amount"`
	Purpose        string            `gorm:"type:text" json:"purpose"`
	AllocatedBy    string            `gorm:"size:64;not null" json:"allocated_by"`
	AllocationDate time.Time         `gorm:"not null" json:"allocation_date"`
	Shares         []AllocationShare `gorm:"foreignKey:AllocationID" json:"shares"`
}

func (Allocation) TableName() string {
	return "allocations"
}

type AllocationShare struct {
	ID            uint            `gorm:"primarykey" json:"id"`
	AllocationID  uint            `gorm:"not null;index" json:"allocation_id"`
	ContributorID string          `gorm:"size:64;not null" json:"contributor_id"`
	Amount        decimal.Decimal `gorm:"type:numeric(20,2);not null" json:"amount"`
}

func (AllocationShare) TableName() string {
	return "allocation_shares"
}

// PoolReplenishment is the LP-replenishment line written by the distribution
// engine, one row per Distribution.
type PoolReplenishment struct {
	ID             uint            `gorm:"primarykey" json:"id"`
	DistributionID uint            `gorm:"not null;uniqueIndex" json:"distribution_id"`
	ProjectID      uint            `gorm:"not null;index" json:"project_id"`
	Amount         decimal.Decimal `gorm:"type:numeric(20,2);not null" json:"amount"`
	CreatedAt      time.Time       `json:"created_at"`
}

func (PoolReplenishment) TableName() string {
	return "pool_replenishments"
}

// CapitalPoolSnapshot 资金池定时快照
type CapitalPoolSnapshot struct {
	ID                 uint            `gorm:"primarykey" json:"id"`
	ApprovedTotal      decimal.Decimal `gorm:"type:numeric(20,2);not null" json:"approved_total"`
	AllocatedTotal     decimal.Decimal `gorm:"type:numeric(20,2);not null" json:"allocated_total"`
	AvailableBalance   decimal.Decimal `gorm:"type:numeric(20,2);not null" json:"available_balance"`
	ReplenishedTotal   decimal.Decimal `gorm:"type:numeric(20,2);not null" json:"replenished_total"`
	ContributorCount   int64           `gorm:"not null" json:"contributor_count"`
	CreatedAtByZeroSec time.Time       `gorm:"index" json:"created_at_by_zero_sec"` // 零秒时间戳，用于按分钟聚合
	CreatedAt          time.Time       `json:"created_at" gorm:"autoCreateTime"`
}

func (CapitalPoolSnapshot) TableName() string {
	return "capital_pool_snapshots"
}
