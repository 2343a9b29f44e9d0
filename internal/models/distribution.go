package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	DistributionSettlementPending = "pending"
	DistributionSettlementSettled = "settled"
)

// Distribution is the write-once result of executing one verified cashflow
// event. The four component amounts sum to TotalAmount exactly.
type Distribution struct {
	ID                     uint                `gorm:"primarykey" json:"id"`
	CashflowEventID        uint                `gorm:"not null;uniqueIndex" json:"cashflow_event_id"`
	ProjectID              uint                `gorm:"not null;index" json:"project_id"`
	Currency               string              `gorm:"size:8;not null" json:"currency"`
	TotalAmount            decimal.Decimal     `gorm:"type:numeric(20,2);not null" json:"total_amount"`
	LpReplenishmentAmount  decimal.Decimal     `gorm:"type:numeric(20,2);not null" json:"lp_replenishment_amount"`
	RegeneratorTotalAmount decimal.Decimal     `gorm:"type:numeric(20,2);not null" json:"regenerator_total_amount"`
	TreasuryAmount         decimal.Decimal     `gorm:"type:numeric(20,2);not null" json:"treasury_amount"`
	ProjectRetainedAmount  decimal.Decimal     `gorm:"type:numeric(20,2);not null" json:"project_retained_amount"`
	TotalTokensAtSnapshot  int64               `gorm:"not null" json:"total_tokens_at_snapshot"`
	SnapshotAt             time.Time           `gorm:"not null" json:"snapshot_at"`
	SettlementStatus       string              `gorm:"size:16;not null;default:'pending';index" json:"settlement_status"`
	DistributedAt          time.Time           `gorm:"not null" json:"distributed_at"`
	Entries                []DistributionEntry `gorm:"foreignKey:DistributionID" json:"entries,omitempty"`
}

func (Distribution) TableName() string {
	return "distributions"
}

// DistributionEntry is one holder's pro-rata share of a Distribution.
type DistributionEntry struct {
	ID                   uint            `gorm:"primarykey" json:"id"`
	DistributionID       uint            `gorm:"not null;uniqueIndex:idx_distribution_entry_holder" json:"distribution_id"`
	HolderID             string          `gorm:"size:64;not null;uniqueIndex:idx_distribution_entry_holder;index" json:"holder_id"`
	TokensHeldAtSnapshot int64           `gorm:"not null" json:"tokens_held_at_snapshot"`
	ShareAmount          decimal.Decimal `gorm:"type:numeric(20,2);not null" json:"share_amount"`
	IdempotencyKey       string          `gorm:"size:64;not null" json:"idempotency_key"`
	CreatedAt            time.Time       `json:"created_at"`
}

func (DistributionEntry) TableName() string {
	return "distribution_entries"
}
