package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	CashflowKindRevenue = "revenue"
	CashflowKindExpense = "expense"

	CashflowStatusRecorded    = "recorded"
	CashflowStatusVerified    = "verified"
	CashflowStatusDistributed = "distributed"
)

// CashflowEvent is a reported unit of project revenue or expense. Status only
// moves forward: recorded -> verified -> distributed.
type CashflowEvent struct {
	ID            uint            `gorm:"primarykey" json:"id"`
	ProjectID     uint            `gorm:"not null;index" json:"project_id"`
	Amount        decimal.Decimal `gorm:"type:numeric(20,2);not null" json:"amount"`
	Kind          string          `gorm:"size:16;not null" json:"kind"`
	Description   string          `gorm:"type:text" json:"description"`
	Status        string          `gorm:"size:16;not null;default:'recorded';index" json:"status"`
	VerifiedBy    string          `gorm:"size:64" json:"verified_by"`
	VerifiedAt    *time.Time      `json:"verified_at"`
	VerifyNotes   string          `gorm:"type:text" json:"verify_notes"`
	DistributedAt *time.Time      `json:"distributed_at"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func (CashflowEvent) TableName() string {
	return "cashflow_events"
}
