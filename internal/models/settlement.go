package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	LegTypeLpReplenishment = "lp_replenishment"
	LegTypeHolder          = "holder"
	LegTypeTreasury        = "treasury"

	LegStatusPending   = "pending"
	LegStatusConfirmed = "confirmed"
	LegStatusFailed    = "failed"
	LegStatusUnknown   = "unknown" // timed out, outcome must be re-queried
)

// SettlementLeg is one transfer instruction derived from a Distribution. The
// idempotency key is deterministic so retries never double-pay.
type SettlementLeg struct {
	ID             uint            `gorm:"primarykey" json:"id"`
	DistributionID uint            `gorm:"not null;index" json:"distribution_id"`
	LegType        string          `gorm:"size:20;not null" json:"leg_type"`
	HolderID       string          `gorm:"size:64" json:"holder_id"`
	FromAccount    string          `gorm:"size:100;not null" json:"from_account"`
	ToAccount      string          `gorm:"size:100" json:"to_account"` // holder legs resolve on first dispatch
	Amount         decimal.Decimal `gorm:"type:numeric(20,2);not null" json:"amount"`
	Currency       string          `gorm:"size:8;not null" json:"currency"`
	IdempotencyKey string          `gorm:"size:64;not null;uniqueIndex" json:"idempotency_key"`
	Status         string          `gorm:"size:16;not null;default:'pending';index" json:"status"`
	Attempts       int             `gorm:"not null;default:0" json:"attempts"`
	LastError      string          `gorm:"type:text" json:"last_error"`
	ConfirmedAt    *time.Time      `json:"confirmed_at"`
	LastCheckedAt  *time.Time      `json:"last_checked_at"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

func (SettlementLeg) TableName() string {
	return "settlement_legs"
}

// LedgerPosting is a transfer executed on the internal ledger.
type LedgerPosting struct {
	ID             uint            `gorm:"primarykey" json:"id"`
	IdempotencyKey string          `gorm:"size:64;not null;uniqueIndex" json:"idempotency_key"`
	FromAccount    string          `gorm:"size:100;not null;index" json:"from_account"`
	ToAccount      string          `gorm:"size:100;not null;index" json:"to_account"`
	Amount         decimal.Decimal `gorm:"type:numeric(20,2);not null" json:"amount"`
	Currency       string          `gorm:"size:8;not null" json:"currency"`
	PostedAt       time.Time       `gorm:"not null" json:"posted_at"`
}

func (LedgerPosting) TableName() string {
	return "ledger_postings"
}

// SolanaTransfer maps an idempotency key to the on-chain signature that
// carries it, so a retried instruction is queried instead of resent.
type SolanaTransfer struct {
	ID             uint      `gorm:"primarykey" json:"id"`
	IdempotencyKey string    `gorm:"size:64;not null;uniqueIndex" json:"idempotency_key"`
	Signature      string    `gorm:"size:100" json:"signature"`
	FromAccount    string    `gorm:"size:100;not null" json:"from_account"`
	ToAccount      string    `gorm:"size:100;not null" json:"to_account"`
	Mint           string    `gorm:"size:100;not null" json:"mint"`
	RawAmount      uint64    `gorm:"not null" json:"raw_amount"`
	Status         string    `gorm:"size:16;not null" json:"status"`
	CreatedAt      time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt      time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

func (SolanaTransfer) TableName() string {
	return "solana_transfers"
}

// WalletAccount resolves a holder to the account settlement pays into.
type WalletAccount struct {
	ID           uint      `gorm:"primarykey" json:"id"`
	HolderID     string    `gorm:"size:64;not null;uniqueIndex" json:"holder_id"`
	Address      string    `gorm:"size:100;not null" json:"address"`
	Custodial    bool      `gorm:"default:false" json:"custodial"`
	EncryptedKey string    `gorm:"type:text" json:"-"`
	CreatedAt    time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt    time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

func (WalletAccount) TableName() string {
	return "wallet_accounts"
}
