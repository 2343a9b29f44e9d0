package models

import "time"

const (
	LockTypeNone       = "none"
	LockTypeTimeLocked = "time_locked"
	LockTypePermanent  = "permanent"
)

const (
	MovementIssue       = "issue"
	MovementTransferIn  = "transfer_in"
	MovementTransferOut = "transfer_out"
	MovementLock        = "lock"
	MovementUnlock      = "unlock"
)

// TokenBalance is one holder's position in one project.
// TotalTokens == LiquidTokens + LockedTokens at all times.
type TokenBalance struct {
	ID           uint       `gorm:"primarykey" json:"id"`
	HolderID     string     `gorm:"size:64;not null;uniqueIndex:idx_token_balance_holder_project" json:"holder_id"`
	ProjectID    uint       `gorm:"not null;uniqueIndex:idx_token_balance_holder_project;index" json:"project_id"`
	TotalTokens  int64      `gorm:"not null;default:0" json:"total_tokens"`
	LiquidTokens int64      `gorm:"not null;default:0" json:"liquid_tokens"`
	LockedTokens int64      `gorm:"not null;default:0" json:"locked_tokens"`
	LockType     string     `gorm:"size:16;not null;default:'none'" json:"lock_type"`
	LockReason   string     `gorm:"size:255" json:"lock_reason"`
	UnlockAt     *time.Time `gorm:"index" json:"unlock_at"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func (TokenBalance) TableName() string {
	return "token_balances"
}

// Consistent checks the balance invariants.
func (b *TokenBalance) Consistent() bool {
	if b.TotalTokens != b.LiquidTokens+b.LockedTokens {
		return false
	}
	if b.LiquidTokens < 0 || b.LockedTokens < 0 {
		return false
	}
	if b.LockedTokens > 0 && b.LockType == LockTypeNone {
		return false
	}
	if (b.LockType == LockTypeTimeLocked) != (b.UnlockAt != nil) {
		return false
	}
	return true
}

// TokenMovement is the append-only journal of balance changes. TotalDelta is
// what point-in-time snapshots replay; LiquidDelta is kept for audit.
type TokenMovement struct {
	ID          uint      `gorm:"primarykey" json:"id"`
	HolderID    string    `gorm:"size:64;not null;index:idx_token_movement_lookup" json:"holder_id"`
	ProjectID   uint      `gorm:"not null;index:idx_token_movement_lookup" json:"project_id"`
	Kind        string    `gorm:"size:16;not null" json:"kind"`
	TotalDelta  int64     `gorm:"not null" json:"total_delta"`
	LiquidDelta int64     `gorm:"not null" json:"liquid_delta"`
	Counterpart string    `gorm:"size:64" json:"counterpart"`
	OccurredAt  time.Time `gorm:"not null;index:idx_token_movement_lookup" json:"occurred_at"`
}

func (TokenMovement) TableName() string {
	return "token_movements"
}
