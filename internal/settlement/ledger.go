package settlement

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"agrivest/internal/models"
)

// LedgerSettler settles on the internal ledger: each instruction becomes one
// ledger_postings row keyed by its idempotency key.
type LedgerSettler struct {
	db    *gorm.DB
	clock clockwork.Clock
}

func NewLedgerSettler(db *gorm.DB, clock clockwork.Clock) *LedgerSettler {
	return &LedgerSettler{db: db, clock: clock}
}

func (s *LedgerSettler) Transfer(ctx context.Context, ins Instruction) (Status, error) {
	if ins.IdempotencyKey == "" || ins.FromAccount == "" || ins.ToAccount == "" {
		return StatusFailed, fmt.Errorf("%w: key and both accounts are required", ErrInvalidInstruction)
	}
	if !ins.Amount.IsPositive() {
		return StatusFailed, fmt.Errorf("%w: amount must be positive", ErrInvalidInstruction)
	}

	posting := models.LedgerPosting{
		IdempotencyKey: ins.IdempotencyKey,
		FromAccount:    ins.FromAccount,
		ToAccount:      ins.ToAccount,
		Amount:         ins.Amount,
		Currency:       ins.Currency,
		PostedAt:       s.clock.Now().UTC(),
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "idempotency_key"}}, DoNothing: true}).
		Create(&posting).Error
	if err != nil {
		return StatusPending, err
	}
	return StatusConfirmed, nil
}

func (s *LedgerSettler) QueryStatus(ctx context.Context, idempotencyKey string) (Status, error) {
	var posting models.LedgerPosting
	err := s.db.WithContext(ctx).Where("idempotency_key = ?", idempotencyKey).First(&posting).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return StatusFailed, nil
	}
	if err != nil {
		return StatusPending, err
	}
	return StatusConfirmed, nil
}
