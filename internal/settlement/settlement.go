// Package settlement executes the transfer legs produced by a distribution.
// Every instruction carries a deterministic idempotency key; a Settler must
// apply a key at most once no matter how often it is submitted.
package settlement

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusConfirmed Status = "confirmed"
	StatusPending   Status = "pending"
	StatusFailed    Status = "failed" // definitively not applied, safe to resubmit
)

// ErrInvalidInstruction marks instructions a settler refuses outright.
var ErrInvalidInstruction = errors.New("settlement: invalid instruction")

// Instruction is one transfer to execute.
type Instruction struct {
	IdempotencyKey string
	FromAccount    string
	ToAccount      string
	Amount         decimal.Decimal
	Currency       string
}

// Settler is the settlement collaborator contract.
type Settler interface {
	// Transfer submits ins. Resubmitting a key that was already applied
	// returns its current status without moving funds again.
	Transfer(ctx context.Context, ins Instruction) (Status, error)

	// QueryStatus reports the outcome for a key. Unknown keys are failed.
	QueryStatus(ctx context.Context, idempotencyKey string) (Status, error)
}
