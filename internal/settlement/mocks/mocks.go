package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"agrivest/internal/settlement"
)

// Settler is a mock for settlement.Settler.
type Settler struct {
	mock.Mock
}

func (m *Settler) Transfer(ctx context.Context, ins settlement.Instruction) (settlement.Status, error) {
	args := m.Called(ctx, ins)
	return args.Get(0).(settlement.Status), args.Error(1)
}

func (m *Settler) QueryStatus(ctx context.Context, idempotencyKey string) (settlement.Status, error) {
	args := m.Called(ctx, idempotencyKey)
	return args.Get(0).(settlement.Status), args.Error(1)
}

// AccountResolver is a mock for the holder account lookup used by the engine.
type AccountResolver struct {
	mock.Mock
}

func (m *AccountResolver) ResolveAccount(ctx context.Context, holderID string) (string, error) {
	args := m.Called(ctx, holderID)
	return args.String(0), args.Error(1)
}
