// Package errs holds the error taxonomy shared by the ledgers and the
// distribution engine. Callers match with errors.Is against the sentinels;
// the wrapped message carries the detail.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation indicates malformed or non-positive input. Nothing was written.
	ErrValidation = errors.New("validation error")

	// ErrInvalidState indicates the entity is not in a state that permits the operation.
	ErrInvalidState = errors.New("invalid state")

	// ErrInsufficientLiquidBalance indicates a transfer or lock exceeds the liquid tokens.
	ErrInsufficientLiquidBalance = errors.New("insufficient liquid balance")

	// ErrInsufficientPoolBalance indicates an allocation exceeds the pool's available balance.
	ErrInsufficientPoolBalance = errors.New("insufficient pool balance")

	// ErrSettlementUncertain indicates a transfer outcome could not be confirmed in time.
	ErrSettlementUncertain = errors.New("settlement outcome uncertain")

	// ErrConcurrencyConflict indicates the datastore aborted a transaction that raced
	// another one. Retry the whole operation.
	ErrConcurrencyConflict = errors.New("concurrency conflict")

	// ErrNotFound indicates the referenced entity does not exist.
	ErrNotFound = errors.New("not found")
)

func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func InvalidState(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidState, fmt.Sprintf(format, args...))
}

func NotFound(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

func InsufficientLiquid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInsufficientLiquidBalance, fmt.Sprintf(format, args...))
}

func InsufficientPool(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInsufficientPoolBalance, fmt.Sprintf(format, args...))
}

// IsTerminal reports whether err is a computation-layer error that must be
// reported to the caller as-is and never retried.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrInsufficientLiquidBalance) ||
		errors.Is(err, ErrInsufficientPoolBalance) ||
		errors.Is(err, ErrNotFound)
}
