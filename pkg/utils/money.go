package utils

import (
	"errors"
	"sort"

	"github.com/shopspring/decimal"
)

var (
	ErrNoWeights        = errors.New("utils: no weights to split across")
	ErrZeroTotalWeight  = errors.New("utils: total weight is zero")
	ErrNegativeWeight   = errors.New("utils: negative weight")
	ErrNegativeAmount   = errors.New("utils: negative amount")
	ErrAbsorberOutRange = errors.New("utils: absorber index out of range")
)

// MinorUnit returns the smallest representable amount at the given scale, e.g. 0.01 for scale 2.
func MinorUnit(scale int32) decimal.Decimal {
	return decimal.New(1, -scale)
}

// HasScale reports whether d carries no more than scale decimal places.
func HasScale(d decimal.Decimal, scale int32) bool {
	return d.Equal(d.Truncate(scale))
}

// MulDivHalfEven computes amount*num/den rounded half-even to scale. The
// quotient is derived from an exact remainder so ties are detected exactly
// instead of through a truncated intermediate division.
func MulDivHalfEven(amount, num, den decimal.Decimal, scale int32) decimal.Decimal {
	numerator := amount.Mul(num)
	q, r := numerator.QuoRem(den, scale)

	unit := MinorUnit(scale)
	// remainder is in units of den*unit; compare 2r against den*unit
	cmp := r.Abs().Mul(decimal.NewFromInt(2)).Cmp(den.Abs().Mul(unit))
	sign := int64(numerator.Sign() * den.Sign())
	switch {
	case cmp > 0:
		q = q.Add(unit.Mul(decimal.NewFromInt(sign)))
	case cmp == 0:
		if q.Shift(scale).IntPart()%2 != 0 {
			q = q.Add(unit.Mul(decimal.NewFromInt(sign)))
		}
	}
	return q
}

// Weight is one participant in a pro-rata split.
type Weight struct {
	Key    string
	Amount decimal.Decimal
}

// ProRata splits total across weights, each share rounded half-even to scale.
// The rounding residual goes to the largest weight, ties broken by the lowest
// Key, so the result always sums to total exactly.
func ProRata(total decimal.Decimal, weights []Weight, scale int32) ([]decimal.Decimal, error) {
	if len(weights) == 0 {
		return nil, ErrNoWeights
	}
	order := rankWeights(weights)
	return splitWithAbsorber(total, weights, order[0], order, scale)
}

// SplitWithAbsorber is ProRata with an explicit residual recipient.
func SplitWithAbsorber(total decimal.Decimal, weights []Weight, absorber int, scale int32) ([]decimal.Decimal, error) {
	if len(weights) == 0 {
		return nil, ErrNoWeights
	}
	if absorber < 0 || absorber >= len(weights) {
		return nil, ErrAbsorberOutRange
	}
	return splitWithAbsorber(total, weights, absorber, rankWeights(weights), scale)
}

func splitWithAbsorber(total decimal.Decimal, weights []Weight, absorber int, order []int, scale int32) ([]decimal.Decimal, error) {
	if total.Sign() < 0 {
		return nil, ErrNegativeAmount
	}
	sum := decimal.Zero
	for _, w := range weights {
		if w.Amount.Sign() < 0 {
			return nil, ErrNegativeWeight
		}
		sum = sum.Add(w.Amount)
	}
	if sum.IsZero() {
		return nil, ErrZeroTotalWeight
	}

	shares := make([]decimal.Decimal, len(weights))
	allocated := decimal.Zero
	for i, w := range weights {
		shares[i] = MulDivHalfEven(total, w.Amount, sum, scale)
		allocated = allocated.Add(shares[i])
	}

	residual := total.Sub(allocated)
	shares[absorber] = shares[absorber].Add(residual)
	if shares[absorber].Sign() >= 0 {
		return shares, nil
	}

	// Over-rounding larger than the absorber's share: claw the deficit back one
	// minor unit at a time, walking the ranked order.
	deficit := shares[absorber].Neg()
	shares[absorber] = decimal.Zero
	unit := MinorUnit(scale)
	for deficit.Sign() > 0 {
		progressed := false
		for _, i := range order {
			if deficit.Sign() <= 0 {
				break
			}
			if shares[i].GreaterThanOrEqual(unit) {
				shares[i] = shares[i].Sub(unit)
				deficit = deficit.Sub(unit)
				progressed = true
			}
		}
		if !progressed {
			return nil, ErrNegativeAmount
		}
	}
	return shares, nil
}

// rankWeights orders indices by weight descending, then key ascending.
func rankWeights(weights []Weight) []int {
	order := make([]int, len(weights))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		wa, wb := weights[order[a]], weights[order[b]]
		if c := wa.Amount.Cmp(wb.Amount); c != 0 {
			return c > 0
		}
		return wa.Key < wb.Key
	})
	return order
}

// Sum adds up amounts.
func Sum(amounts []decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}
