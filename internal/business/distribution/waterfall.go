package distribution

import (
	"fmt"

	"github.com/shopspring/decimal"

	"agrivest/internal/business/errs"
	"agrivest/pkg/utils"
)

// BasisPointsTotal is 100% expressed in basis points.
const BasisPointsTotal = 10000

// Waterfall is the split policy applied to every distributable cashflow. One
// value is loaded from configuration and shared by the engine and reporting.
type Waterfall struct {
	LpReplenishmentBps int64 `yaml:"lp_replenishment_bps" json:"lp_replenishment_bps"`
	RegeneratorBps     int64 `yaml:"regenerator_bps" json:"regenerator_bps"`
	TreasuryBps        int64 `yaml:"treasury_bps" json:"treasury_bps"`
	ProjectRetainedBps int64 `yaml:"project_retained_bps" json:"project_retained_bps"`
}

// Split is the result of applying a Waterfall to one amount.
type Split struct {
	LpReplenishment decimal.Decimal `json:"lp_replenishment"`
	Regenerator     decimal.Decimal `json:"regenerator"`
	Treasury        decimal.Decimal `json:"treasury"`
	ProjectRetained decimal.Decimal `json:"project_retained"`
}

// DefaultWaterfall is the 40/30/20/10 split.
func DefaultWaterfall() Waterfall {
	return Waterfall{
		LpReplenishmentBps: 4000,
		RegeneratorBps:     3000,
		TreasuryBps:        2000,
		ProjectRetainedBps: 1000,
	}
}

func (w Waterfall) Validate() error {
	for name, bps := range map[string]int64{
		"lp_replenishment": w.LpReplenishmentBps,
		"regenerator":      w.RegeneratorBps,
		"treasury":         w.TreasuryBps,
		"project_retained": w.ProjectRetainedBps,
	} {
		if bps < 0 {
			return errs.Validation("waterfall bucket %s is negative (%d bps)", name, bps)
		}
	}
	if sum := w.LpReplenishmentBps + w.RegeneratorBps + w.TreasuryBps + w.ProjectRetainedBps; sum != BasisPointsTotal {
		return errs.Validation("waterfall buckets sum to %d bps, want %d", sum, BasisPointsTotal)
	}
	return nil
}

// Apply splits amount into the four buckets, each rounded half-even to
// scale. The project-retained bucket absorbs the rounding residual so the
// buckets always add up to amount.
func (w Waterfall) Apply(amount decimal.Decimal, scale int32) (Split, error) {
	if err := w.Validate(); err != nil {
		return Split{}, err
	}
	if amount.Sign() < 0 {
		return Split{}, errs.Validation("cannot split negative amount %s", amount)
	}
	weights := []utils.Weight{
		{Key: "lp_replenishment", Amount: decimal.NewFromInt(w.LpReplenishmentBps)},
		{Key: "regenerator", Amount: decimal.NewFromInt(w.RegeneratorBps)},
		{Key: "treasury", Amount: decimal.NewFromInt(w.TreasuryBps)},
		{Key: "project_retained", Amount: decimal.NewFromInt(w.ProjectRetainedBps)},
	}
	parts, err := utils.SplitWithAbsorber(amount, weights, 3, scale)
	if err != nil {
		return Split{}, fmt.Errorf("waterfall split: %w", err)
	}
	return Split{
		LpReplenishment: parts[0],
		Regenerator:     parts[1],
		Treasury:        parts[2],
		ProjectRetained: parts[3],
	}, nil
}

// Total adds the four buckets back together.
func (s Split) Total() decimal.Decimal {
	return utils.Sum([]decimal.Decimal{s.LpReplenishment, s.Regenerator, s.Treasury, s.ProjectRetained})
}
