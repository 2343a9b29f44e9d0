// Package distribution executes verified cashflow events. The waterfall
// split, holdings snapshot, pro-rata shares, settlement legs and the event's
// state flip are written in one transaction; settlement transfers run after
// commit and are the only step ever retried.
package distribution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"agrivest/internal/business/capitalpool"
	"agrivest/internal/business/cashflow"
	"agrivest/internal/business/errs"
	"agrivest/internal/business/holding"
	"agrivest/internal/models"
	"agrivest/internal/settlement"
	"agrivest/internal/store"
	"agrivest/pkg/metrics"
	"agrivest/pkg/retry"
	"agrivest/pkg/utils"
)

// QueueDistributionExecuted carries a summary of every committed distribution.
const QueueDistributionExecuted = "distribution_executed"

const (
	module = "distribution"
	actor  = "engine"
)

// keyNamespace scopes the UUIDv5 idempotency keys of settlement legs.
var keyNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("agrivest.settlement"))

// IdempotencyKey derives the settlement key of one leg. holderID is empty for
// the lp_replenishment and treasury legs.
func IdempotencyKey(distributionID uint, legType, holderID string) string {
	name := fmt.Sprintf("distribution:%d:%s:%s", distributionID, legType, holderID)
	return uuid.NewSHA1(keyNamespace, []byte(name)).String()
}

// AccountResolver maps a holder to the account its share is paid into.
type AccountResolver interface {
	ResolveAccount(ctx context.Context, holderID string) (string, error)
}

// ExecutedMessage is published after a distribution commits.
type ExecutedMessage struct {
	DistributionID  uint   `json:"distribution_id"`
	CashflowEventID uint   `json:"cashflow_event_id"`
	ProjectID       uint   `json:"project_id"`
	TotalAmount     string `json:"total_amount"`
	Holders         int    `json:"holders"`
}

type Options struct {
	Scale       int32
	LegTimeout  time.Duration
	Retry       retry.Config
	Concurrency int
}

func DefaultOptions() Options {
	return Options{
		Scale:       2,
		LegTimeout:  10 * time.Second,
		Retry:       retry.DefaultConfig(),
		Concurrency: 8,
	}
}

type Engine struct {
	uow       *store.UnitOfWork
	registry  *holding.Registry
	waterfall Waterfall
	settler   settlement.Settler
	accounts  AccountResolver
	clock     clockwork.Clock
	opts      Options
	publisher cashflow.Publisher
}

func NewEngine(uow *store.UnitOfWork, registry *holding.Registry, waterfall Waterfall, settler settlement.Settler, accounts AccountResolver, clock clockwork.Clock, opts Options) (*Engine, error) {
	if err := waterfall.Validate(); err != nil {
		return nil, err
	}
	if opts.LegTimeout <= 0 {
		opts.LegTimeout = DefaultOptions().LegTimeout
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = retry.DefaultConfig()
	}
	return &Engine{
		uow:       uow,
		registry:  registry,
		waterfall: waterfall,
		settler:   settler,
		accounts:  accounts,
		clock:     clock,
		opts:      opts,
	}, nil
}

// WithPublisher enables the distribution_executed notification.
func (e *Engine) WithPublisher(p cashflow.Publisher) *Engine {
	e.publisher = p
	return e
}

// Waterfall returns the policy the engine splits with.
func (e *Engine) Waterfall() Waterfall {
	return e.waterfall
}

// Result is a committed distribution with its settlement legs as they stood
// after the first dispatch.
type Result struct {
	Distribution *models.Distribution   `json:"distribution"`
	Legs         []models.SettlementLeg `json:"legs"`
}

// plan is the computed, not yet persisted, outcome for one event.
type plan struct {
	split    Split
	snapshot *holding.Snapshot
	shares   []decimal.Decimal
}

// compute plans the distribution of event from the holdings committed on tx.
// asOf only stamps the snapshot.
func (e *Engine) compute(tx *gorm.DB, event *models.CashflowEvent, asOf time.Time) (*plan, error) {
	if event.Kind != models.CashflowKindRevenue {
		return nil, errs.Validation("cashflow event %d is %s, only revenue is distributable", event.ID, event.Kind)
	}
	split, err := e.waterfall.Apply(event.Amount, e.opts.Scale)
	if err != nil {
		return nil, err
	}

	snap, err := e.registry.Current(tx, event.ProjectID, asOf)
	if err != nil {
		return nil, err
	}
	if snap.TotalTokens == 0 {
		return nil, errs.Validation("project %d has no token holders at %s", event.ProjectID, asOf.Format(time.RFC3339))
	}

	weights := make([]utils.Weight, len(snap.Holdings))
	for i, h := range snap.Holdings {
		weights[i] = utils.Weight{Key: h.HolderID, Amount: decimal.NewFromInt(h.Tokens)}
	}
	shares, err := utils.ProRata(split.Regenerator, weights, e.opts.Scale)
	if err != nil {
		return nil, fmt.Errorf("pro-rata split: %w", err)
	}
	return &plan{split: split, snapshot: snap, shares: shares}, nil
}

// Execute distributes a verified revenue event exactly once. A second call
// for the same event fails with errs.ErrInvalidState. Settlement outcomes do
// not affect the returned error; unconfirmed legs are left to Reconcile.
func (e *Engine) Execute(ctx context.Context, eventID uint) (*Result, error) {
	start := e.clock.Now()
	result, err := e.execute(ctx, eventID)
	if errors.Is(err, errs.ErrConcurrencyConflict) {
		err = e.lostRace(ctx, eventID, err)
	}
	holders := 0
	if result != nil {
		holders = len(result.Distribution.Entries)
	}
	metrics.RecordDistribution(e.clock.Since(start), holders, errs.IsTerminal(err), err)
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"event_id":        eventID,
		"distribution_id": result.Distribution.ID,
		"holders":         holders,
		"legs":            len(result.Legs),
	}).Info("> distribution committed")

	if e.publisher != nil {
		msg := ExecutedMessage{
			DistributionID:  result.Distribution.ID,
			CashflowEventID: eventID,
			ProjectID:       result.Distribution.ProjectID,
			TotalAmount:     result.Distribution.TotalAmount.String(),
			Holders:         holders,
		}
		if err := e.publisher.Publish(QueueDistributionExecuted, msg); err != nil {
			log.WithError(err).WithField("distribution_id", result.Distribution.ID).Warn("> failed to publish distribution_executed")
		}
	}

	// the distribution is committed; the caller going away must not strand legs mid-call
	dctx := context.WithoutCancel(ctx)
	e.dispatch(dctx, result.Legs)
	if settled, err := e.refreshSettled(dctx, result.Distribution.ID); err != nil {
		log.WithError(err).WithField("distribution_id", result.Distribution.ID).Warn("> failed to refresh settlement status")
	} else if settled {
		result.Distribution.SettlementStatus = models.DistributionSettlementSettled
	}
	return result, nil
}

// lostRace reports a caller that waited on the event lock while another
// execute committed. Postgres aborts such a transaction with a serialization
// failure; the event is re-read so the caller sees the distribution it lost to.
func (e *Engine) lostRace(ctx context.Context, eventID uint, conflict error) error {
	var event models.CashflowEvent
	if err := e.uow.DB().WithContext(ctx).First(&event, eventID).Error; err != nil {
		log.WithError(err).WithField("event_id", eventID).Warn("> failed to re-read cashflow event after conflict")
		return conflict
	}
	if event.Status == models.CashflowStatusDistributed {
		return errs.InvalidState("cashflow event %d already distributed", eventID)
	}
	return conflict
}

func (e *Engine) execute(ctx context.Context, eventID uint) (*Result, error) {
	var result *Result
	err := e.uow.Do(ctx, func(tx *gorm.DB) error {
		event, err := cashflow.LockForDistribution(tx, eventID)
		if err != nil {
			return err
		}
		var project models.Project
		if err := tx.First(&project, event.ProjectID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errs.NotFound("project %d", event.ProjectID)
			}
			return err
		}

		now := e.clock.Now().UTC()
		p, err := e.compute(tx, event, now)
		if err != nil {
			return err
		}

		dist := &models.Distribution{
			CashflowEventID:        event.ID,
			ProjectID:              project.ID,
			Currency:               project.Currency,
			TotalAmount:            event.Amount,
			LpReplenishmentAmount:  p.split.LpReplenishment,
			RegeneratorTotalAmount: p.split.Regenerator,
			TreasuryAmount:         p.split.Treasury,
			ProjectRetainedAmount:  p.split.ProjectRetained,
			TotalTokensAtSnapshot:  p.snapshot.TotalTokens,
			SnapshotAt:             p.snapshot.AsOf,
			SettlementStatus:       models.DistributionSettlementPending,
			DistributedAt:          now,
		}
		if err := tx.Create(dist).Error; err != nil {
			if store.IsUniqueViolation(err) {
				return errs.InvalidState("cashflow event %d already distributed", event.ID)
			}
			return err
		}

		entries := make([]models.DistributionEntry, len(p.snapshot.Holdings))
		for i, h := range p.snapshot.Holdings {
			entries[i] = models.DistributionEntry{
				DistributionID:       dist.ID,
				HolderID:             h.HolderID,
				TokensHeldAtSnapshot: h.Tokens,
				ShareAmount:          p.shares[i],
				IdempotencyKey:       IdempotencyKey(dist.ID, models.LegTypeHolder, h.HolderID),
			}
		}
		if err := tx.CreateInBatches(entries, 500).Error; err != nil {
			return err
		}

		legs := buildLegs(dist, &project, entries)
		if len(legs) > 0 {
			if err := tx.CreateInBatches(legs, 500).Error; err != nil {
				return err
			}
		} else {
			dist.SettlementStatus = models.DistributionSettlementSettled
			if err := tx.Model(dist).Update("settlement_status", dist.SettlementStatus).Error; err != nil {
				return err
			}
		}

		if err := capitalpool.Replenish(tx, dist.ID, project.ID, p.split.LpReplenishment); err != nil {
			return err
		}
		if err := cashflow.MarkDistributed(tx, event.ID, now); err != nil {
			return err
		}
		if err := store.Audit(tx, module, project.ID, actor, "distribution executed", models.JSONMap{
			"event_id":         event.ID,
			"distribution_id":  dist.ID,
			"total_amount":     event.Amount.String(),
			"lp_replenishment": p.split.LpReplenishment.String(),
			"regenerator":      p.split.Regenerator.String(),
			"treasury":         p.split.Treasury.String(),
			"project_retained": p.split.ProjectRetained.String(),
			"holders":          len(entries),
		}); err != nil {
			return err
		}

		dist.Entries = entries
		result = &Result{Distribution: dist, Legs: legs}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// buildLegs derives the settlement legs of a distribution. Zero amounts get
// no leg; the project-retained bucket stays in the revenue account.
func buildLegs(dist *models.Distribution, project *models.Project, entries []models.DistributionEntry) []models.SettlementLeg {
	var legs []models.SettlementLeg
	add := func(legType, holderID, to string, amount decimal.Decimal) {
		if !amount.IsPositive() {
			return
		}
		legs = append(legs, models.SettlementLeg{
			DistributionID: dist.ID,
			LegType:        legType,
			HolderID:       holderID,
			FromAccount:    project.RevenueAccount,
			ToAccount:      to,
			Amount:         amount,
			Currency:       dist.Currency,
			IdempotencyKey: IdempotencyKey(dist.ID, legType, holderID),
			Status:         models.LegStatusPending,
		})
	}
	add(models.LegTypeLpReplenishment, "", project.LpPoolAccount, dist.LpReplenishmentAmount)
	for _, entry := range entries {
		add(models.LegTypeHolder, entry.HolderID, "", entry.ShareAmount)
	}
	add(models.LegTypeTreasury, "", project.TreasuryAccount, dist.TreasuryAmount)
	return legs
}

// PreviewEntry is one holder's share in a Preview.
type PreviewEntry struct {
	HolderID string          `json:"holder_id"`
	Tokens   int64           `json:"tokens"`
	Share    decimal.Decimal `json:"share"`
}

// Preview is the outcome Execute would commit at AsOf.
type Preview struct {
	EventID     uint            `json:"event_id"`
	ProjectID   uint            `json:"project_id"`
	Amount      decimal.Decimal `json:"amount"`
	Split       Split           `json:"split"`
	TotalTokens int64           `json:"total_tokens"`
	AsOf        time.Time       `json:"as_of"`
	Entries     []PreviewEntry  `json:"entries"`
}

// Preview runs the computation for a not yet distributed event without
// writing anything.
func (e *Engine) Preview(ctx context.Context, eventID uint) (*Preview, error) {
	var preview *Preview
	err := e.uow.Do(ctx, func(tx *gorm.DB) error {
		var event models.CashflowEvent
		if err := tx.First(&event, eventID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errs.NotFound("cashflow event %d", eventID)
			}
			return err
		}
		if event.Status == models.CashflowStatusDistributed {
			return errs.InvalidState("cashflow event %d is already distributed", eventID)
		}
		p, err := e.compute(tx, &event, e.clock.Now().UTC())
		if err != nil {
			return err
		}
		preview = &Preview{
			EventID:     event.ID,
			ProjectID:   event.ProjectID,
			Amount:      event.Amount,
			Split:       p.split,
			TotalTokens: p.snapshot.TotalTokens,
			AsOf:        p.snapshot.AsOf,
			Entries:     make([]PreviewEntry, len(p.snapshot.Holdings)),
		}
		for i, h := range p.snapshot.Holdings {
			preview.Entries[i] = PreviewEntry{HolderID: h.HolderID, Tokens: h.Tokens, Share: p.shares[i]}
		}
		return nil
	})
	return preview, err
}
