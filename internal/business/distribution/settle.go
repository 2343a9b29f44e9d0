package distribution

import (
	"context"
	"errors"
	"fmt"
	"sort"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"agrivest/internal/business/errs"
	"agrivest/internal/models"
	"agrivest/internal/settlement"
	"agrivest/internal/store"
	"agrivest/pkg/metrics"
	"agrivest/pkg/retry"
)

// dispatch submits every leg once, concurrently up to opts.Concurrency.
// Leg outcomes are persisted on the leg rows; nothing here fails the caller.
func (e *Engine) dispatch(ctx context.Context, legs []models.SettlementLeg) {
	var g errgroup.Group
	g.SetLimit(e.opts.Concurrency)
	for i := range legs {
		leg := &legs[i]
		g.Go(func() error {
			return e.settleLeg(ctx, leg)
		})
	}
	if err := g.Wait(); err != nil {
		log.WithError(err).Error("> failed to record settlement leg outcome")
	}
}

// settleLeg resolves the destination if needed and submits the transfer.
func (e *Engine) settleLeg(ctx context.Context, leg *models.SettlementLeg) error {
	if leg.ToAccount == "" {
		account, err := e.accounts.ResolveAccount(ctx, leg.HolderID)
		if err != nil {
			log.WithError(err).WithFields(log.Fields{
				"distribution_id": leg.DistributionID,
				"holder_id":       leg.HolderID,
			}).Warn("> cannot resolve holder account, leg left for reconciliation")
			return e.recordLeg(ctx, leg, leg.Status, false, fmt.Errorf("resolve account: %w", err))
		}
		leg.ToAccount = account
	}

	ins := settlement.Instruction{
		IdempotencyKey: leg.IdempotencyKey,
		FromAccount:    leg.FromAccount,
		ToAccount:      leg.ToAccount,
		Amount:         leg.Amount,
		Currency:       leg.Currency,
	}

	start := e.clock.Now()
	var result settlement.Status
	cfg := e.opts.Retry
	cfg.Retryable = transient
	err := retry.Do(ctx, cfg, func() error {
		st, err := e.call(ctx, func(c context.Context) (settlement.Status, error) {
			return e.settler.Transfer(c, ins)
		})
		if err != nil {
			return err
		}
		result = st
		return nil
	})

	status := legStatus(result, err)
	metrics.RecordSettlementLeg(leg.LegType, status, e.clock.Since(start))

	fields := log.Fields{
		"distribution_id": leg.DistributionID,
		"leg_type":        leg.LegType,
		"idempotency_key": leg.IdempotencyKey,
		"status":          status,
	}
	if err != nil {
		log.WithError(err).WithFields(fields).Warn("> settlement leg not confirmed")
	} else {
		log.WithFields(fields).Info("> settlement leg submitted")
	}
	return e.recordLeg(ctx, leg, status, true, err)
}

// call runs fn under the per-leg timeout. A call that does not return in
// time reports errs.ErrSettlementUncertain: the transfer may or may not have
// been applied.
func (e *Engine) call(ctx context.Context, fn func(context.Context) (settlement.Status, error)) (settlement.Status, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.opts.LegTimeout)
	defer cancel()

	type outcome struct {
		status settlement.Status
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		st, err := fn(callCtx)
		done <- outcome{status: st, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil && errors.Is(o.err, context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: %v", errs.ErrSettlementUncertain, o.err)
		}
		return o.status, o.err
	case <-callCtx.Done():
		return "", fmt.Errorf("%w: %v", errs.ErrSettlementUncertain, callCtx.Err())
	}
}

// transient reports settler errors worth resubmitting under the same key.
// Timeouts are not: the outcome has to be queried first.
func transient(err error) bool {
	if errors.Is(err, errs.ErrSettlementUncertain) ||
		errors.Is(err, settlement.ErrInvalidInstruction) ||
		errs.IsTerminal(err) {
		return false
	}
	return errors.Is(err, errs.ErrConcurrencyConflict) || retry.IsRetryable(err)
}

// legStatus maps a submit outcome onto the leg lifecycle.
func legStatus(result settlement.Status, err error) string {
	switch {
	case err == nil:
		switch result {
		case settlement.StatusConfirmed:
			return models.LegStatusConfirmed
		case settlement.StatusFailed:
			return models.LegStatusFailed
		}
		return models.LegStatusPending
	case errors.Is(err, settlement.ErrInvalidInstruction):
		return models.LegStatusFailed
	}
	// any other error leaves the outcome open
	return models.LegStatusUnknown
}

// recordLeg persists a leg outcome. A confirmed leg is never moved back.
func (e *Engine) recordLeg(ctx context.Context, leg *models.SettlementLeg, status string, submitted bool, cause error) error {
	now := e.clock.Now().UTC()
	updates := map[string]interface{}{
		"status":          status,
		"to_account":      leg.ToAccount,
		"last_checked_at": now,
		"last_error":      "",
	}
	if cause != nil {
		updates["last_error"] = cause.Error()
	}
	if submitted {
		updates["attempts"] = gorm.Expr("attempts + 1")
		leg.Attempts++
	}
	if status == models.LegStatusConfirmed {
		updates["confirmed_at"] = now
		leg.ConfirmedAt = &now
	}
	res := e.uow.DB().WithContext(ctx).Model(&models.SettlementLeg{}).
		Where("id = ? AND status <> ?", leg.ID, models.LegStatusConfirmed).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("record leg %d: %w", leg.ID, res.Error)
	}
	if res.RowsAffected > 0 {
		leg.Status = status
		leg.LastCheckedAt = &now
		leg.LastError, _ = updates["last_error"].(string)
	}
	return nil
}

// refreshSettled marks the distribution settled once every leg is confirmed.
func (e *Engine) refreshSettled(ctx context.Context, distributionID uint) (bool, error) {
	db := e.uow.DB().WithContext(ctx)
	var open int64
	err := db.Model(&models.SettlementLeg{}).
		Where("distribution_id = ? AND status <> ?", distributionID, models.LegStatusConfirmed).
		Count(&open).Error
	if err != nil {
		return false, err
	}
	if open > 0 {
		return false, nil
	}
	res := db.Model(&models.Distribution{}).
		Where("id = ? AND settlement_status = ?", distributionID, models.DistributionSettlementPending).
		Update("settlement_status", models.DistributionSettlementSettled)
	return res.RowsAffected > 0, res.Error
}

// ReconcileReport summarises one Reconcile pass.
type ReconcileReport struct {
	Checked     int `json:"checked"`
	Confirmed   int `json:"confirmed"`
	Resubmitted int `json:"resubmitted"`
	Outstanding int `json:"outstanding"`
	Settled     int `json:"settled"`
}

type legOutcome int

const (
	outcomeOutstanding legOutcome = iota
	outcomeConfirmed
	outcomeResubmitted
	outcomeResubmittedConfirmed
)

// Reconcile walks up to limit unconfirmed legs, least recently checked
// first. Each leg's status is queried by idempotency key; only legs the
// collaborator reports as failed are submitted again. Shares are never
// recomputed. Safe to run concurrently and repeatedly.
func (e *Engine) Reconcile(ctx context.Context, limit int) (*ReconcileReport, error) {
	if limit <= 0 {
		limit = 100
	}
	var legs []models.SettlementLeg
	err := e.uow.DB().WithContext(ctx).
		Where("status <> ?", models.LegStatusConfirmed).
		Order("COALESCE(last_checked_at, created_at), id").
		Limit(limit).
		Find(&legs).Error
	if err != nil {
		metrics.RecordReconcile(err)
		return nil, err
	}

	outcomes := make([]legOutcome, len(legs))
	var g errgroup.Group
	g.SetLimit(e.opts.Concurrency)
	for i := range legs {
		i := i
		g.Go(func() error {
			var err error
			outcomes[i], err = e.reconcileLeg(ctx, &legs[i])
			return err
		})
	}
	if err := g.Wait(); err != nil {
		metrics.RecordReconcile(err)
		return nil, err
	}

	report := &ReconcileReport{Checked: len(legs)}
	touched := make(map[uint]struct{})
	for i, o := range outcomes {
		switch o {
		case outcomeConfirmed:
			report.Confirmed++
		case outcomeResubmitted:
			report.Resubmitted++
			report.Outstanding++
		case outcomeResubmittedConfirmed:
			report.Resubmitted++
			report.Confirmed++
		default:
			report.Outstanding++
		}
		touched[legs[i].DistributionID] = struct{}{}
	}

	ids := make([]uint, 0, len(touched))
	for id := range touched {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		settled, err := e.refreshSettled(ctx, id)
		if err != nil {
			metrics.RecordReconcile(err)
			return nil, err
		}
		if settled {
			report.Settled++
		}
	}

	if report.Checked > 0 {
		err := store.Audit(e.uow.DB().WithContext(ctx), module, 0, "scheduler", "settlement reconciled", models.JSONMap{
			"checked":     report.Checked,
			"confirmed":   report.Confirmed,
			"resubmitted": report.Resubmitted,
			"outstanding": report.Outstanding,
			"settled":     report.Settled,
		})
		if err != nil {
			log.WithError(err).Warn("> failed to write reconcile audit row")
		}
		log.WithFields(log.Fields{
			"checked":     report.Checked,
			"confirmed":   report.Confirmed,
			"resubmitted": report.Resubmitted,
			"outstanding": report.Outstanding,
		}).Info("> settlement reconciliation finished")
	}
	metrics.RecordReconcile(nil)
	return report, nil
}

func (e *Engine) reconcileLeg(ctx context.Context, leg *models.SettlementLeg) (legOutcome, error) {
	status, err := e.call(ctx, func(c context.Context) (settlement.Status, error) {
		return e.settler.QueryStatus(c, leg.IdempotencyKey)
	})
	if err != nil {
		next := leg.Status
		if errors.Is(err, errs.ErrSettlementUncertain) {
			next = models.LegStatusUnknown
		}
		return outcomeOutstanding, e.recordLeg(ctx, leg, next, false, fmt.Errorf("query status: %w", err))
	}

	switch status {
	case settlement.StatusConfirmed:
		if err := e.recordLeg(ctx, leg, models.LegStatusConfirmed, false, nil); err != nil {
			return outcomeOutstanding, err
		}
		return outcomeConfirmed, nil
	case settlement.StatusPending:
		return outcomeOutstanding, e.recordLeg(ctx, leg, models.LegStatusPending, false, nil)
	}

	// definitively not applied: the same key can be submitted again
	if err := e.settleLeg(ctx, leg); err != nil {
		return outcomeResubmitted, err
	}
	if leg.Status == models.LegStatusConfirmed {
		return outcomeResubmittedConfirmed, nil
	}
	return outcomeResubmitted, nil
}
