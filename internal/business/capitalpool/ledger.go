// Package capitalpool is the capital pool ledger: outside contributions,
// their approval, and allocation of pooled capital to projects in proportion
// to each contributor's live share of approved capital.
package capitalpool

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"agrivest/internal/business/errs"
	"agrivest/internal/models"
	"agrivest/internal/store"
	"agrivest/pkg/utils"
)

const (
	module = "capital_pool"

	// shareScale matches numeric(9,8) on pool_share_snapshot and share_pct.
	shareScale = 8
)

type Ledger struct {
	uow   *store.UnitOfWork
	clock clockwork.Clock
	scale int32
}

func NewLedger(uow *store.UnitOfWork, clock clockwork.Clock, scale int32) *Ledger {
	return &Ledger{uow: uow, clock: clock, scale: scale}
}

func (l *Ledger) validAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return errs.Validation("amount must be positive, got %s", amount)
	}
	if !utils.HasScale(amount, l.scale) {
		return errs.Validation("amount %s has more than %d decimal places", amount, l.scale)
	}
	return nil
}

// SubmitContribution records a pending contribution.
func (l *Ledger) SubmitContribution(ctx context.Context, contributorID string, amount decimal.Decimal, proof string) (*models.Contribution, error) {
	contributorID = strings.TrimSpace(contributorID)
	if contributorID == "" {
		return nil, errs.Validation("contributor id is required")
	}
	if err := l.validAmount(amount); err != nil {
		return nil, err
	}

	c := &models.Contribution{
		ContributorID: contributorID,
		Amount:        amount,
		Status:        models.ContributionStatusPending,
		Proof:         proof,
	}
	if err := l.uow.DB().WithContext(ctx).Create(c).Error; err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{
		"contribution_id": c.ID,
		"contributor_id":  contributorID,
		"amount":          amount.String(),
	}).Info("> contribution submitted")
	return c, nil
}

// Approve moves a pending contribution to approved, freezes the contributor's
// pool share at this instant and credits the pool. Approvals and allocations
// serialise on the pool row.
func (l *Ledger) Approve(ctx context.Context, contributionID uint, adminID string) (*models.Contribution, error) {
	if strings.TrimSpace(adminID) == "" {
		return nil, errs.Validation("admin id is required")
	}

	var c models.Contribution
	err := l.uow.Do(ctx, func(tx *gorm.DB) error {
		pool, err := lockPool(tx)
		if err != nil {
			return err
		}
		if err := loadPending(tx, contributionID, &c); err != nil {
			return err
		}

		var contributor models.PoolContributor
		err = tx.Where("contributor_id = ?", c.ContributorID).First(&contributor).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			contributor = models.PoolContributor{ContributorID: c.ContributorID, ApprovedTotal: decimal.Zero, SharePct: decimal.Zero}
		} else if err != nil {
			return err
		}
		contributor.ApprovedTotal = contributor.ApprovedTotal.Add(c.Amount)

		pool.ApprovedTotal = pool.ApprovedTotal.Add(c.Amount)
		pool.AvailableBalance = pool.ApprovedTotal.Sub(pool.AllocatedTotal)
		share := contributor.ApprovedTotal.DivRound(pool.ApprovedTotal, shareScale)

		now := l.clock.Now().UTC()
		res := tx.Model(&models.Contribution{}).
			Where("id = ? AND status = ?", c.ID, models.ContributionStatusPending).
			Updates(map[string]interface{}{
				"status":              models.ContributionStatusApproved,
				"approved_by":         adminID,
				"approved_at":         now,
				"pool_share_snapshot": share,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errs.InvalidState("contribution %d is no longer pending", c.ID)
		}
		c.Status = models.ContributionStatusApproved
		c.ApprovedBy = adminID
		c.ApprovedAt = &now
		c.PoolShareSnapshot = &share

		if err := tx.Save(&contributor).Error; err != nil {
			return err
		}
		if err := tx.Save(pool).Error; err != nil {
			return err
		}
		if err := refreshShares(tx, pool.ApprovedTotal); err != nil {
			return err
		}
		return store.Audit(tx, module, 0, adminID, "contribution approved", models.JSONMap{
			"contribution_id": c.ID,
			"contributor_id":  c.ContributorID,
			"amount":          c.Amount.String(),
			"pool_share":      share.String(),
		})
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"contribution_id": c.ID,
		"contributor_id":  c.ContributorID,
		"pool_share":      c.PoolShareSnapshot.String(),
	}).Info("> contribution approved")
	return &c, nil
}

// Reject moves a pending contribution to rejected. The pool is untouched.
func (l *Ledger) Reject(ctx context.Context, contributionID uint, adminID, reason string) (*models.Contribution, error) {
	if strings.TrimSpace(adminID) == "" {
		return nil, errs.Validation("admin id is required")
	}

	var c models.Contribution
	err := l.uow.Do(ctx, func(tx *gorm.DB) error {
		if err := loadPending(tx, contributionID, &c); err != nil {
			return err
		}
		res := tx.Model(&models.Contribution{}).
			Where("id = ? AND status = ?", c.ID, models.ContributionStatusPending).
			Updates(map[string]interface{}{
				"status":        models.ContributionStatusRejected,
				"rejected_by":   adminID,
				"reject_reason": reason,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errs.InvalidState("contribution %d is no longer pending", c.ID)
		}
		c.Status = models.ContributionStatusRejected
		c.RejectedBy = adminID
		c.RejectReason = reason
		return store.Audit(tx, module, 0, adminID, "contribution rejected", models.JSONMap{
			"contribution_id": c.ID,
			"reason":          reason,
		})
	})
	if err != nil {
		return nil, err
	}
	log.WithField("contribution_id", c.ID).Info("> contribution rejected")
	return &c, nil
}

// Allocate deploys pool capital to an active project. Per-contributor shares
// follow the live approved totals, not the frozen approval snapshots, and sum
// to totalAmount exactly.
func (l *Ledger) Allocate(ctx context.Context, projectID uint, totalAmount decimal.Decimal, purpose, adminID string) (*models.Allocation, error) {
	if strings.TrimSpace(adminID) == "" {
		return nil, errs.Validation("admin id is required")
	}
	if err := l.validAmount(totalAmount); err != nil {
		return nil, err
	}

	var allocation models.Allocation
	err := l.uow.Do(ctx, func(tx *gorm.DB) error {
		pool, err := lockPool(tx)
		if err != nil {
			return err
		}

		var project models.Project
		if err := tx.First(&project, projectID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errs.Validation("project %d does not exist", projectID)
			}
			return err
		}
		if !project.IsActive() {
			return errs.Validation("project %d is %s", projectID, project.Status)
		}

		if totalAmount.GreaterThan(pool.AvailableBalance) {
			return errs.InsufficientPool("allocation %s exceeds available balance %s", totalAmount, pool.AvailableBalance)
		}

		var contributors []models.PoolContributor
		if err := tx.Where("approved_total > 0").Order("contributor_id").Find(&contributors).Error; err != nil {
			return err
		}
		weights := make([]utils.Weight, len(contributors))
		for i, c := range contributors {
			weights[i] = utils.Weight{Key: c.ContributorID, Amount: c.ApprovedTotal}
		}
		amounts, err := utils.ProRata(totalAmount, weights, l.scale)
		if err != nil {
			return errs.InsufficientPool("no approved capital to allocate: %v", err)
		}

		allocation = models.Allocation{
			ProjectID:      projectID,
			TotalAmount:    totalAmount,
			Purpose:        purpose,
			AllocatedBy:    adminID,
			AllocationDate: l.clock.Now().UTC(),
		}
		for i, c := range contributors {
			allocation.Shares = append(allocation.Shares, models.AllocationShare{
				ContributorID: c.ContributorID,
				Amount:        amounts[i],
			})
		}
		if err := tx.Create(&allocation).Error; err != nil {
			return err
		}

		pool.AllocatedTotal = pool.AllocatedTotal.Add(totalAmount)
		pool.AvailableBalance = pool.ApprovedTotal.Sub(pool.AllocatedTotal)
		if err := tx.Save(pool).Error; err != nil {
			return err
		}
		return store.Audit(tx, module, projectID, adminID, "capital allocated", models.JSONMap{
			"allocation_id": allocation.ID,
			"amount":        totalAmount.String(),
			"contributors":  len(contributors),
		})
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"allocation_id": allocation.ID,
		"project_id":    projectID,
		"amount":        totalAmount.String(),
		"admin_id":      adminID,
	}).Info("> capital allocated")
	return &allocation, nil
}

// AvailableBalance is the sum of approved contributions minus the sum of allocations.
func (l *Ledger) AvailableBalance(ctx context.Context) (decimal.Decimal, error) {
	db := l.uow.DB().WithContext(ctx)

	var approved, allocated decimal.Decimal
	err := db.Model(&models.Contribution{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("status = ?", models.ContributionStatusApproved).
		Row().Scan(&approved)
	if err != nil {
		return decimal.Zero, err
	}
	err = db.Model(&models.Allocation{}).Select("COALESCE(SUM(total_amount), 0)").Row().Scan(&allocated)
	if err != nil {
		return decimal.Zero, err
	}
	return approved.Sub(allocated).Round(l.scale), nil
}

// Replenish writes the LP-replenishment line for a distribution on the
// caller's transaction. Replenishments are tracked beside, not inside, the
// available balance.
func Replenish(tx *gorm.DB, distributionID, projectID uint, amount decimal.Decimal) error {
	line := models.PoolReplenishment{
		DistributionID: distributionID,
		ProjectID:      projectID,
		Amount:         amount,
	}
	if err := tx.Create(&line).Error; err != nil {
		return err
	}
	return tx.Model(&models.CapitalPool{}).
		Where("id = ?", models.CapitalPoolID).
		Update("replenished_total", gorm.Expr("replenished_total + ?", amount)).Error
}

// Shares returns the stored share projection, largest first.
func (l *Ledger) Shares(ctx context.Context) ([]models.PoolContributor, error) {
	var shares []models.PoolContributor
	err := l.uow.DB().WithContext(ctx).Order("approved_total DESC, contributor_id").Find(&shares).Error
	return shares, err
}

// Summary returns the pool aggregates row.
func (l *Ledger) Summary(ctx context.Context) (*models.CapitalPool, error) {
	var pool models.CapitalPool
	if err := l.uow.DB().WithContext(ctx).First(&pool, models.CapitalPoolID).Error; err != nil {
		return nil, store.Translate(err)
	}
	return &pool, nil
}

func (l *Ledger) ListContributions(ctx context.Context, status string, page, pageSize int) ([]models.Contribution, int64, error) {
	query := l.uow.DB().WithContext(ctx).Model(&models.Contribution{})
	if status != "" {
		query = query.Where("status = ?", status)
	}
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var rows []models.Contribution
	err := query.Order("id DESC").Offset((page - 1) * pageSize).Limit(pageSize).Find(&rows).Error
	return rows, total, err
}

func (l *Ledger) ListAllocations(ctx context.Context, projectID uint, page, pageSize int) ([]models.Allocation, int64, error) {
	query := l.uow.DB().WithContext(ctx).Model(&models.Allocation{})
	if projectID != 0 {
		query = query.Where("project_id = ?", projectID)
	}
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var rows []models.Allocation
	err := query.Preload("Shares").Order("id DESC").Offset((page - 1) * pageSize).Limit(pageSize).Find(&rows).Error
	return rows, total, err
}

// TakeSnapshot copies the pool aggregates into capital_pool_snapshots.
func (l *Ledger) TakeSnapshot(ctx context.Context) (*models.CapitalPoolSnapshot, error) {
	var snap models.CapitalPoolSnapshot
	err := l.uow.Do(ctx, func(tx *gorm.DB) error {
		var pool models.CapitalPool
		if err := tx.First(&pool, models.CapitalPoolID).Error; err != nil {
			return err
		}
		var contributors int64
		if err := tx.Model(&models.PoolContributor{}).Count(&contributors).Error; err != nil {
			return err
		}
		snap = models.CapitalPoolSnapshot{
			ApprovedTotal:      pool.ApprovedTotal,
			AllocatedTotal:     pool.AllocatedTotal,
			AvailableBalance:   pool.AvailableBalance,
			ReplenishedTotal:   pool.ReplenishedTotal,
			ContributorCount:   contributors,
			CreatedAtByZeroSec: l.clock.Now().UTC().Truncate(time.Minute),
		}
		return tx.Create(&snap).Error
	})
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

func lockPool(tx *gorm.DB) (*models.CapitalPool, error) {
	seed := models.CapitalPool{ID: models.CapitalPoolID}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
		return nil, err
	}
	var pool models.CapitalPool
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&pool, models.CapitalPoolID).Error; err != nil {
		return nil, err
	}
	return &pool, nil
}

func loadPending(tx *gorm.DB, contributionID uint, c *models.Contribution) error {
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(c, contributionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errs.NotFound("contribution %d", contributionID)
	}
	if err != nil {
		return err
	}
	if c.Status != models.ContributionStatusPending {
		return errs.InvalidState("contribution %d is %s, expected %s", contributionID, c.Status, models.ContributionStatusPending)
	}
	return nil
}

// refreshShares rewrites the share_pct projection against the new pool total.
func refreshShares(tx *gorm.DB, poolTotal decimal.Decimal) error {
	var contributors []models.PoolContributor
	if err := tx.Find(&contributors).Error; err != nil {
		return err
	}
	for i := range contributors {
		c := &contributors[i]
		pct := c.ApprovedTotal.DivRound(poolTotal, shareScale)
		if err := tx.Model(c).Update("share_pct", pct).Error; err != nil {
			return err
		}
	}
	return nil
}
