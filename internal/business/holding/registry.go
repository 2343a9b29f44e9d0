// Package holding is the token holding registry: per-holder, per-project
// balances split into liquid and locked tokens, plus the movement journal
// used to answer point-in-time snapshots.
package holding

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"agrivest/internal/business/errs"
	"agrivest/internal/models"
	"agrivest/internal/store"
)

const module = "holding"

// LockSpec describes a lock policy applied on issuance or by Lock.
type LockSpec struct {
	Type     string     `json:"lock_type"`
	UnlockAt *time.Time `json:"unlock_at"`
	Reason   string     `json:"reason"`
}

type Registry struct {
	uow   *store.UnitOfWork
	clock clockwork.Clock
}

func NewRegistry(uow *store.UnitOfWork, clock clockwork.Clock) *Registry {
	return &Registry{uow: uow, clock: clock}
}

// Issue mints amount tokens to holderID. With a lock spec the new tokens are
// locked under that policy, otherwise they are liquid.
func (r *Registry) Issue(ctx context.Context, holderID string, projectID uint, amount int64, lock *LockSpec) (*models.TokenBalance, error) {
	holderID = strings.TrimSpace(holderID)
	if holderID == "" {
		return nil, errs.Validation("holder id is required")
	}
	if amount <= 0 {
		return nil, errs.Validation("issue amount must be positive, got %d", amount)
	}
	now := r.clock.Now().UTC()
	if lock != nil {
		if err := validateLock(lock.Type, lock.UnlockAt, now); err != nil {
			return nil, err
		}
	}

	var balance *models.TokenBalance
	err := r.uow.Do(ctx, func(tx *gorm.DB) error {
		var project models.Project
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&project, projectID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errs.Validation("project %d does not exist", projectID)
			}
			return err
		}
		if !project.IsActive() {
			return errs.Validation("project %d is %s", projectID, project.Status)
		}

		rows, err := lockBalances(tx, projectID, holderID)
		if err != nil {
			return err
		}
		b := rows[holderID]
		b.TotalTokens += amount
		liquidDelta := amount
		if lock != nil {
			b.LockedTokens += amount
			liquidDelta = 0
			mergeLock(b, lock.Type, lock.UnlockAt, lock.Reason)
		} else {
			b.LiquidTokens += amount
		}
		if err := tx.Save(b).Error; err != nil {
			return err
		}
		if err := tx.Model(&project).Update("total_token_supply", gorm.Expr("total_token_supply + ?", amount)).Error; err != nil {
			return err
		}
		balance = b
		return journal(tx, models.TokenMovement{
			HolderID: holderID, ProjectID: projectID, Kind: models.MovementIssue,
			TotalDelta: amount, LiquidDelta: liquidDelta, OccurredAt: now,
		})
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"holder_id":  holderID,
		"project_id": projectID,
		"amount":     amount,
		"locked":     lock != nil,
	}).Info("> tokens issued")
	return balance, nil
}

// TransferLiquid moves liquid tokens between holders of the same project.
// Locked tokens never move.
func (r *Registry) TransferLiquid(ctx context.Context, holderID string, projectID uint, toHolderID string, amount int64) error {
	holderID, toHolderID = strings.TrimSpace(holderID), strings.TrimSpace(toHolderID)
	if holderID == "" || toHolderID == "" {
		return errs.Validation("both holder ids are required")
	}
	if holderID == toHolderID {
		return errs.Validation("cannot transfer to the same holder")
	}
	if amount <= 0 {
		return errs.Validation("transfer amount must be positive, got %d", amount)
	}

	err := r.uow.Do(ctx, func(tx *gorm.DB) error {
		rows, err := lockBalances(tx, projectID, holderID, toHolderID)
		if err != nil {
			return err
		}
		from, to := rows[holderID], rows[toHolderID]
		if amount > from.LiquidTokens {
			return errs.InsufficientLiquid("holder %s has %d liquid tokens in project %d, transfer needs %d",
				holderID, from.LiquidTokens, projectID, amount)
		}

		from.LiquidTokens -= amount
		from.TotalTokens -= amount
		to.LiquidTokens += amount
		to.TotalTokens += amount
		if err := tx.Save(from).Error; err != nil {
			return err
		}
		if err := tx.Save(to).Error; err != nil {
			return err
		}

		now := r.clock.Now().UTC()
		return journal(tx,
			models.TokenMovement{HolderID: holderID, ProjectID: projectID, Kind: models.MovementTransferOut,
				TotalDelta: -amount, LiquidDelta: -amount, Counterpart: toHolderID, OccurredAt: now},
			models.TokenMovement{HolderID: toHolderID, ProjectID: projectID, Kind: models.MovementTransferIn,
				TotalDelta: amount, LiquidDelta: amount, Counterpart: holderID, OccurredAt: now},
		)
	})
	if err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"from":       holderID,
		"to":         toHolderID,
		"project_id": projectID,
		"amount":     amount,
	}).Info("> liquid tokens transferred")
	return nil
}

// Lock moves liquid tokens into the locked state and merges the lock policy
// with any existing one: permanent wins over time_locked, and two time locks
// keep the later unlock time.
func (r *Registry) Lock(ctx context.Context, holderID string, projectID uint, amount int64, lockType string, unlockAt *time.Time, reason string) (*models.TokenBalance, error) {
	if amount <= 0 {
		return nil, errs.Validation("lock amount must be positive, got %d", amount)
	}
	now := r.clock.Now().UTC()
	if err := validateLock(lockType, unlockAt, now); err != nil {
		return nil, err
	}

	var balance *models.TokenBalance
	err := r.uow.Do(ctx, func(tx *gorm.DB) error {
		var b models.TokenBalance
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("holder_id = ? AND project_id = ?", holderID, projectID).
			First(&b).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errs.InsufficientLiquid("holder %s has no tokens in project %d", holderID, projectID)
		}
		if err != nil {
			return err
		}
		if amount > b.LiquidTokens {
			return errs.InsufficientLiquid("holder %s has %d liquid tokens in project %d, lock needs %d",
				holderID, b.LiquidTokens, projectID, amount)
		}

		b.LiquidTokens -= amount
		b.LockedTokens += amount
		mergeLock(&b, lockType, unlockAt, reason)
		if err := tx.Save(&b).Error; err != nil {
			return err
		}
		balance = &b
		return journal(tx, models.TokenMovement{
			HolderID: holderID, ProjectID: projectID, Kind: models.MovementLock,
			TotalDelta: 0, LiquidDelta: -amount, OccurredAt: now,
		})
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"holder_id":  holderID,
		"project_id": projectID,
		"amount":     amount,
		"lock_type":  balance.LockType,
	}).Info("> tokens locked")
	return balance, nil
}

// SweepUnlocks releases every time lock whose unlock time has passed. Running
// it twice for the same instant is a no-op the second time.
func (r *Registry) SweepUnlocks(ctx context.Context, now time.Time) (int, error) {
	now = now.UTC()
	released := 0
	err := r.uow.Do(ctx, func(tx *gorm.DB) error {
		var batch []models.TokenBalance
		res := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("lock_type = ? AND unlock_at <= ?", models.LockTypeTimeLocked, now).
			FindInBatches(&batch, 200, func(btx *gorm.DB, _ int) error {
				for i := range batch {
					b := &batch[i]
					unlocked := b.LockedTokens
					b.LiquidTokens += unlocked
					b.LockedTokens = 0
					b.LockType = models.LockTypeNone
					b.LockReason = ""
					b.UnlockAt = nil
					if err := tx.Save(b).Error; err != nil {
						return err
					}
					if err := journal(tx, models.TokenMovement{
						HolderID: b.HolderID, ProjectID: b.ProjectID, Kind: models.MovementUnlock,
						TotalDelta: 0, LiquidDelta: unlocked, OccurredAt: now,
					}); err != nil {
						return err
					}
					released++
				}
				return nil
			})
		if res.Error != nil {
			return res.Error
		}
		if released == 0 {
			return nil
		}
		return store.Audit(tx, module, 0, "scheduler", "time locks released", models.JSONMap{
			"released": released,
			"as_of":    now.Format(time.RFC3339),
		})
	})
	if err != nil {
		return 0, err
	}
	if released > 0 {
		log.WithFields(log.Fields{"released": released, "as_of": now}).Info("> unlock sweep finished")
	}
	return released, nil
}

func (r *Registry) Get(ctx context.Context, holderID string, projectID uint) (*models.TokenBalance, error) {
	var b models.TokenBalance
	err := r.uow.DB().WithContext(ctx).
		Where("holder_id = ? AND project_id = ?", holderID, projectID).
		First(&b).Error
	if err != nil {
		return nil, store.Translate(err)
	}
	return &b, nil
}

func (r *Registry) ListByHolder(ctx context.Context, holderID string) ([]models.TokenBalance, error) {
	var balances []models.TokenBalance
	err := r.uow.DB().WithContext(ctx).Where("holder_id = ?", holderID).Order("project_id").Find(&balances).Error
	return balances, err
}

func (r *Registry) ListByProject(ctx context.Context, projectID uint) ([]models.TokenBalance, error) {
	var balances []models.TokenBalance
	err := r.uow.DB().WithContext(ctx).Where("project_id = ?", projectID).Order("holder_id").Find(&balances).Error
	return balances, err
}

// lockBalances ensures a row exists for every holder, then locks all of them
// in holder-id order so concurrent transfers between the same pair cannot
// deadlock.
func lockBalances(tx *gorm.DB, projectID uint, holderIDs ...string) (map[string]*models.TokenBalance, error) {
	ids := append([]string(nil), holderIDs...)
	sort.Strings(ids)

	for _, id := range ids {
		seed := models.TokenBalance{HolderID: id, ProjectID: projectID, LockType: models.LockTypeNone}
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "holder_id"}, {Name: "project_id"}},
			DoNothing: true,
		}).Create(&seed).Error
		if err != nil {
			return nil, err
		}
	}

	var rows []models.TokenBalance
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("project_id = ? AND holder_id IN ?", projectID, ids).
		Order("holder_id").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]*models.TokenBalance, len(rows))
	for i := range rows {
		out[rows[i].HolderID] = &rows[i]
	}
	for _, id := range ids {
		if _, ok := out[id]; !ok {
			return nil, errs.NotFound("token balance for holder %s in project %d", id, projectID)
		}
	}
	return out, nil
}

func journal(tx *gorm.DB, movements ...models.TokenMovement) error {
	return tx.Create(&movements).Error
}

func validateLock(lockType string, unlockAt *time.Time, now time.Time) error {
	switch lockType {
	case models.LockTypeTimeLocked:
		if unlockAt == nil {
			return errs.Validation("time_locked requires unlock_at")
		}
		if !unlockAt.After(now) {
			return errs.Validation("unlock_at %s is not in the future", unlockAt.Format(time.RFC3339))
		}
	case models.LockTypePermanent:
		if unlockAt != nil {
			return errs.Validation("permanent locks cannot carry unlock_at")
		}
	default:
		return errs.Validation("unsupported lock type %q", lockType)
	}
	return nil
}

func mergeLock(b *models.TokenBalance, lockType string, unlockAt *time.Time, reason string) {
	if reason != "" {
		b.LockReason = reason
	}
	switch {
	case b.LockType == models.LockTypePermanent:
		// permanent absorbs everything
	case lockType == models.LockTypePermanent:
		b.LockType = models.LockTypePermanent
		b.UnlockAt = nil
	case b.LockType == models.LockTypeTimeLocked && b.UnlockAt != nil && b.UnlockAt.After(*unlockAt):
		// keep the later unlock time
	default:
		at := unlockAt.UTC()
		b.LockType = models.LockTypeTimeLocked
		b.UnlockAt = &at
	}
}
