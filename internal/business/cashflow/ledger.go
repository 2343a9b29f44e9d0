// Package cashflow records project cashflow events and owns their lifecycle:
// recorded -> verified -> distributed. The distributed transition is only
// reachable through MarkDistributed, inside the distribution engine's unit of work.
package cashflow

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

// QueueCashflowVerified carries the id of every newly verified event.
const QueueCashflowVerified = "cashflow_verified"

const module = "cashflow"

// Publisher is satisfied by config.Publisher.
type Publisher interface {
	Publish(queueName string, message interface{}) error
}

// VerifiedMessage is published after a successful Verify commit.
type VerifiedMessage struct {
	EventID   uint   `json:"event_id"`
	ProjectID uint   `json:"project_id"`
	Amount    string `json:"amount"`
}

type Ledger struct {
	uow       *store.UnitOfWork
	clock     clockwork.Clock
	scale     int32
	publisher Publisher
}

func NewLedger(uow *store.UnitOfWork, clock clockwork.Clock, scale int32) *Ledger {
	return &Ledger{uow: uow, clock: clock, scale: scale}
}

// WithPublisher enables the cashflow_verified notification.
func (l *Ledger) WithPublisher(p Publisher) *Ledger {
	l.publisher = p
	return l
}

// Record stores a new event in the recorded state.
func (l *Ledger) Record(ctx context.Context, projectID uint, amount decimal.Decimal, kind, description string) (*models.CashflowEvent, error) {
	if !amount.IsPositive() {
		return nil, errs.Validation("amount must be positive, got %s", amount)
	}
	if !utils.HasScale(amount, l.scale) {
		return nil, errs.Validation("amount %s has more than %d decimal places", amount, l.scale)
	}
	kind = strings.ToLower(strings.TrimSpace(kind))
	if kind != models.CashflowKindRevenue && kind != models.CashflowKindExpense {
		return nil, errs.Validation("unknown cashflow kind %q", kind)
	}

	event := &models.CashflowEvent{
		ProjectID:   projectID,
		Amount:      amount,
		Kind:        kind,
		Description: description,
		Status:      models.CashflowStatusRecorded,
	}
	err := l.uow.Do(ctx, func(tx *gorm.DB) error {
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
		return tx.Create(event).Error
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"event_id":   event.ID,
		"project_id": projectID,
		"amount":     amount.String(),
		"kind":       kind,
	}).Info("> cashflow event recorded")
	return event, nil
}

// Verify moves a recorded event to verified. Concurrent verifications of the
// same event race on a conditional update; exactly one wins.
func (l *Ledger) Verify(ctx context.Context, eventID uint, reviewerID, notes string) (*models.CashflowEvent, error) {
	if strings.TrimSpace(reviewerID) == "" {
		return nil, errs.Validation("reviewer id is required")
	}

	var event models.CashflowEvent
	err := l.uow.Do(ctx, func(tx *gorm.DB) error {
		now := l.clock.Now().UTC()
		res := tx.Model(&models.CashflowEvent{}).
			Where("id = ? AND status = ?", eventID, models.CashflowStatusRecorded).
			Updates(map[string]interface{}{
				"status":       models.CashflowStatusVerified,
				"verified_by":  reviewerID,
				"verified_at":  now,
				"verify_notes": notes,
			})
		if res.Error != nil {
			return res.Error
		}
		if err := tx.First(&event, eventID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errs.NotFound("cashflow event %d", eventID)
			}
			return err
		}
		if res.RowsAffected == 0 {
			return errs.InvalidState("cashflow event %d is %s, expected %s", eventID, event.Status, models.CashflowStatusRecorded)
		}
		return store.Audit(tx, module, event.ProjectID, reviewerID, "cashflow event verified", models.JSONMap{
			"event_id": event.ID,
			"amount":   event.Amount.String(),
			"notes":    notes,
		})
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"event_id": event.ID,
		"reviewer": reviewerID,
	}).Info("> cashflow event verified")

	if l.publisher != nil {
		msg := VerifiedMessage{EventID: event.ID, ProjectID: event.ProjectID, Amount: event.Amount.String()}
		if err := l.publisher.Publish(QueueCashflowVerified, msg); err != nil {
			// The event is verified either way; execution can still be triggered over HTTP.
			log.WithError(err).WithField("event_id", event.ID).Warn("> failed to publish cashflow_verified")
		}
	}
	return &event, nil
}

// LockForDistribution loads a verified event under a row lock in the caller's
// transaction.
func LockForDistribution(tx *gorm.DB, eventID uint) (*models.CashflowEvent, error) {
	var event models.CashflowEvent
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&event, eventID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.NotFound("cashflow event %d", eventID)
		}
		return nil, err
	}
	if event.Status != models.CashflowStatusVerified {
		return nil, errs.InvalidState("cashflow event %d is %s, expected %s", eventID, event.Status, models.CashflowStatusVerified)
	}
	return &event, nil
}

// MarkDistributed flips verified -> distributed on the caller's transaction.
func MarkDistributed(tx *gorm.DB, eventID uint, at time.Time) error {
	res := tx.Model(&models.CashflowEvent{}).
		Where("id = ? AND status = ?", eventID, models.CashflowStatusVerified).
		Updates(map[string]interface{}{
			"status":         models.CashflowStatusDistributed,
			"distributed_at": at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errs.InvalidState("cashflow event %d is not verified", eventID)
	}
	return nil
}

func (l *Ledger) Get(ctx context.Context, eventID uint) (*models.CashflowEvent, error) {
	var event models.CashflowEvent
	if err := l.uow.DB().WithContext(ctx).First(&event, eventID).Error; err != nil {
		return nil, store.Translate(err)
	}
	return &event, nil
}

// ListByProject returns the project's events newest first, optionally filtered by status.
func (l *Ledger) ListByProject(ctx context.Context, projectID uint, status string, page, pageSize int) ([]models.CashflowEvent, int64, error) {
	query := l.uow.DB().WithContext(ctx).Model(&models.CashflowEvent{}).Where("project_id = ?", projectID)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var events []models.CashflowEvent
	err := query.Order("id DESC").Offset((page - 1) * pageSize).Limit(pageSize).Find(&events).Error
	return events, total, err
}
