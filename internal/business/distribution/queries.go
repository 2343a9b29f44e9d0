package distribution

import (
	"context"

	"gorm.io/gorm"

	"agrivest/internal/models"
	"agrivest/internal/store"
)

// Get returns a distribution with its entries ordered by holder id.
func (e *Engine) Get(ctx context.Context, distributionID uint) (*models.Distribution, error) {
	var dist models.Distribution
	err := e.uow.DB().WithContext(ctx).
		Preload("Entries", func(db *gorm.DB) *gorm.DB { return db.Order("holder_id") }).
		First(&dist, distributionID).Error
	if err != nil {
		return nil, store.Translate(err)
	}
	return &dist, nil
}

// GetByEvent returns the distribution produced by a cashflow event.
func (e *Engine) GetByEvent(ctx context.Context, eventID uint) (*models.Distribution, error) {
	var dist models.Distribution
	err := e.uow.DB().WithContext(ctx).
		Preload("Entries", func(db *gorm.DB) *gorm.DB { return db.Order("holder_id") }).
		Where("cashflow_event_id = ?", eventID).
		First(&dist).Error
	if err != nil {
		return nil, store.Translate(err)
	}
	return &dist, nil
}

// Legs returns the settlement legs of a distribution in creation order.
func (e *Engine) Legs(ctx context.Context, distributionID uint) ([]models.SettlementLeg, error) {
	var legs []models.SettlementLeg
	err := e.uow.DB().WithContext(ctx).Where("distribution_id = ?", distributionID).Order("id").Find(&legs).Error
	return legs, err
}

// ListByProject is the per-project distribution history, newest first.
func (e *Engine) ListByProject(ctx context.Context, projectID uint, page, pageSize int) ([]models.Distribution, int64, error) {
	query := e.uow.DB().WithContext(ctx).Model(&models.Distribution{}).Where("project_id = ?", projectID)
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var dists []models.Distribution
	err := query.Order("id DESC").Offset((page - 1) * pageSize).Limit(pageSize).Find(&dists).Error
	return dists, total, err
}

// ListEntriesByHolder is the per-holder payout history, newest first.
func (e *Engine) ListEntriesByHolder(ctx context.Context, holderID string, page, pageSize int) ([]models.DistributionEntry, int64, error) {
	query := e.uow.DB().WithContext(ctx).Model(&models.DistributionEntry{}).Where("holder_id = ?", holderID)
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var entries []models.DistributionEntry
	err := query.Order("id DESC").Offset((page - 1) * pageSize).Limit(pageSize).Find(&entries).Error
	return entries, total, err
}
