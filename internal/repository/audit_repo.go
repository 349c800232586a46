package repository

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"ach-settlement-backend/internal/models"
)

type GormAuditRepository struct {
	db *gorm.DB
}

func NewGormAuditRepository(db *gorm.DB) *GormAuditRepository {
	return &GormAuditRepository{db: db}
}

func (r *GormAuditRepository) Insert(e *models.AuditEvent) error {
	return r.db.Create(e).Error
}

func (r *GormAuditRepository) ForEntity(entityType, entityID string, limit int) ([]models.AuditEvent, error) {
	var events []models.AuditEvent
	query := r.db.
		Where("entity_type = ? AND entity_id = ?", entityType, entityID).
		Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&events).Error
	return events, err
}

func (r *GormAuditRepository) ByCorrelation(correlationID uuid.UUID) ([]models.AuditEvent, error) {
	var events []models.AuditEvent
	err := r.db.
		Where("correlation_id = ?", correlationID).
		Order("created_at ASC").
		Find(&events).Error
	return events, err
}

func (r *GormAuditRepository) Recent(filter AuditFilter) ([]models.AuditEvent, error) {
	var events []models.AuditEvent
	query := r.db.Order("created_at DESC")
	if filter.Action != "" {
		query = query.Where("action = ?", filter.Action)
	}
	if filter.EntityType != "" {
		query = query.Where("entity_type = ?", filter.EntityType)
	}
	if filter.EntityID != "" {
		query = query.Where("entity_id = ?", filter.EntityID)
	}
	if !filter.Since.IsZero() {
		query = query.Where("created_at >= ?", filter.Since)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	err := query.Limit(limit).Find(&events).Error
	return events, err
}

func (r *GormAuditRepository) DeleteOlderThan(cutoff time.Time) (int64, error) {
	result := r.db.Where("created_at < ?", cutoff).Delete(&models.AuditEvent{})
	return result.RowsAffected, result.Error
}
