package repository

import (
	"time"

	"gorm.io/gorm"

	"ach-settlement-backend/internal/models"
)

type GormReturnRepository struct {
	db *gorm.DB
}

func NewGormReturnRepository(db *gorm.DB) *GormReturnRepository {
	return &GormReturnRepository{db: db}
}

func (r *GormReturnRepository) SaveReturn(record *models.ReturnRecord) error {
	return r.db.Save(record).Error
}

func (r *GormReturnRepository) ListReturns(filter ReturnFilter) ([]models.ReturnRecord, error) {
	var records []models.ReturnRecord
	query := r.db.Order("processed_at DESC")
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	err := query.Find(&records).Error
	return records, err
}

func (r *GormReturnRepository) PendingOlderThan(cutoff time.Time) ([]models.ReturnRecord, error) {
	var records []models.ReturnRecord
	err := r.db.
		Where("status = ? AND created_at < ?", models.ReturnPending, cutoff).
		Find(&records).Error
	return records, err
}
