package repository

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"ach-settlement-backend/internal/models"
)

// GormAuthorizationSource feeds verified payment authorizations into the
// settlement run. An order is eligible only until its first batch item
// exists; after that the batch item carries its state.
type GormAuthorizationSource struct {
	db *gorm.DB
}

func NewGormAuthorizationSource(db *gorm.DB) *GormAuthorizationSource {
	return &GormAuthorizationSource{db: db}
}

func (s *GormAuthorizationSource) GetVerifiedUnbatched(asOf time.Time) ([]models.PaymentAuthorization, error) {
	var auths []models.PaymentAuthorization
	sub := s.db.Model(&models.BatchItem{}).Select("order_ref")
	err := s.db.
		Where("verified_at IS NOT NULL AND verified_at <= ?", asOf).
		Where("order_ref NOT IN (?)", sub).
		Order("created_at ASC").
		Find(&auths).Error
	return auths, err
}

func (s *GormAuthorizationSource) GetAuthorization(orderRef string) (*models.PaymentAuthorization, error) {
	var auth models.PaymentAuthorization
	err := s.db.Where("order_ref = ?", orderRef).First(&auth).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &auth, nil
}
