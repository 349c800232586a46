package repository

import (
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"ach-settlement-backend/internal/models"
)

type GormBatchRepository struct {
	db *gorm.DB
}

func NewGormBatchRepository(db *gorm.DB) *GormBatchRepository {
	return &GormBatchRepository{db: db}
}

func (r *GormBatchRepository) SaveBatch(b *models.Batch) error {
	return r.db.Save(b).Error
}

func (r *GormBatchRepository) FindBatch(id uuid.UUID) (*models.Batch, error) {
	var batch models.Batch
	err := r.db.First(&batch, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &batch, nil
}

func (r *GormBatchRepository) ListBatches(filter BatchFilter) ([]models.Batch, error) {
	var batches []models.Batch
	query := r.db.Order("sequence_number DESC")
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	err := query.Find(&batches).Error
	return batches, err
}

func (r *GormBatchRepository) NextSequenceNumber() (int, error) {
	var max int
	err := r.db.Model(&models.Batch{}).
		Select("COALESCE(MAX(sequence_number), 0)").
		Scan(&max).Error
	if err != nil {
		return 0, err
	}
	return max + 1, nil
}

func (r *GormBatchRepository) SaveItem(item *models.BatchItem) error {
	return r.db.Save(item).Error
}

func (r *GormBatchRepository) SaveItems(items []*models.BatchItem) error {
	if len(items) == 0 {
		return nil
	}
	return r.db.Save(items).Error
}

func (r *GormBatchRepository) FindItemsByBatch(batchID uuid.UUID) ([]models.BatchItem, error) {
	var items []models.BatchItem
	err := r.db.Where("batch_id = ?", batchID).Order("trace_number ASC").Find(&items).Error
	return items, err
}

func (r *GormBatchRepository) FindItemByTrace(traceNumber string) (*models.BatchItem, error) {
	var item models.BatchItem
	err := r.db.First(&item, "trace_number = ?", traceNumber).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *GormBatchRepository) FindItemsByOrderRef(orderRef string) ([]models.BatchItem, error) {
	var items []models.BatchItem
	err := r.db.Where("order_ref = ?", orderRef).Order("created_at DESC").Find(&items).Error
	return items, err
}

func (r *GormBatchRepository) OrderRefsInFlight() (map[string]bool, error) {
	var refs []string
	err := r.db.Model(&models.BatchItem{}).
		Joins("JOIN batches ON batches.id = batch_items.batch_id").
		Where("batches.status NOT IN ?", []string{models.BatchReconciled, models.BatchFailed}).
		Or("batch_items.status = ?", models.ItemReturned).
		Distinct().
		Pluck("batch_items.order_ref", &refs).Error
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(refs))
	for _, ref := range refs {
		set[ref] = true
	}
	return set, nil
}

type statRow struct {
	Status string
	Count  int64
	Sum    int64
}

func (r *GormBatchRepository) Stats() (*Statistics, error) {
	stats := &Statistics{
		BatchCountByStatus: map[string]int64{},
		ItemCountByStatus:  map[string]int64{},
	}

	var batchRows []statRow
	err := r.db.Model(&models.Batch{}).
		Select("status, COUNT(*) as count").
		Group("status").
		Scan(&batchRows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range batchRows {
		stats.BatchCountByStatus[row.Status] = row.Count
	}

	var itemRows []statRow
	err = r.db.Model(&models.BatchItem{}).
		Select("status, COUNT(*) as count, COALESCE(SUM(amount),0) as sum").
		Group("status").
		Scan(&itemRows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range itemRows {
		stats.ItemCountByStatus[row.Status] = row.Count
	}

	err = r.db.Model(&models.Batch{}).
		Select("COALESCE(SUM(total_debit),0)").
		Scan(&stats.TotalDebit).Error
	if err != nil {
		return nil, err
	}
	err = r.db.Model(&models.Batch{}).
		Select("COALESCE(SUM(total_credit),0)").
		Scan(&stats.TotalCredit).Error
	if err != nil {
		return nil, err
	}

	err = r.db.Model(&models.ReturnRecord{}).Count(&stats.ReturnCount).Error
	if err != nil {
		return nil, err
	}
	err = r.db.Model(&models.ReturnRecord{}).
		Where("batch_id IS NULL").
		Count(&stats.OrphanReturnCount).Error
	if err != nil {
		return nil, err
	}

	return stats, nil
}
