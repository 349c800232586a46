package repository

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"ach-settlement-backend/internal/models"
)

// ErrNotFound is returned by every repository for a missing row,
// regardless of the backing store.
var ErrNotFound = errors.New("record not found")

type BatchFilter struct {
	Status string
	Limit  int
}

type ReturnFilter struct {
	Status string
	Limit  int
}

type AuditFilter struct {
	Action     string
	EntityType string
	EntityID   string
	Since      time.Time
	Limit      int
}

// Statistics is the aggregate view surfaced to the hosting application.
type Statistics struct {
	BatchCountByStatus map[string]int64 `json:"batch_count_by_status"`
	ItemCountByStatus  map[string]int64 `json:"item_count_by_status"`
	TotalDebit         int64            `json:"total_debit"`
	TotalCredit        int64            `json:"total_credit"`
	ReturnCount        int64            `json:"return_count"`
	OrphanReturnCount  int64            `json:"orphan_return_count"`
}

// BatchRepository is the narrow contract the lifecycle manager and the
// reconciliation engine run against. Any relational or embedded store
// satisfies it; gorm and in-memory implementations live in this package.
type BatchRepository interface {
	SaveBatch(b *models.Batch) error
	FindBatch(id uuid.UUID) (*models.Batch, error)
	ListBatches(filter BatchFilter) ([]models.Batch, error)
	// NextSequenceNumber hands out the next batch sequence, starting at 1.
	NextSequenceNumber() (int, error)

	SaveItem(item *models.BatchItem) error
	SaveItems(items []*models.BatchItem) error
	FindItemsByBatch(batchID uuid.UUID) ([]models.BatchItem, error)
	FindItemByTrace(traceNumber string) (*models.BatchItem, error)
	FindItemsByOrderRef(orderRef string) ([]models.BatchItem, error)

	// OrderRefsInFlight returns refs already included in a non-terminal
	// batch, plus refs whose prior item came back returned and has not
	// been resolved. Both exclude an order from new batches.
	OrderRefsInFlight() (map[string]bool, error)

	Stats() (*Statistics, error)
}

type ReturnRepository interface {
	SaveReturn(r *models.ReturnRecord) error
	ListReturns(filter ReturnFilter) ([]models.ReturnRecord, error)
	// PendingOlderThan lists unmatched-so-far returns created before the
	// cutoff, candidates for the terminal unmatched state.
	PendingOlderThan(cutoff time.Time) ([]models.ReturnRecord, error)
}

type AuditRepository interface {
	Insert(e *models.AuditEvent) error
	ForEntity(entityType, entityID string, limit int) ([]models.AuditEvent, error)
	ByCorrelation(correlationID uuid.UUID) ([]models.AuditEvent, error)
	Recent(filter AuditFilter) ([]models.AuditEvent, error)
	DeleteOlderThan(cutoff time.Time) (int64, error)
}
