package repository

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"ach-settlement-backend/internal/models"
)

// In-memory implementations of the repository contracts. They back the
// package tests and double as proof that the core carries no dependency
// on a particular storage engine.

type MemoryBatchRepository struct {
	mu      sync.Mutex
	batches map[uuid.UUID]models.Batch
	items   map[uuid.UUID]models.BatchItem
	seq     int
}

func NewMemoryBatchRepository() *MemoryBatchRepository {
	return &MemoryBatchRepository{
		batches: make(map[uuid.UUID]models.Batch),
		items:   make(map[uuid.UUID]models.BatchItem),
	}
}

func (r *MemoryBatchRepository) SaveBatch(b *models.Batch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches[b.ID] = *b
	return nil
}

func (r *MemoryBatchRepository) FindBatch(id uuid.UUID) (*models.Batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.batches[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &b, nil
}

func (r *MemoryBatchRepository) ListBatches(filter BatchFilter) ([]models.Batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Batch
	for _, b := range r.batches {
		if filter.Status != "" && b.Status != filter.Status {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].SequenceNumber > out[j].SequenceNumber
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *MemoryBatchRepository) NextSequenceNumber() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	return r.seq, nil
}

func (r *MemoryBatchRepository) SaveItem(item *models.BatchItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[item.ID] = *item
	return nil
}

func (r *MemoryBatchRepository) SaveItems(items []*models.BatchItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, item := range items {
		r.items[item.ID] = *item
	}
	return nil
}

func (r *MemoryBatchRepository) FindItemsByBatch(batchID uuid.UUID) ([]models.BatchItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.BatchItem
	for _, item := range r.items {
		if item.BatchID == batchID {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].TraceNumber < out[j].TraceNumber
	})
	return out, nil
}

func (r *MemoryBatchRepository) FindItemByTrace(traceNumber string) (*models.BatchItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, item := range r.items {
		if item.TraceNumber == traceNumber {
			out := item
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (r *MemoryBatchRepository) FindItemsByOrderRef(orderRef string) ([]models.BatchItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.BatchItem
	for _, item := range r.items {
		if item.OrderRef == orderRef {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (r *MemoryBatchRepository) OrderRefsInFlight() (map[string]bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := make(map[string]bool)
	for _, item := range r.items {
		if item.Status == models.ItemReturned {
			set[item.OrderRef] = true
			continue
		}
		batch, ok := r.batches[item.BatchID]
		if !ok {
			continue
		}
		if batch.Status != models.BatchReconciled && batch.Status != models.BatchFailed {
			set[item.OrderRef] = true
		}
	}
	return set, nil
}

func (r *MemoryBatchRepository) Stats() (*Statistics, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := &Statistics{
		BatchCountByStatus: map[string]int64{},
		ItemCountByStatus:  map[string]int64{},
	}
	for _, b := range r.batches {
		stats.BatchCountByStatus[b.Status]++
		stats.TotalDebit += b.TotalDebit
		stats.TotalCredit += b.TotalCredit
	}
	for _, item := range r.items {
		stats.ItemCountByStatus[item.Status]++
	}
	return stats, nil
}

type MemoryReturnRepository struct {
	mu      sync.Mutex
	records map[uuid.UUID]models.ReturnRecord
}

func NewMemoryReturnRepository() *MemoryReturnRepository {
	return &MemoryReturnRepository{records: make(map[uuid.UUID]models.ReturnRecord)}
}

func (r *MemoryReturnRepository) SaveReturn(record *models.ReturnRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[record.ID] = *record
	return nil
}

func (r *MemoryReturnRepository) ListReturns(filter ReturnFilter) ([]models.ReturnRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.ReturnRecord
	for _, rec := range r.records {
		if filter.Status != "" && rec.Status != filter.Status {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ProcessedAt.After(out[j].ProcessedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *MemoryReturnRepository) PendingOlderThan(cutoff time.Time) ([]models.ReturnRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.ReturnRecord
	for _, rec := range r.records {
		if rec.Status == models.ReturnPending && rec.CreatedAt.Before(cutoff) {
			out = append(out, rec)
		}
	}
	return out, nil
}

type MemoryAuditRepository struct {
	mu     sync.Mutex
	events []models.AuditEvent
	// FailNext forces the next insert to fail, for fallback-path tests.
	FailNext error
}

func NewMemoryAuditRepository() *MemoryAuditRepository {
	return &MemoryAuditRepository{}
}

func (r *MemoryAuditRepository) Insert(e *models.AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailNext != nil {
		err := r.FailNext
		r.FailNext = nil
		return err
	}
	r.events = append(r.events, *e)
	return nil
}

func (r *MemoryAuditRepository) ForEntity(entityType, entityID string, limit int) ([]models.AuditEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.AuditEvent
	for i := len(r.events) - 1; i >= 0; i-- {
		e := r.events[i]
		if e.EntityType == entityType && e.EntityID == entityID {
			out = append(out, e)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (r *MemoryAuditRepository) ByCorrelation(correlationID uuid.UUID) ([]models.AuditEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.AuditEvent
	for _, e := range r.events {
		if e.CorrelationID == correlationID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *MemoryAuditRepository) Recent(filter AuditFilter) ([]models.AuditEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	var out []models.AuditEvent
	for i := len(r.events) - 1; i >= 0; i-- {
		e := r.events[i]
		if filter.Action != "" && e.Action != filter.Action {
			continue
		}
		if filter.EntityType != "" && e.EntityType != filter.EntityType {
			continue
		}
		if filter.EntityID != "" && e.EntityID != filter.EntityID {
			continue
		}
		if !filter.Since.IsZero() && e.CreatedAt.Before(filter.Since) {
			continue
		}
		out = append(out, e)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *MemoryAuditRepository) DeleteOlderThan(cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var kept []models.AuditEvent
	var deleted int64
	for _, e := range r.events {
		if e.CreatedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	r.events = kept
	return deleted, nil
}
