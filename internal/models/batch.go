package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Batch lifecycle statuses.
const (
	BatchPending     = "pending"
	BatchValidated   = "validated"
	BatchBuilt       = "built"
	BatchExported    = "exported"
	BatchUploaded    = "uploaded"
	BatchReconciling = "reconciling"
	BatchReconciled  = "reconciled"
	BatchReturned    = "returned"
	BatchFailed      = "failed"
)

type Batch struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey"`
	FileName       string    `gorm:"index"`
	Status         string    `gorm:"index"`
	ItemCount      int
	TotalDebit     int64 // cents
	TotalCredit    int64 // cents
	EntryHash      int64 // low-order 10 digits of the routing-number sum
	SequenceNumber int   `gorm:"index"`
	UploadAttempts int
	LastError      string
	Metadata       datatypes.JSON
	CreatedAt      time.Time
	ExportedAt     *time.Time
	UploadedAt     *time.Time
}

// Mutable reports whether the batch may still gain or lose items.
// Once a file has been handed to the processor only return-driven
// status fields may change.
func (b *Batch) Mutable() bool {
	switch b.Status {
	case BatchUploaded, BatchReconciling, BatchReconciled, BatchReturned:
		return false
	}
	return true
}
