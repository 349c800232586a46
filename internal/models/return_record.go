package models

import (
	"time"

	"github.com/google/uuid"
)

// ReturnRecord statuses.
const (
	ReturnPending   = "pending"
	ReturnMatched   = "matched"
	ReturnUnmatched = "unmatched"
)

// ReturnRecord is one processor-issued return, keyed by the trace number
// of the original entry. BatchID stays nil for orphans whose trace number
// matches nothing we exported.
type ReturnRecord struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	FileName     string    `gorm:"index"`
	TraceNumber  string    `gorm:"index"`
	BatchID      *uuid.UUID
	ReturnCode   string
	ReturnReason string
	Amount       int64 // cents
	Status       string `gorm:"index"`
	ProcessedAt  time.Time
	CreatedAt    time.Time
}
