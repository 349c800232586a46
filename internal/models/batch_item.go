package models

import (
	"time"

	"github.com/google/uuid"
)

// BatchItem statuses.
const (
	ItemPending  = "pending"
	ItemIncluded = "included"
	ItemUploaded = "uploaded"
	ItemSettled  = "settled"
	ItemReturned = "returned"
)

// ACH transaction codes for checking accounts.
const (
	TxCodeCheckingCredit = "22"
	TxCodeCheckingDebit  = "27"
	TxCodeSavingsCredit  = "32"
	TxCodeSavingsDebit   = "37"
)

type BatchItem struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey"`
	BatchID         uuid.UUID `gorm:"index"`
	OrderRef        string    `gorm:"index"`
	TraceNumber     string    `gorm:"uniqueIndex"`
	Amount          int64     // cents, always positive; direction comes from the code
	TransactionCode string
	AccountLast4    string
	Status          string `gorm:"index"`
	ReturnCode      string
	ReturnReason    string
	CreatedAt       time.Time
}

// IsDebit reports whether the transaction code pulls money from the
// receiver's account.
func (i *BatchItem) IsDebit() bool {
	return i.TransactionCode == TxCodeCheckingDebit || i.TransactionCode == TxCodeSavingsDebit
}
