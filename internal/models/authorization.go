package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Payment direction as supplied by the order source.
const (
	DirectionDebit  = "debit"
	DirectionCredit = "credit"
)

// PaymentAuthorization is a verified bank-transfer authorization handed
// over by the hosting application. Account and routing numbers arrive as
// vault ciphertext and are decrypted only at the point of file encoding.
type PaymentAuthorization struct {
	ID               uuid.UUID       `gorm:"type:uuid;primaryKey"`
	OrderRef         string          `gorm:"uniqueIndex"`
	Amount           decimal.Decimal `gorm:"type:numeric"` // dollars
	Direction        string
	AccountEncrypted []byte
	RoutingEncrypted []byte
	AccountLast4     string
	AccountType      string // "checking" or "savings"
	ReceiverName     string
	VerifiedAt       *time.Time
	CreatedAt        time.Time
}

// AmountCents converts the decimal dollar amount into integer cents,
// the only representation the file format understands.
func (a *PaymentAuthorization) AmountCents() int64 {
	return a.Amount.Shift(2).IntPart()
}

// TransactionCode maps direction and account type onto the ACH code set.
func (a *PaymentAuthorization) TransactionCode() string {
	savings := a.AccountType == "savings"
	if a.Direction == DirectionCredit {
		if savings {
			return TxCodeSavingsCredit
		}
		return TxCodeCheckingCredit
	}
	if savings {
		return TxCodeSavingsDebit
	}
	return TxCodeCheckingDebit
}
