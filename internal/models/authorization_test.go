package models

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/schema"

	"github.com/shopspring/decimal"
)

// The eligibility query orders by created_at and filters on verified_at
// being set, so the migrated schema must actually carry those columns.
func TestPaymentAuthorizationSchema(t *testing.T) {
	s, err := schema.Parse(&PaymentAuthorization{}, &sync.Map{}, schema.NamingStrategy{})
	require.NoError(t, err)

	require.NotNil(t, s.PrioritizedPrimaryField)
	assert.Equal(t, "id", s.PrioritizedPrimaryField.DBName)

	for _, column := range []string{"order_ref", "created_at", "verified_at"} {
		assert.Contains(t, s.FieldsByDBName, column)
	}
}

func TestPaymentAuthorizationAmountCents(t *testing.T) {
	auth := PaymentAuthorization{Amount: decimal.RequireFromString("25.50")}
	assert.Equal(t, int64(2550), auth.AmountCents())
}

func TestPaymentAuthorizationTransactionCode(t *testing.T) {
	cases := []struct {
		direction   string
		accountType string
		want        string
	}{
		{DirectionDebit, "checking", TxCodeCheckingDebit},
		{DirectionDebit, "savings", TxCodeSavingsDebit},
		{DirectionCredit, "checking", TxCodeCheckingCredit},
		{DirectionCredit, "savings", TxCodeSavingsCredit},
	}
	for _, tc := range cases {
		auth := PaymentAuthorization{Direction: tc.direction, AccountType: tc.accountType}
		assert.Equal(t, tc.want, auth.TransactionCode())
	}
}
