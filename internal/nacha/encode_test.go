package nacha

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ach-settlement-backend/internal/mapping"
	"ach-settlement-backend/internal/models"
	"ach-settlement-backend/internal/vault"
)

type testSettings map[string]string

func (s testSettings) Get(key string) (string, bool) {
	v, ok := s[key]
	return v, ok
}

func newTestSettings() testSettings {
	return testSettings{
		"odfi_routing_number":       "076401251",
		"origin_id":                 "1234567890",
		"origin_name":               "ACME SETTLEMENT",
		"company_id":                "1234567890",
		"company_entry_description": "SETTLEMENT",
	}
}

func newTestVault(t *testing.T) *vault.Vault {
	t.Helper()
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i + 1)
	}
	v, err := vault.New(key)
	require.NoError(t, err)
	return v
}

func encrypt(t *testing.T, v *vault.Vault, plaintext string) []byte {
	t.Helper()
	blob, err := v.Encrypt([]byte(plaintext))
	require.NoError(t, err)
	return blob
}

func testEntry(t *testing.T, v *vault.Vault, seq int, amount int64, code, routing string) Entry {
	t.Helper()
	return Entry{
		Item: &models.BatchItem{
			ID:              uuid.New(),
			TraceNumber:     TraceNumber("07640125", seq),
			Amount:          amount,
			TransactionCode: code,
			Status:          models.ItemIncluded,
		},
		Auth: &models.PaymentAuthorization{
			OrderRef:         "ORD-1001",
			ReceiverName:     "Pat Doe",
			RoutingEncrypted: encrypt(t, v, routing),
			AccountEncrypted: encrypt(t, v, "000123456789"),
		},
	}
}

func newTestEncoder(t *testing.T) (*Encoder, *mapping.Store, *vault.Vault) {
	t.Helper()
	v := newTestVault(t)
	store := mapping.NewStore(newTestSettings())
	return NewEncoder(store, v), store, v
}

func encodeFixture(t *testing.T, entries []Entry) []byte {
	t.Helper()
	enc, store, _ := newTestEncoder(t)
	profile, err := store.Get("ppd-default")
	require.NoError(t, err)

	batch := &models.Batch{ID: uuid.New(), SequenceNumber: 1, Status: models.BatchBuilt}
	ctx := &mapping.FieldContext{Now: time.Date(2026, 8, 1, 14, 30, 0, 0, time.UTC)}
	data, err := enc.Encode(batch, entries, profile, ctx)
	require.NoError(t, err)
	return data
}

func TestTraceNumberFormat(t *testing.T) {
	assert.Equal(t, "076401250000001", TraceNumber("07640125", 1))
	assert.Equal(t, "076401250012345", TraceNumber("07640125", 12345))
	assert.Len(t, TraceNumber("07640125", 9999999), 15)
}

func TestEncodeLineDiscipline(t *testing.T) {
	v := newTestVault(t)
	data := encodeFixture(t, []Entry{
		testEntry(t, v, 1, 1000, models.TxCodeCheckingDebit, "021000021"),
	})

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.NotEmpty(t, lines)
	for i, line := range lines {
		assert.Len(t, line, RecordLength, "line %d", i+1)
	}

	// One of each record type, in order, then filler to a block boundary.
	assert.Equal(t, byte('1'), lines[0][0])
	assert.Equal(t, byte('5'), lines[1][0])
	assert.Equal(t, byte('6'), lines[2][0])
	assert.Equal(t, byte('8'), lines[3][0])
	assert.Equal(t, byte('9'), lines[4][0])
	assert.Zero(t, len(lines)%10)
	for _, filler := range lines[5:] {
		assert.Equal(t, strings.Repeat("9", RecordLength), filler)
	}
}

func TestEncodeControlTotals(t *testing.T) {
	v := newTestVault(t)
	// The canonical scenario: two debits and a credit.
	data := encodeFixture(t, []Entry{
		testEntry(t, v, 1, 1000, models.TxCodeCheckingDebit, "021000021"),
		testEntry(t, v, 2, 2550, models.TxCodeCheckingDebit, "021000021"),
		testEntry(t, v, 3, 500, models.TxCodeCheckingCredit, "076401251"),
	})

	lines := strings.Split(string(data), "\n")
	var control string
	for _, line := range lines {
		if len(line) == RecordLength && line[0] == '8' {
			control = line
			break
		}
	}
	require.NotEmpty(t, control)

	assert.Equal(t, "000003", control[4:10], "entry count")
	// 2 * 02100002 + 07640125 = 11840129
	assert.Equal(t, "0011840129", control[10:20], "entry hash")
	assert.Equal(t, "000000003550", control[20:32], "total debit")
	assert.Equal(t, "000000000500", control[32:44], "total credit")
}

func TestEncodeEntryHashKeepsLowTenDigits(t *testing.T) {
	v := newTestVault(t)
	// 126 entries of routing prefix 99999999 sum to 12,599,999,874,
	// which must wrap to the low-order 10 digits.
	entries := make([]Entry, 126)
	for i := range entries {
		entries[i] = testEntry(t, v, i+1, 100, models.TxCodeCheckingDebit, "999999992")
	}
	data := encodeFixture(t, entries)

	for _, line := range strings.Split(string(data), "\n") {
		if len(line) == RecordLength && line[0] == '8' {
			assert.Equal(t, "2599999874", line[10:20])
			return
		}
	}
	t.Fatal("batch control record not found")
}

func TestEncodeRoundTrip(t *testing.T) {
	v := newTestVault(t)
	entries := []Entry{
		testEntry(t, v, 1, 1000, models.TxCodeCheckingDebit, "021000021"),
		testEntry(t, v, 2, 2550, models.TxCodeCheckingDebit, "021000021"),
		testEntry(t, v, 3, 500, models.TxCodeCheckingCredit, "076401251"),
	}
	data := encodeFixture(t, entries)

	decoded, parseErrors := DecodeReturns(data)
	assert.Empty(t, parseErrors)
	require.Len(t, decoded, 3)
	for i, d := range decoded {
		assert.Equal(t, entries[i].Item.TraceNumber, d.TraceNumber)
		assert.Equal(t, entries[i].Item.Amount, d.Amount)
	}
}

func TestEncodeAllOrNothing(t *testing.T) {
	enc, store, v := newTestEncoder(t)
	profile, err := store.Get("ppd-default")
	require.NoError(t, err)

	good := testEntry(t, v, 1, 1000, models.TxCodeCheckingDebit, "021000021")
	bad := testEntry(t, v, 2, 2550, models.TxCodeCheckingDebit, "021000021")
	bad.Auth.RoutingEncrypted = []byte("not a vault blob")

	batch := &models.Batch{ID: uuid.New(), SequenceNumber: 1}
	ctx := &mapping.FieldContext{Now: time.Now()}
	data, err := enc.Encode(batch, []Entry{good, bad}, profile, ctx)

	var encErr *EncodingError
	require.ErrorAs(t, err, &encErr)
	assert.Nil(t, data, "no partial file on failure")
}

func TestEncodeRejectsMissingReceiverName(t *testing.T) {
	enc, store, v := newTestEncoder(t)
	profile, err := store.Get("ppd-default")
	require.NoError(t, err)

	entry := testEntry(t, v, 1, 1000, models.TxCodeCheckingDebit, "021000021")
	entry.Auth.ReceiverName = ""

	batch := &models.Batch{ID: uuid.New(), SequenceNumber: 1}
	data, err := enc.Encode(batch, []Entry{entry}, profile, &mapping.FieldContext{Now: time.Now()})

	var encErr *EncodingError
	require.ErrorAs(t, err, &encErr)
	assert.Equal(t, "individual_name", encErr.Field)
	assert.Nil(t, data)
}

func TestEncodeRejectsEmptyBatch(t *testing.T) {
	enc, store, _ := newTestEncoder(t)
	profile, err := store.Get("ppd-default")
	require.NoError(t, err)

	_, err = enc.Encode(&models.Batch{}, nil, profile, &mapping.FieldContext{Now: time.Now()})
	var encErr *EncodingError
	assert.ErrorAs(t, err, &encErr)
}

func TestTotals(t *testing.T) {
	items := []models.BatchItem{
		{Amount: 1000, TransactionCode: models.TxCodeCheckingDebit},
		{Amount: 2550, TransactionCode: models.TxCodeCheckingDebit},
		{Amount: 500, TransactionCode: models.TxCodeCheckingCredit},
	}
	count, debit, credit := Totals(items)
	assert.Equal(t, 3, count)
	assert.Equal(t, int64(3550), debit)
	assert.Equal(t, int64(500), credit)
}
