// Package nacha encodes settlement batches into the fixed-width 94
// character file layout and decodes processor return files. Encoding is
// all-or-nothing; decoding is best-effort per line.
package nacha

import (
	"fmt"
	"strconv"
	"strings"

	"ach-settlement-backend/internal/mapping"
	"ach-settlement-backend/internal/models"
	"ach-settlement-backend/internal/vault"
)

const (
	RecordLength   = 94
	blockingFactor = 10
)

// EncodingError aborts the whole file; no partial output is returned.
type EncodingError struct {
	Record string
	Field  string
	Reason string
}

func (e *EncodingError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("nacha: %s record, field %s: %s", e.Record, e.Field, e.Reason)
	}
	return fmt.Sprintf("nacha: %s record: %s", e.Record, e.Reason)
}

// Entry pairs a built batch item with the authorization holding its
// encrypted bank details. The codec decrypts those details one entry at
// a time and wipes them as soon as the record line is assembled.
type Entry struct {
	Item *models.BatchItem
	Auth *models.PaymentAuthorization
}

type Encoder struct {
	store *mapping.Store
	vault *vault.Vault
}

func NewEncoder(store *mapping.Store, v *vault.Vault) *Encoder {
	return &Encoder{store: store, vault: v}
}

// TraceNumber composes the per-entry identifier: the 8-digit ODFI id
// followed by a 7-digit zero-padded sequence.
func TraceNumber(odfiID string, seq int) string {
	return fmt.Sprintf("%-8.8s%07d", odfiID, seq)
}

// Encode lays out File Header, Batch Header, one Entry Detail per
// entry, Batch Control and File Control, padded with filler lines to a
// multiple of the blocking factor.
func (e *Encoder) Encode(batch *models.Batch, entries []Entry, profile *mapping.Profile, ctx *mapping.FieldContext) ([]byte, error) {
	if len(entries) == 0 {
		return nil, &EncodingError{Record: "file", Reason: "no entries"}
	}

	headerCtx := *ctx
	headerCtx.Batch = batch

	lines := make([]string, 0, len(entries)+4)

	line, err := e.record(profile, mapping.SectionFileHeader, &headerCtx, "file header")
	if err != nil {
		return nil, err
	}
	lines = append(lines, line)

	line, err = e.record(profile, mapping.SectionBatchHeader, &headerCtx, "batch header")
	if err != nil {
		return nil, err
	}
	lines = append(lines, line)

	var entryHash, totalDebit, totalCredit int64
	for _, entry := range entries {
		entryCtx := headerCtx
		entryCtx.Item = entry.Item
		entryCtx.OrderRef = entry.Auth.OrderRef
		entryCtx.ReceiverName = entry.Auth.ReceiverName

		routing, err := e.vault.Decrypt(entry.Auth.RoutingEncrypted)
		if err != nil {
			return nil, &EncodingError{Record: "entry detail", Field: "rdfi_id", Reason: err.Error()}
		}
		account, err := e.vault.Decrypt(entry.Auth.AccountEncrypted)
		if err != nil {
			vault.Zero(routing)
			return nil, &EncodingError{Record: "entry detail", Field: "account_number", Reason: err.Error()}
		}
		entryCtx.Routing = routing
		entryCtx.Account = account

		line, recErr := e.record(profile, mapping.SectionEntryDetail, &entryCtx, "entry detail")
		if recErr == nil && len(routing) >= 8 {
			var first8 int64
			first8, recErr = strconv.ParseInt(string(routing[:8]), 10, 64)
			if recErr == nil {
				entryHash += first8
			}
		}
		vault.Zero(routing)
		vault.Zero(account)
		if recErr != nil {
			if _, ok := recErr.(*EncodingError); !ok {
				recErr = &EncodingError{Record: "entry detail", Reason: recErr.Error()}
			}
			return nil, recErr
		}

		if entry.Item.IsDebit() {
			totalDebit += entry.Item.Amount
		} else {
			totalCredit += entry.Item.Amount
		}
		lines = append(lines, line)
	}

	// The entry hash is a checksum, not a digest: low-order 10 digits of
	// the routing-number sum.
	entryHash %= 10_000_000_000

	companyID, err := e.store.Resolve(profile, mapping.SectionBatchHeader, "company_id", &headerCtx)
	if err != nil {
		return nil, wrapMapping("batch control", err)
	}
	odfiID, err := e.store.Resolve(profile, mapping.SectionBatchHeader, "odfi_id", &headerCtx)
	if err != nil {
		return nil, wrapMapping("batch control", err)
	}

	batchControl := "8" +
		"200" +
		fmt.Sprintf("%06d", len(entries)) +
		fmt.Sprintf("%010d", entryHash) +
		fmt.Sprintf("%012d", totalDebit) +
		fmt.Sprintf("%012d", totalCredit) +
		companyID +
		strings.Repeat(" ", 19) +
		strings.Repeat(" ", 6) +
		odfiID +
		fmt.Sprintf("%07d", batch.SequenceNumber)
	if err := checkLine(batchControl, "batch control"); err != nil {
		return nil, err
	}
	lines = append(lines, batchControl)

	blockCount := (len(lines) + 1 + blockingFactor - 1) / blockingFactor
	fileControl := "9" +
		fmt.Sprintf("%06d", 1) +
		fmt.Sprintf("%06d", blockCount) +
		fmt.Sprintf("%08d", len(entries)) +
		fmt.Sprintf("%010d", entryHash) +
		fmt.Sprintf("%012d", totalDebit) +
		fmt.Sprintf("%012d", totalCredit) +
		strings.Repeat(" ", 39)
	if err := checkLine(fileControl, "file control"); err != nil {
		return nil, err
	}
	lines = append(lines, fileControl)

	for len(lines)%blockingFactor != 0 {
		lines = append(lines, strings.Repeat("9", RecordLength))
	}

	return []byte(strings.Join(lines, "\n") + "\n"), nil
}

// Totals recomputed by Encode, exposed so the lifecycle manager can
// stamp them onto the batch without trusting its own arithmetic twice.
func Totals(items []models.BatchItem) (entryCount int, totalDebit, totalCredit int64) {
	for i := range items {
		if items[i].IsDebit() {
			totalDebit += items[i].Amount
		} else {
			totalCredit += items[i].Amount
		}
	}
	return len(items), totalDebit, totalCredit
}

func (e *Encoder) record(profile *mapping.Profile, section string, ctx *mapping.FieldContext, name string) (string, error) {
	values, err := e.store.ResolveGroup(profile, section, ctx)
	if err != nil {
		return "", wrapMapping(name, err)
	}
	line := strings.Join(values, "")
	if err := checkLine(line, name); err != nil {
		return "", err
	}
	return line, nil
}

func wrapMapping(record string, err error) error {
	if mapErr, ok := err.(*mapping.MappingError); ok {
		return &EncodingError{Record: record, Field: mapErr.Field, Reason: mapErr.Reason}
	}
	return &EncodingError{Record: record, Reason: err.Error()}
}

func checkLine(line, record string) error {
	if len(line) != RecordLength {
		return &EncodingError{Record: record, Reason: fmt.Sprintf("line is %d characters, want %d", len(line), RecordLength)}
	}
	for i := 0; i < len(line); i++ {
		if line[i] < 0x20 || line[i] > 0x7e {
			return &EncodingError{Record: record, Reason: fmt.Sprintf("non-ASCII byte 0x%02x at position %d", line[i], i)}
		}
	}
	return nil
}
