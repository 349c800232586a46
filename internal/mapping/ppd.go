package mapping

import (
	"errors"
	"fmt"
	"strconv"
)

// ppdDefault is the built-in profile for the standard PPD layout. Field
// order and widths follow the 94-character NACHA record set; anything a
// different processor wants changed is a matter of registering another
// profile, not touching the codec.
func ppdDefault() *Profile {
	return &Profile{
		Name: "ppd-default",
		FileHeader: []FieldSpec{
			{Name: "record_type", Source: SourceFixed, Value: "1", Format: Numeric(1)},
			{Name: "priority_code", Source: SourceFixed, Value: "01", Format: Numeric(2)},
			{Name: "immediate_destination", Source: SourceSetting, Value: "odfi_routing_number", Format: []FormatOp{PadLeft(10, ' '), Truncate(10)}},
			{Name: "immediate_origin", Source: SourceSetting, Value: "origin_id", Format: []FormatOp{PadLeft(10, ' '), Truncate(10)}},
			{Name: "file_creation_date", Source: SourceDerived, Derive: deriveFileDate, Format: Numeric(6)},
			{Name: "file_creation_time", Source: SourceDerived, Derive: deriveFileTime, Format: Numeric(4)},
			{Name: "file_id_modifier", Source: SourceFixed, Value: "A", Format: Alnum(1)},
			{Name: "record_size", Source: SourceFixed, Value: "094", Format: Numeric(3)},
			{Name: "blocking_factor", Source: SourceFixed, Value: "10", Format: Numeric(2)},
			{Name: "format_code", Source: SourceFixed, Value: "1", Format: Numeric(1)},
			{Name: "destination_name", Source: SourceSetting, Value: "odfi_routing_number", Format: Alnum(23)},
			{Name: "origin_name", Source: SourceSetting, Value: "origin_name", Format: Alnum(23)},
			{Name: "reference_code", Source: SourceFixed, Value: "", Format: Alnum(8)},
		},
		BatchHeader: []FieldSpec{
			{Name: "record_type", Source: SourceFixed, Value: "5", Format: Numeric(1)},
			{Name: "service_class_code", Source: SourceFixed, Value: "200", Format: Numeric(3)},
			{Name: "company_name", Source: SourceSetting, Value: "origin_name", Format: Alnum(16)},
			{Name: "discretionary_data", Source: SourceFixed, Value: "", Format: Alnum(20)},
			{Name: "company_id", Source: SourceSetting, Value: "company_id", Format: Alnum(10)},
			{Name: "sec_code", Source: SourceFixed, Value: "PPD", Format: Alnum(3)},
			{Name: "entry_description", Source: SourceSetting, Value: "company_entry_description", Format: Alnum(10)},
			{Name: "descriptive_date", Source: SourceDerived, Derive: deriveFileDate, Format: Alnum(6)},
			{Name: "effective_entry_date", Source: SourceDerived, Derive: deriveEffectiveDate, Format: Numeric(6)},
			{Name: "settlement_date", Source: SourceFixed, Value: "", Format: Alnum(3)},
			{Name: "originator_status", Source: SourceFixed, Value: "1", Format: Numeric(1)},
			{Name: "odfi_id", Source: SourceDerived, Derive: deriveODFIID, Format: Numeric(8)},
			{Name: "batch_number", Source: SourceDerived, Derive: deriveBatchNumber, Format: Numeric(7)},
		},
		EntryDetail: []FieldSpec{
			{Name: "record_type", Source: SourceFixed, Value: "6", Format: Numeric(1)},
			{Name: "transaction_code", Source: SourceDerived, Derive: deriveTransactionCode, Format: Numeric(2)},
			{Name: "rdfi_id", Source: SourceDerived, Derive: deriveRDFIID, Format: Numeric(8)},
			{Name: "check_digit", Source: SourceDerived, Derive: deriveCheckDigit, Format: Numeric(1)},
			{Name: "account_number", Source: SourceDerived, Derive: deriveAccountNumber, Format: []FormatOp{PadRight(17, ' '), Truncate(17)}},
			{Name: "amount", Source: SourceDerived, Derive: deriveAmount, Format: Numeric(10)},
			{Name: "individual_id", Source: SourceDerived, Derive: deriveOrderRef, Format: Alnum(15)},
			{Name: "individual_name", Source: SourceDerived, Derive: deriveReceiverName, Format: Alnum(22)},
			{Name: "discretionary_data", Source: SourceFixed, Value: "", Format: Alnum(2)},
			{Name: "addenda_indicator", Source: SourceFixed, Value: "0", Format: Numeric(1)},
			{Name: "trace_number", Source: SourceDerived, Derive: deriveTraceNumber, Format: Numeric(15)},
		},
	}
}

func deriveFileDate(ctx *FieldContext) (string, error) {
	return ctx.Now.Format("060102"), nil
}

func deriveFileTime(ctx *FieldContext) (string, error) {
	return ctx.Now.Format("1504"), nil
}

// Effective entry date: next calendar day. Banking-day adjustment is the
// processor's concern in this layout.
func deriveEffectiveDate(ctx *FieldContext) (string, error) {
	return ctx.Now.AddDate(0, 0, 1).Format("060102"), nil
}

func deriveBatchNumber(ctx *FieldContext) (string, error) {
	if ctx.Batch == nil {
		return "", errors.New("no batch in context")
	}
	return strconv.Itoa(ctx.Batch.SequenceNumber), nil
}

func deriveODFIID(ctx *FieldContext) (string, error) {
	routing, err := routingDigits(ctx)
	if err != nil {
		return "", err
	}
	return routing[:8], nil
}

func deriveTransactionCode(ctx *FieldContext) (string, error) {
	if ctx.Item == nil {
		return "", errors.New("no item in context")
	}
	return ctx.Item.TransactionCode, nil
}

func deriveRDFIID(ctx *FieldContext) (string, error) {
	routing, err := routingDigits(ctx)
	if err != nil {
		return "", err
	}
	return routing[:8], nil
}

func deriveCheckDigit(ctx *FieldContext) (string, error) {
	routing, err := routingDigits(ctx)
	if err != nil {
		return "", err
	}
	return routing[8:9], nil
}

func deriveAccountNumber(ctx *FieldContext) (string, error) {
	if len(ctx.Account) == 0 {
		return "", errors.New("no decrypted account number in context")
	}
	return string(ctx.Account), nil
}

func deriveAmount(ctx *FieldContext) (string, error) {
	if ctx.Item == nil {
		return "", errors.New("no item in context")
	}
	if ctx.Item.Amount <= 0 {
		return "", fmt.Errorf("non-positive amount %d", ctx.Item.Amount)
	}
	return strconv.FormatInt(ctx.Item.Amount, 10), nil
}

func deriveOrderRef(ctx *FieldContext) (string, error) {
	return ctx.OrderRef, nil
}

func deriveReceiverName(ctx *FieldContext) (string, error) {
	if ctx.ReceiverName == "" {
		return "", errors.New("receiver name missing")
	}
	return ctx.ReceiverName, nil
}

func deriveTraceNumber(ctx *FieldContext) (string, error) {
	if ctx.Item == nil || ctx.Item.TraceNumber == "" {
		return "", errors.New("trace number not assigned")
	}
	return ctx.Item.TraceNumber, nil
}

func routingDigits(ctx *FieldContext) (string, error) {
	routing := string(ctx.Routing)
	if len(routing) != 9 {
		return "", fmt.Errorf("routing number must be 9 digits, got %d", len(routing))
	}
	for _, c := range routing {
		if c < '0' || c > '9' {
			return "", errors.New("routing number contains non-digits")
		}
	}
	return routing, nil
}
