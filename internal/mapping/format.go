package mapping

import "strings"

// Format pipeline operations, applied in declared order.
const (
	FormatPadLeft  = "pad_left"
	FormatPadRight = "pad_right"
	FormatZeroFill = "zero_fill"
	FormatTruncate = "truncate"
	FormatUpper    = "upper"
)

type FormatOp struct {
	Kind  string
	Width int
	Pad   byte
}

func PadLeft(width int, pad byte) FormatOp  { return FormatOp{Kind: FormatPadLeft, Width: width, Pad: pad} }
func PadRight(width int, pad byte) FormatOp { return FormatOp{Kind: FormatPadRight, Width: width, Pad: pad} }
func ZeroFill(width int) FormatOp           { return FormatOp{Kind: FormatZeroFill, Width: width} }
func Truncate(width int) FormatOp           { return FormatOp{Kind: FormatTruncate, Width: width} }
func Upper() FormatOp                       { return FormatOp{Kind: FormatUpper} }

// Alnum is the conventional pipeline for an alphanumeric slot: upper
// case, space padded on the right, cut to the slot width.
func Alnum(width int) []FormatOp {
	return []FormatOp{Upper(), PadRight(width, ' '), Truncate(width)}
}

// Numeric is the conventional pipeline for a numeric slot. It never
// truncates: an overflowing numeric value must fail the record-length
// check rather than silently lose high-order digits.
func Numeric(width int) []FormatOp {
	return []FormatOp{ZeroFill(width)}
}

func applyFormats(value string, ops []FormatOp) string {
	for _, op := range ops {
		value = applyFormat(value, op)
	}
	return value
}

func applyFormat(value string, op FormatOp) string {
	switch op.Kind {
	case FormatPadLeft:
		for len(value) < op.Width {
			value = string(op.Pad) + value
		}
	case FormatPadRight:
		for len(value) < op.Width {
			value += string(op.Pad)
		}
	case FormatZeroFill:
		for len(value) < op.Width {
			value = "0" + value
		}
	case FormatTruncate:
		if len(value) > op.Width {
			value = value[:op.Width]
		}
	case FormatUpper:
		value = strings.ToUpper(value)
	}
	return value
}
