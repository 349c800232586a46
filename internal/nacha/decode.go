package nacha

import (
	"fmt"
	"strconv"
	"strings"
)

// ReturnEntry is one decoded return: the original trace number plus the
// reason the processor rejected or reversed the entry.
type ReturnEntry struct {
	TraceNumber string
	ReturnCode  string
	Reason      string
	Amount      int64 // cents
}

// ParseError marks one unparsable line. It never aborts the decode; a
// malformed trailing record must not hide earlier valid returns.
type ParseError struct {
	Line   int
	Reason string
}

func (e ParseError) Error() string {
	return fmt.Sprintf("nacha: line %d: %s", e.Line, e.Reason)
}

// Standard return reason texts for the common codes.
var returnReasons = map[string]string{
	"R01": "Insufficient funds",
	"R02": "Account closed",
	"R03": "No account / unable to locate account",
	"R04": "Invalid account number",
	"R05": "Unauthorized debit to consumer account",
	"R07": "Authorization revoked by customer",
	"R08": "Payment stopped",
	"R09": "Uncollected funds",
	"R10": "Customer advises not authorized",
	"R16": "Account frozen",
	"R20": "Non-transaction account",
	"R29": "Corporate customer advises not authorized",
}

// ReasonForCode resolves a return code to its standard text, falling
// back to the code itself for anything unlisted.
func ReasonForCode(code string) string {
	if reason, ok := returnReasons[code]; ok {
		return reason
	}
	return code
}

// DecodeReturns parses a fixed-width return file. Entry detail lines
// (type 6) carry the amount; their 99-type addenda lines (type 7) carry
// the return code and the original trace number used for matching.
func DecodeReturns(data []byte) ([]ReturnEntry, []ParseError) {
	var entries []ReturnEntry
	var parseErrors []ParseError

	lines := strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n")
	var pending *ReturnEntry

	flush := func() {
		if pending != nil {
			entries = append(entries, *pending)
			pending = nil
		}
	}

	for i, line := range lines {
		lineNo := i + 1
		if line == "" {
			continue
		}
		if len(line) != RecordLength {
			parseErrors = append(parseErrors, ParseError{Line: lineNo, Reason: fmt.Sprintf("line is %d characters, want %d", len(line), RecordLength)})
			continue
		}
		// Filler lines pad the file to the blocking factor.
		if line == strings.Repeat("9", RecordLength) {
			continue
		}

		switch line[0] {
		case '1', '5', '8', '9':
			// Header and control records carry nothing a return needs.
			continue
		case '6':
			flush()
			amount, err := strconv.ParseInt(strings.TrimSpace(line[29:39]), 10, 64)
			if err != nil {
				parseErrors = append(parseErrors, ParseError{Line: lineNo, Reason: "unparsable amount field"})
				continue
			}
			pending = &ReturnEntry{
				TraceNumber: strings.TrimSpace(line[79:94]),
				Amount:      amount,
			}
		case '7':
			if pending == nil {
				parseErrors = append(parseErrors, ParseError{Line: lineNo, Reason: "addenda without a preceding entry"})
				continue
			}
			if line[1:3] != "99" {
				// Non-return addenda; keep the entry as-is.
				continue
			}
			code := strings.TrimSpace(line[3:6])
			if code == "" {
				parseErrors = append(parseErrors, ParseError{Line: lineNo, Reason: "return addenda without reason code"})
				continue
			}
			pending.ReturnCode = code
			pending.Reason = ReasonForCode(code)
			if original := strings.TrimSpace(line[6:21]); original != "" {
				// Match on the original entry's trace, not the return's.
				pending.TraceNumber = original
			}
		default:
			parseErrors = append(parseErrors, ParseError{Line: lineNo, Reason: fmt.Sprintf("unknown record type %q", line[0])})
		}
	}
	flush()

	return entries, parseErrors
}
