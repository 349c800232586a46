package nacha

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// returnEntryLine builds a 94-character type-6 line carrying the given
// amount and trace number in their standard slots.
func returnEntryLine(amount int64, trace string) string {
	line := "6" +
		"26" + // return transaction code
		"02100002" + "1" +
		fmt.Sprintf("%-17s", "000123456789") +
		fmt.Sprintf("%010d", amount) +
		fmt.Sprintf("%-15s", "ORD-1001") +
		fmt.Sprintf("%-22s", "PAT DOE") +
		"  " +
		"1" +
		fmt.Sprintf("%-15s", trace)
	return line
}

// returnAddendaLine builds the 99-type addenda holding the return code
// and the original trace number.
func returnAddendaLine(code, originalTrace string) string {
	return "7" +
		"99" +
		code +
		fmt.Sprintf("%-15s", originalTrace) +
		fmt.Sprintf("%06d", 0) +
		"02100002" +
		strings.Repeat(" ", 44) +
		fmt.Sprintf("%-15s", "999999990000001")
}

func TestDecodeReturnsMatchedEntry(t *testing.T) {
	file := strings.Join([]string{
		returnEntryLine(2550, "999999990000001"),
		returnAddendaLine("R01", "076401250000002"),
	}, "\n") + "\n"

	entries, parseErrors := DecodeReturns([]byte(file))
	assert.Empty(t, parseErrors)
	require.Len(t, entries, 1)
	assert.Equal(t, "076401250000002", entries[0].TraceNumber, "matching uses the original trace")
	assert.Equal(t, "R01", entries[0].ReturnCode)
	assert.Equal(t, "Insufficient funds", entries[0].Reason)
	assert.Equal(t, int64(2550), entries[0].Amount)
}

func TestDecodeContinuesPastBadLines(t *testing.T) {
	file := strings.Join([]string{
		returnEntryLine(1000, "076401250000001"),
		returnAddendaLine("R02", "076401250000001"),
		"garbage line",
		returnEntryLine(500, "076401250000003"),
		returnAddendaLine("R10", "076401250000003"),
	}, "\n")

	entries, parseErrors := DecodeReturns([]byte(file))
	require.Len(t, parseErrors, 1)
	assert.Equal(t, 3, parseErrors[0].Line)
	require.Len(t, entries, 2)
	assert.Equal(t, "R02", entries[0].ReturnCode)
	assert.Equal(t, "R10", entries[1].ReturnCode)
}

func TestDecodeSkipsHeadersControlsAndFiller(t *testing.T) {
	file := strings.Join([]string{
		"1" + strings.Repeat(" ", 93),
		"5" + strings.Repeat(" ", 93),
		returnEntryLine(1000, "076401250000001"),
		returnAddendaLine("R03", "076401250000001"),
		"8" + strings.Repeat("0", 93),
		"9" + strings.Repeat("0", 93),
		strings.Repeat("9", RecordLength),
	}, "\n")

	entries, parseErrors := DecodeReturns([]byte(file))
	assert.Empty(t, parseErrors)
	require.Len(t, entries, 1)
	assert.Equal(t, "R03", entries[0].ReturnCode)
}

func TestDecodeOrphanAddenda(t *testing.T) {
	file := returnAddendaLine("R01", "076401250000009")

	entries, parseErrors := DecodeReturns([]byte(file))
	assert.Empty(t, entries)
	require.Len(t, parseErrors, 1)
	assert.Contains(t, parseErrors[0].Reason, "addenda without a preceding entry")
}

func TestDecodeBadAmount(t *testing.T) {
	line := returnEntryLine(1000, "076401250000001")
	line = line[:29] + "XXXXXXXXXX" + line[39:]

	entries, parseErrors := DecodeReturns([]byte(line))
	assert.Empty(t, entries)
	require.Len(t, parseErrors, 1)
	assert.Contains(t, parseErrors[0].Reason, "amount")
}

func TestDecodeCRLF(t *testing.T) {
	file := returnEntryLine(1000, "076401250000001") + "\r\n" +
		returnAddendaLine("R01", "076401250000001") + "\r\n"

	entries, parseErrors := DecodeReturns([]byte(file))
	assert.Empty(t, parseErrors)
	assert.Len(t, entries, 1)
}

func TestReasonForCodeFallsBack(t *testing.T) {
	assert.Equal(t, "Account closed", ReasonForCode("R02"))
	assert.Equal(t, "R97", ReasonForCode("R97"))
}
