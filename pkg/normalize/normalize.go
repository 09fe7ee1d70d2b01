// Package normalize implements the text normalization rules shared by the
// allocation engine and the exporter: NFKC folding, Persian/Arabic digit
// and letter unification, zero-width stripping, and the Excel formula
// guard.
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var digitFold = map[rune]rune{
	'۰': '0', '٠': '0',
	'۱': '1', '١': '1',
	'۲': '2', '٢': '2',
	'۳': '3', '٣': '3',
	'۴': '4', '٤': '4',
	'۵': '5', '٥': '5',
	'۶': '6', '٦': '6',
	'۷': '7', '٧': '7',
	'۸': '8', '٨': '8',
	'۹': '9', '٩': '9',
}

var letterFold = map[rune]rune{
	'ك': 'ک',
	'ي': 'ی',
}

func isZeroWidth(r rune) bool {
	switch {
	case r >= 0x200B && r <= 0x200D:
		return true
	case r == 0xFEFF:
		return true
	case r >= 0x202A && r <= 0x202C:
		return true
	}
	return false
}

// Text applies the full normalization pipeline to a single cell value.
// Returns empty string for a nil/empty input.
func Text(value string) string {
	if value == "" {
		return ""
	}

	text := norm.NFKC.String(value)

	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if isZeroWidth(r) {
			continue
		}
		if r == '\r' || r == '\n' || r == '\t' {
			b.WriteRune(' ')
			continue
		}
		if unicode.IsControl(r) {
			continue
		}
		if folded, ok := digitFold[r]; ok {
			b.WriteRune(folded)
			continue
		}
		if folded, ok := letterFold[r]; ok {
			b.WriteRune(folded)
			continue
		}
		b.WriteRune(r)
	}

	return strings.TrimSpace(b.String())
}

// Phone normalizes a phone-number cell: runs Text, then strips every
// non-digit character from the result.
func Phone(value string) string {
	text := Text(value)
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NeedsFormulaGuard reports whether s, taken as already-normalized text,
// would be interpreted by Excel/Sheets as a formula if written verbatim:
// a leading '=', '+', '-', '@', or tab character.
func NeedsFormulaGuard(s string) bool {
	if s == "" {
		return false
	}
	switch s[0] {
	case '=', '+', '-', '@', '\t':
		return true
	default:
		return false
	}
}

// FormulaGuard prepends a single apostrophe to s if it needs guarding,
// leaving it untouched otherwise.
func FormulaGuard(s string) string {
	if NeedsFormulaGuard(s) {
		return "'" + s
	}
	return s
}

// Cell runs Text then, when excelMode is true or the column is
// excel-risky, applies FormulaGuard. The guard covers every cell in Excel
// mode, and excel-risky columns regardless of mode.
func Cell(value string, excelMode bool, excelRisky bool) string {
	normalized := Text(value)
	if excelMode || excelRisky {
		return FormulaGuard(normalized)
	}
	return normalized
}
