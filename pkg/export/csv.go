package export

import (
	"bytes"
	"strings"

	"github.com/sabt-export/core/pkg/normalize"
)

var csvBOM = []byte{0xEF, 0xBB, 0xBF}

// needsQuoting reports whether raw CSV quoting rules require wrapping
// value in quotes even when the column isn't forced sensitive.
func needsQuoting(value string, newline string) bool {
	return strings.ContainsAny(value, ",\"\r\n") || strings.Contains(value, newline)
}

// encodeCSVField renders one cell with QUOTE_ALL-on-sensitive semantics:
// sensitive columns are always quoted; everything else only
// when its content requires it (comma, quote, or embedded newline).
// Embedded quotes are doubled per standard CSV escaping.
func encodeCSVField(column, value string, forceQuote bool) string {
	if !forceQuote && !needsQuoting(value, "\n") {
		return value
	}
	escaped := strings.ReplaceAll(value, `"`, `""`)
	return `"` + escaped + `"`
}

// renderCSV builds one chunk's CSV bytes, including header row, BOM
// (optional), and the requested newline style.
func renderCSV(rows []Row, opts Options) []byte {
	var buf bytes.Buffer
	if opts.IncludeBOM {
		buf.Write(csvBOM)
	}

	writeRow := func(cells []string) {
		buf.WriteString(strings.Join(cells, ","))
		buf.WriteString(opts.Newline)
	}

	writeRow(Columns)

	for _, r := range rows {
		cellMap := r.Cells(opts.ExcelMode)
		cells := make([]string, len(Columns))
		for i, col := range Columns {
			raw := cellMap[col]
			_, sensitive := sensitiveColumns[col]
			_, risky := excelRiskyColumns[col]
			guarded := normalize.Cell(raw, opts.ExcelMode, risky)
			cells[i] = encodeCSVField(col, guarded, sensitive)
		}
		writeRow(cells)
	}

	return buf.Bytes()
}
