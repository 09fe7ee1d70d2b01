package export

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/sabt-export/core/pkg/normalize"
)

// xlsxSheet is one in-memory worksheet: a header row plus data rows, all
// rendered as inline strings so Excel never type-coerces sensitive values
// like national ids and counters. Applied to every cell, since every
// column in this export is textual by contract.
type xlsxSheet struct {
	Name string
	Rows [][]string
}

func columnLetter(n int) string {
	letters := ""
	for n >= 0 {
		letters = string(rune('A'+n%26)) + letters
		n = n/26 - 1
	}
	return letters
}

func xmlEscapeText(s string) string {
	var b strings.Builder
	if err := xml.EscapeText(&b, []byte(s)); err != nil {
		return s
	}
	return b.String()
}

func renderSheetXML(sheet xlsxSheet) []byte {
	var buf bytes.Buffer
	buf.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>`)
	buf.WriteString(`<worksheet xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main"><sheetData>`)
	for rowIdx, row := range sheet.Rows {
		fmt.Fprintf(&buf, `<row r="%d">`, rowIdx+1)
		for colIdx, cell := range row {
			ref := fmt.Sprintf("%s%d", columnLetter(colIdx), rowIdx+1)
			fmt.Fprintf(&buf, `<c r="%s" t="inlineStr"><is><t xml:space="preserve">%s</t></is></c>`, ref, xmlEscapeText(cell))
		}
		buf.WriteString(`</row>`)
	}
	buf.WriteString(`</sheetData></worksheet>`)
	return buf.Bytes()
}

const xlsxContentTypes = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">
<Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/>
<Default Extension="xml" ContentType="application/xml"/>
<Override PartName="/xl/workbook.xml" ContentType="application/vnd.openxmlformats-officedocument.spreadsheetml.sheet.main+xml"/>
%s
</Types>`

const xlsxRootRels = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="xl/workbook.xml"/>
</Relationships>`

// renderXLSX packages one or more sheets into a single OOXML .xlsx
// archive. The container is assembled directly against the documented
// OOXML schema via archive/zip + encoding/xml; entry order and zero
// timestamps keep the output bytes deterministic for a given input.
func renderXLSX(sheets []xlsxSheet) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	writeEntry := func(name string, data []byte) error {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate})
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	}

	var overrides strings.Builder
	var workbookSheetsXML strings.Builder
	var workbookRelsXML strings.Builder

	for i, sheet := range sheets {
		idx := i + 1
		sheetPath := fmt.Sprintf("xl/worksheets/sheet%d.xml", idx)
		if err := writeEntry(sheetPath, renderSheetXML(sheet)); err != nil {
			return nil, fmt.Errorf("export: write xlsx sheet: %w", err)
		}
		fmt.Fprintf(&overrides, `<Override PartName="/%s" ContentType="application/vnd.openxmlformats-officedocument.spreadsheetml.worksheet+xml"/>`, sheetPath)
		fmt.Fprintf(&workbookSheetsXML, `<sheet name="%s" sheetId="%d" r:id="rId%d"/>`, xmlEscapeText(sheet.Name), idx, idx)
		fmt.Fprintf(&workbookRelsXML, `<Relationship Id="rId%d" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/worksheet" Target="worksheets/sheet%d.xml"/>`, idx, idx)
	}

	workbookXML := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<workbook xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main" xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships">
<sheets>%s</sheets>
</workbook>`, workbookSheetsXML.String())

	workbookRels := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">%s</Relationships>`, workbookRelsXML.String())

	if err := writeEntry("[Content_Types].xml", []byte(fmt.Sprintf(xlsxContentTypes, overrides.String()))); err != nil {
		return nil, err
	}
	if err := writeEntry("_rels/.rels", []byte(xlsxRootRels)); err != nil {
		return nil, err
	}
	if err := writeEntry("xl/workbook.xml", []byte(workbookXML)); err != nil {
		return nil, err
	}
	if err := writeEntry("xl/_rels/workbook.xml.rels", []byte(workbookRels)); err != nil {
		return nil, err
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("export: close xlsx archive: %w", err)
	}
	return buf.Bytes(), nil
}

// sheetFromRows renders one chunk of rows into an xlsxSheet, applying the
// same normalization/formula-guard pipeline as CSV (pkg/export/csv.go).
func sheetFromRows(name string, rows []Row, opts Options) xlsxSheet {
	sheet := xlsxSheet{Name: name}
	header := append([]string(nil), Columns...)
	sheet.Rows = append(sheet.Rows, header)
	for _, r := range rows {
		cellMap := r.Cells(opts.ExcelMode)
		cells := make([]string, len(Columns))
		for i, col := range Columns {
			raw := cellMap[col]
			_, risky := excelRiskyColumns[col]
			cells[i] = normalize.Cell(raw, opts.ExcelMode, risky)
		}
		sheet.Rows = append(sheet.Rows, cells)
	}
	return sheet
}
