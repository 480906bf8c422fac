// Package export renders deviation records as an XLSX workbook.
package export

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ThiagoRGoveia/desvios/internal/models"
	"github.com/ThiagoRGoveia/desvios/internal/parser"
	"github.com/xuri/excelize/v2"
)

// ContentType is the MIME type of the generated workbook.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Excel rejects longer sheet names.
const maxSheetNameLength = 31

// MaxCellLength is the most characters an Excel cell holds. Longer fields are
// cut to this length in the workbook; the store keeps the full text.
const MaxCellLength = 32767

// Excel rejects these in sheet names; "/" and "\" are unsafe in file names.
var unsafeNameReplacer = strings.NewReplacer(
	"/", "_", "\\", "_", ":", "_", "?", "_", "*", "_", "[", "_", "]", "_",
)

var ErrNothingToExport = errors.New("nothing to export")

// SheetName is the name of the only sheet for a warehouse.
func SheetName(warehouse string) string {
	name := []rune("Relatorio_Desvios")
	if warehouse != "" {
		name = []rune("Relatorio_Desvios_" + safeName(warehouse))
	}
	if len(name) > maxSheetNameLength {
		name = name[:maxSheetNameLength]
	}
	// Excel also rejects a trailing apostrophe.
	return strings.TrimRight(string(name), "'")
}

// FileName is the attachment name offered for download.
func FileName(warehouse string) string {
	if warehouse == "" {
		return "relatorio_desvios.xlsx"
	}
	return fmt.Sprintf("relatorio_desvios_%s.xlsx", safeName(warehouse))
}

func safeName(warehouse string) string {
	return unsafeNameReplacer.Replace(warehouse)
}

// Workbook builds a single sheet workbook with the store header and one row per
// record, in store order.
func Workbook(records []models.Deviation, warehouse string) ([]byte, error) {
	if len(records) == 0 {
		return nil, ErrNothingToExport
	}

	f := excelize.NewFile()
	defer f.Close()

	sheet := SheetName(warehouse)
	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return nil, fmt.Errorf("failed to name sheet: %w", err)
	}

	stream, err := f.NewStreamWriter(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to open sheet writer: %w", err)
	}

	if err := stream.SetRow("A1", toCells(parser.Header)); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}
	for i, record := range records {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		if err := stream.SetRow(cell, toCells(record.Columns())); err != nil {
			return nil, fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}
	if err := stream.Flush(); err != nil {
		return nil, fmt.Errorf("failed to flush sheet: %w", err)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func toCells(fields []string) []interface{} {
	cells := make([]interface{}, len(fields))
	for i, field := range fields {
		if utf8.RuneCountInString(field) > MaxCellLength {
			field = string([]rune(field)[:MaxCellLength])
		}
		cells[i] = field
	}
	return cells
}

// ExceedsCellLimit reports whether any field of records is longer than
// MaxCellLength and would be cut in the workbook.
func ExceedsCellLimit(records []models.Deviation) bool {
	for _, record := range records {
		for _, field := range record.Columns() {
			if utf8.RuneCountInString(field) > MaxCellLength {
				return true
			}
		}
	}
	return false
}
