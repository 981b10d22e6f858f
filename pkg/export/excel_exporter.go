package export

import (
	"fmt"

	"github.com/xuri/excelize/v2"
)

// DefaultSheetName is the worksheet used for disbursement forms.
const DefaultSheetName = "Disbursement"

// ExcelExporter renders datasets into a single-sheet xlsx workbook.
type ExcelExporter struct {
	sheet string
}

// NewExcelExporter builds an Excel exporter.
func NewExcelExporter() *ExcelExporter {
	return &ExcelExporter{sheet: DefaultSheetName}
}

// Render writes an optional merged title row followed by the header row and
// one row per dataset record.
func (e *ExcelExporter) Render(data Dataset, title string) ([]byte, error) {
	if len(data.Headers) == 0 {
		return nil, fmt.Errorf("xlsx requires at least one header")
	}
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", e.sheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}

	lastCol, err := excelize.ColumnNumberToName(len(data.Headers))
	if err != nil {
		return nil, fmt.Errorf("resolve last column: %w", err)
	}

	row := 1
	if title != "" {
		if err := f.SetCellValue(e.sheet, "A1", title); err != nil {
			return nil, fmt.Errorf("write title: %w", err)
		}
		if err := f.MergeCell(e.sheet, "A1", lastCol+"1"); err != nil {
			return nil, fmt.Errorf("merge title: %w", err)
		}
		row = 2
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
	})
	if err != nil {
		return nil, fmt.Errorf("build header style: %w", err)
	}
	for i, header := range data.Headers {
		cell, err := excelize.CoordinatesToCellName(i+1, row)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue(e.sheet, cell, header); err != nil {
			return nil, fmt.Errorf("write header %s: %w", header, err)
		}
	}
	if err := f.SetCellStyle(e.sheet, fmt.Sprintf("A%d", row), fmt.Sprintf("%s%d", lastCol, row), headerStyle); err != nil {
		return nil, fmt.Errorf("style header: %w", err)
	}
	if err := f.SetColWidth(e.sheet, "A", lastCol, 18); err != nil {
		return nil, fmt.Errorf("set column width: %w", err)
	}

	for _, record := range data.Rows {
		row++
		for i, header := range data.Headers {
			cell, err := excelize.CoordinatesToCellName(i+1, row)
			if err != nil {
				return nil, err
			}
			if err := f.SetCellValue(e.sheet, cell, record[header]); err != nil {
				return nil, fmt.Errorf("write cell %s: %w", cell, err)
			}
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("render xlsx: %w", err)
	}
	return buf.Bytes(), nil
}
