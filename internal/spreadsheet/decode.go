// Package spreadsheet turns uploaded workbook bytes into raw Month/Amount rows.
package spreadsheet

import (
	"bytes"
	"encoding/csv"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"finrec/internal/core"

	"github.com/xuri/excelize/v2"
)

const (
	MonthColumn  = "Month"
	AmountColumn = "Amount"
)

type Format int

const (
	FormatUnknown Format = iota
	FormatXLSX
	FormatCSV
)

func (f Format) String() string {
	switch f {
	case FormatXLSX:
		return "xlsx"
	case FormatCSV:
		return "csv"
	default:
		return "unknown"
	}
}

var (
	zipMagic = []byte("PK\x03\x04")
	oleMagic = []byte{0xD0, 0xCF, 0x11, 0xE0}
	utf8BOM  = []byte{0xEF, 0xBB, 0xBF}
)

// DetectFormat picks the decoder from the content first and the file name
// second. Legacy binary workbooks (.xls) are not supported.
func DetectFormat(data []byte, name string) Format {
	if bytes.HasPrefix(data, zipMagic) {
		return FormatXLSX
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx", ".xlsm":
		return FormatXLSX
	case ".csv":
		return FormatCSV
	case ".xls":
		return FormatUnknown
	}
	if bytes.HasPrefix(data, oleMagic) || !utf8.Valid(data) {
		return FormatUnknown
	}
	return FormatCSV
}

// Decode reads the first sheet of data and returns one RawRow per data row,
// in sheet order. The header is the first non-empty row and must contain
// Month and Amount columns (matched case-sensitively); other columns are
// ignored, as are rows where both Month and Amount are blank.
// Every failure is a *core.DecodeError.
func Decode(data []byte, name string) ([]core.RawRow, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &core.DecodeError{Reason: "empty file"}
	}

	var (
		grid [][]string
		err  error
	)
	switch DetectFormat(data, name) {
	case FormatXLSX:
		grid, err = readWorkbook(data)
	case FormatCSV:
		grid, err = readCSV(data)
	default:
		return nil, &core.DecodeError{Reason: "unsupported file format"}
	}
	if err != nil {
		return nil, err
	}
	return rowsFromGrid(grid)
}

func readWorkbook(data []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, &core.DecodeError{Reason: "unreadable workbook", Err: err}
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, &core.DecodeError{Reason: "workbook has no sheets"}
	}
	rows, err := f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, &core.DecodeError{Reason: "unreadable sheet " + sheets[0], Err: err}
	}
	return rows, nil
}

func readCSV(data []byte) ([][]string, error) {
	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, utf8BOM)))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	// csv skips empty lines; pad the grid so indexes stay line numbers.
	var grid [][]string
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			return grid, nil
		}
		if err != nil {
			return nil, &core.DecodeError{Reason: "malformed csv", Err: err}
		}
		line, _ := r.FieldPos(0)
		for len(grid) < line-1 {
			grid = append(grid, nil)
		}
		grid = append(grid, rec)
	}
}

func rowsFromGrid(grid [][]string) ([]core.RawRow, error) {
	header := -1
	for i, row := range grid {
		if !blank(row) {
			header = i
			break
		}
	}
	if header < 0 {
		return nil, &core.DecodeError{Reason: "no header row"}
	}

	monthCol, amountCol := -1, -1
	for i, cell := range grid[header] {
		switch strings.TrimSpace(cell) {
		case MonthColumn:
			if monthCol < 0 {
				monthCol = i
			}
		case AmountColumn:
			if amountCol < 0 {
				amountCol = i
			}
		}
	}
	if monthCol < 0 {
		return nil, &core.DecodeError{Reason: "header has no " + MonthColumn + " column", Row: header + 1}
	}
	if amountCol < 0 {
		return nil, &core.DecodeError{Reason: "header has no " + AmountColumn + " column", Row: header + 1}
	}

	out := make([]core.RawRow, 0, len(grid)-header-1)
	for i := header + 1; i < len(grid); i++ {
		month := cell(grid[i], monthCol)
		amount := cell(grid[i], amountCol)
		if month == "" && amount == "" {
			continue
		}
		out = append(out, core.RawRow{Row: i + 1, MonthToken: month, AmountToken: amount})
	}
	return out, nil
}

func cell(row []string, idx int) string {
	if idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
