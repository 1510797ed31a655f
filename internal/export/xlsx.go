package export

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/xuri/excelize/v2"

	"github.com/MaykThewessen/KNMI-retrieve-and-plotly/internal/table"
)

const sheetName = "Sheet1"

// floatNumFmt marks Float columns so ReadXLSX can restore their type.
const floatNumFmt = "0.0"

// SpreadsheetName returns the export file name for a variable set and date
// range, e.g. KNMI_data_TEMP_20240101_20241231.xlsx. Variables are joined
// with "-" so the name holds no brackets or quotes; earlier exports used the
// list literal form KNMI_data_['TEMP']_... instead.
func SpreadsheetName(variables []string, start, end string) string {
	return fmt.Sprintf("KNMI_data_%s_%s_%s.xlsx", strings.Join(variables, "-"), start, end)
}

// WriteXLSX writes every frame column of tbl to path, one header row and one
// row per observation. The timestamp index is not written. An existing file
// is overwritten.
func WriteXLSX(path string, tbl *table.Table) (err error) {
	if tbl == nil {
		return errors.New("write xlsx: nil table")
	}

	f := excelize.NewFile()
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close workbook: %w", cerr)
		}
	}()

	numFmt := floatNumFmt
	floatStyle, err := f.NewStyle(&excelize.Style{CustomNumFmt: &numFmt})
	if err != nil {
		return fmt.Errorf("float style: %w", err)
	}

	sw, err := f.NewStreamWriter(sheetName)
	if err != nil {
		return fmt.Errorf("stream writer: %w", err)
	}

	names := tbl.Frame.Names()
	header := make([]interface{}, len(names))
	for i, n := range names {
		header[i] = n
	}
	if err := sw.SetRow("A1", header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	cols := make([]series.Series, len(names))
	for i, n := range names {
		cols[i] = tbl.Frame.Col(n)
	}

	for r := 0; r < tbl.Nrow(); r++ {
		row := make([]interface{}, len(cols))
		for c, col := range cols {
			v := cellValue(col.Elem(r), col.Type())
			if col.Type() == series.Float {
				row[c] = excelize.Cell{StyleID: floatStyle, Value: v}
				continue
			}
			row[c] = v
		}
		cell, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			return err
		}
		if err := sw.SetRow(cell, row); err != nil {
			return fmt.Errorf("write row %d: %w", r+2, err)
		}
	}

	if err := sw.Flush(); err != nil {
		return fmt.Errorf("flush sheet: %w", err)
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}

// cellValue maps a frame element to a spreadsheet value. Missing values
// become empty cells.
func cellValue(e series.Element, t series.Type) interface{} {
	if e.IsNA() {
		return nil
	}
	switch t {
	case series.Int:
		v, err := e.Int()
		if err != nil {
			return nil
		}
		return v
	case series.Float:
		v := e.Float()
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil
		}
		return v
	default:
		return e.String()
	}
}

// ReadXLSX loads the first sheet written by WriteXLSX back into a frame.
// Columns carrying the Float number format stay Float. Other columns are
// typed Int when every value is an integer and Float otherwise. Empty cells
// are NaN.
func ReadXLSX(path string) (df dataframe.DataFrame, err error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return dataframe.DataFrame{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close workbook: %w", cerr)
		}
	}()

	rows, err := f.GetRows(sheetName, excelize.Options{RawCellValue: true})
	if err != nil {
		return dataframe.DataFrame{}, fmt.Errorf("read %s: %w", sheetName, err)
	}
	if len(rows) == 0 {
		return dataframe.DataFrame{}, fmt.Errorf("read %s: sheet is empty", sheetName)
	}

	header := rows[0]
	cells := make([][]string, len(header))
	for _, row := range rows[1:] {
		for c := range header {
			v := ""
			if c < len(row) {
				v = strings.TrimSpace(row[c])
			}
			cells[c] = append(cells[c], v)
		}
	}

	cols := make([]series.Series, len(header))
	for c, name := range header {
		isFloat, err := hasFloatFormat(f, c, len(rows) > 1)
		if err != nil {
			return dataframe.DataFrame{}, err
		}
		s, err := parseColumn(name, cells[c], isFloat)
		if err != nil {
			return dataframe.DataFrame{}, err
		}
		cols[c] = s
	}

	df = dataframe.New(cols...)
	if df.Err != nil {
		return dataframe.DataFrame{}, fmt.Errorf("build frame: %w", df.Err)
	}
	return df, nil
}

// hasFloatFormat reports whether the first data cell of column c uses the
// number format WriteXLSX gives Float columns.
func hasFloatFormat(f *excelize.File, c int, hasData bool) (bool, error) {
	if !hasData {
		return false, nil
	}
	cell, err := excelize.CoordinatesToCellName(c+1, 2)
	if err != nil {
		return false, err
	}
	id, err := f.GetCellStyle(sheetName, cell)
	if err != nil {
		return false, fmt.Errorf("style of %s: %w", cell, err)
	}
	style, err := f.GetStyle(id)
	if err != nil {
		return false, fmt.Errorf("style %d: %w", id, err)
	}
	return style.CustomNumFmt != nil && *style.CustomNumFmt == floatNumFmt, nil
}

func parseColumn(name string, raw []string, isFloat bool) (series.Series, error) {
	if !isFloat {
		if ints, ok := parseInts(raw); ok {
			return series.New(ints, series.Int, name), nil
		}
	}

	floats := make([]float64, len(raw))
	for i, v := range raw {
		if v == "" {
			floats[i] = math.NaN()
			continue
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return series.Series{}, fmt.Errorf("column %s row %d: %w", name, i+2, err)
		}
		floats[i] = f
	}
	return series.New(floats, series.Float, name), nil
}

func parseInts(raw []string) ([]int, bool) {
	ints := make([]int, len(raw))
	for i, v := range raw {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, false
		}
		ints[i] = n
	}
	return ints, true
}
