package table

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"

	"github.com/MaykThewessen/KNMI-retrieve-and-plotly/internal/knmi"
)

const (
	ColTemperature = "T"
	ColDewPoint    = "TD"
	ColGroundMin   = "T10N"

	// Source values are tenths of a degree Celsius.
	tenths = 10.0

	timestampLayout = "200601021504"
)

// Table is an observation frame with a timestamp row index.
type Table struct {
	Index []time.Time
	Frame dataframe.DataFrame
}

// TemperatureColumn names the merged temperature column of a station, e.g. T_260.
func TemperatureColumn(stationID int) string {
	return ColTemperature + "_" + strconv.Itoa(stationID)
}

// Nrow returns the number of rows.
func (t *Table) Nrow() int {
	return t.Frame.Nrow()
}

// Series returns the float values of column name.
func (t *Table) Series(name string) ([]float64, error) {
	col := t.Frame.Col(name)
	if col.Err != nil {
		return nil, fmt.Errorf("column %s: %w", name, col.Err)
	}
	return col.Float(), nil
}

// Rescale returns a copy of df with columns divided by factor.
func Rescale(df dataframe.DataFrame, factor float64, cols ...string) (dataframe.DataFrame, error) {
	df = df.Copy()
	for _, name := range cols {
		col := df.Col(name)
		if col.Err != nil {
			return dataframe.DataFrame{}, fmt.Errorf("rescale %s: %w", name, col.Err)
		}
		df = df.Mutate(series.New(divide(col.Float(), factor), series.Float, name))
		if df.Err != nil {
			return dataframe.DataFrame{}, fmt.Errorf("rescale %s: %w", name, df.Err)
		}
	}
	return df, nil
}

func divide(vals []float64, factor float64) []float64 {
	out := make([]float64, len(vals))
	for i, v := range vals {
		out[i] = v / factor
	}
	return out
}

// Timestamp converts a date (YYYYMMDD) and a 1..24 hour into the start of
// that hour in UTC: hour 1 is 00:00, hour 24 is 23:00.
func Timestamp(date, hour int) (time.Time, error) {
	s := strconv.Itoa(date) + fmt.Sprintf("%02d", hour-1) + "00"
	ts, err := time.ParseInLocation(timestampLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("timestamp for date %d hour %d: %w", date, hour, err)
	}
	return ts, nil
}

// Merge builds the combined table from two stations' raw observations.
// Temperature and dew point are converted to degrees, the station and
// ground-minimum columns are dropped and the secondary station's
// temperature is attached by row position. The secondary series is
// NaN-padded or truncated to the primary's length.
func Merge(primary, secondary dataframe.DataFrame, primaryID, secondaryID int, logger *slog.Logger) (*Table, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if primary.Err != nil {
		return nil, fmt.Errorf("primary table: %w", primary.Err)
	}
	if secondary.Err != nil {
		return nil, fmt.Errorf("secondary table: %w", secondary.Err)
	}

	df, err := Rescale(primary, tenths, ColDewPoint, ColTemperature)
	if err != nil {
		return nil, err
	}

	primaryCol := TemperatureColumn(primaryID)
	df = df.Mutate(series.New(df.Col(ColTemperature).Float(), series.Float, primaryCol))
	if df.Err != nil {
		return nil, fmt.Errorf("add %s: %w", primaryCol, df.Err)
	}

	for _, name := range []string{knmi.ColStation, ColGroundMin} {
		if !hasColumn(df, name) {
			return nil, fmt.Errorf("drop %s: column not found", name)
		}
	}
	df = df.Drop([]string{knmi.ColStation, ColGroundMin})
	if df.Err != nil {
		return nil, fmt.Errorf("drop columns: %w", df.Err)
	}

	secondaryT := secondary.Col(ColTemperature)
	if secondaryT.Err != nil {
		return nil, fmt.Errorf("secondary %s: %w", ColTemperature, secondaryT.Err)
	}
	if secondary.Nrow() != df.Nrow() {
		logger.Warn("station row counts differ, aligning by position",
			"primary", primaryID,
			"primary_rows", df.Nrow(),
			"secondary", secondaryID,
			"secondary_rows", secondary.Nrow(),
		)
	}
	secondaryCol := TemperatureColumn(secondaryID)
	aligned := alignByPosition(divide(secondaryT.Float(), tenths), df.Nrow())
	df = df.Mutate(series.New(aligned, series.Float, secondaryCol))
	if df.Err != nil {
		return nil, fmt.Errorf("add %s: %w", secondaryCol, df.Err)
	}

	index, err := buildIndex(df)
	if err != nil {
		return nil, err
	}

	return &Table{Index: index, Frame: df}, nil
}

func alignByPosition(vals []float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		if i < len(vals) {
			out[i] = vals[i]
		} else {
			out[i] = math.NaN()
		}
	}
	return out
}

func hasColumn(df dataframe.DataFrame, name string) bool {
	for _, n := range df.Names() {
		if n == name {
			return true
		}
	}
	return false
}

func buildIndex(df dataframe.DataFrame) ([]time.Time, error) {
	dates, err := intColumn(df, knmi.ColDate)
	if err != nil {
		return nil, err
	}
	hours, err := intColumn(df, knmi.ColHour)
	if err != nil {
		return nil, err
	}

	index := make([]time.Time, len(dates))
	for i := range dates {
		ts, err := Timestamp(dates[i], hours[i])
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		index[i] = ts
	}
	return index, nil
}

func intColumn(df dataframe.DataFrame, name string) ([]int, error) {
	col := df.Col(name)
	if col.Err != nil {
		return nil, fmt.Errorf("column %s: %w", name, col.Err)
	}
	vals, err := col.Int()
	if err != nil {
		return nil, fmt.Errorf("column %s: %w", name, err)
	}
	return vals, nil
}

// ErrEmpty is returned by operations that need at least one row.
var ErrEmpty = errors.New("table is empty")

// Span returns the first and last index timestamps.
func (t *Table) Span() (time.Time, time.Time, error) {
	if len(t.Index) == 0 {
		return time.Time{}, time.Time{}, ErrEmpty
	}
	return t.Index[0], t.Index[len(t.Index)-1], nil
}

// dumpRows is the number of head and tail rows String prints.
const dumpRows = 5

// String renders the head and tail of the table with its index.
func (t *Table) String() string {
	names := t.Frame.Names()
	header := append([]string{"datetime"}, names...)
	n := t.Nrow()

	var rows [][]string
	appendRow := func(i int) {
		row := []string{t.Index[i].Format("2006-01-02 15:04:05")}
		for _, name := range names {
			row = append(row, t.Frame.Elem(i, t.columnIndex(name)).String())
		}
		rows = append(rows, row)
	}
	for i := 0; i < n && i < dumpRows; i++ {
		appendRow(i)
	}
	if n > 2*dumpRows {
		rows = append(rows, nil)
	}
	for i := max(dumpRows, n-dumpRows); i < n; i++ {
		appendRow(i)
	}

	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], len(cell))
		}
	}

	var b strings.Builder
	writeRow := func(cells []string) {
		for i, cell := range cells {
			if i > 0 {
				b.WriteString("  ")
			}
			fmt.Fprintf(&b, "%*s", widths[i], cell)
		}
		b.WriteString("\n")
	}
	writeRow(header)
	for _, row := range rows {
		if row == nil {
			b.WriteString("...\n")
			continue
		}
		writeRow(row)
	}
	fmt.Fprintf(&b, "\n[%d rows x %d columns]", n, len(names))
	return b.String()
}

func (t *Table) columnIndex(name string) int {
	for i, n := range t.Frame.Names() {
		if n == name {
			return i
		}
	}
	return -1
}
