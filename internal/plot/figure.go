package plot

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/MaykThewessen/KNMI-retrieve-and-plotly/internal/table"
)

const (
	timeSeriesTitle   = "Hourly Temperature over time"
	distributionTitle = "Temperature Distribution"
	seriesPrefix      = "KNMI Temperature at Station: "

	chartWidth  = "1200px"
	chartHeight = "520px"
)

// missing is how echarts marks a gap in a series.
const missing = "-"

// Station selects a merged temperature column and its display name.
type Station struct {
	ID   int
	Name string
}

// Series is one station's hourly temperature.
type Series struct {
	Station Station
	Values  []float64
}

// Figure is everything needed to draw the time-series and distribution
// panels.
type Figure struct {
	Start   string
	End     string
	Index   []time.Time
	Series  []Series
	BinSize float64
}

// NewFigure picks the T_<id> column of each station out of tbl.
func NewFigure(tbl *table.Table, start, end string, stations ...Station) (Figure, error) {
	if tbl == nil {
		return Figure{}, errors.New("figure: nil table")
	}
	fig := Figure{Start: start, End: end, Index: tbl.Index, BinSize: DefaultBinSize}
	for _, st := range stations {
		vals, err := tbl.Series(table.TemperatureColumn(st.ID))
		if err != nil {
			return Figure{}, fmt.Errorf("figure: %w", err)
		}
		fig.Series = append(fig.Series, Series{Station: st, Values: vals})
	}
	return fig, nil
}

// Title is the page heading, e.g. "KNMI Station Data, Date Range: 20240101-20241231".
func (f Figure) Title() string {
	return fmt.Sprintf("KNMI Station Data, Date Range: %s-%s", f.Start, f.End)
}

// StatsLines returns one "Max/Min/Avg" line per station.
func (f Figure) StatsLines() []string {
	lines := make([]string, len(f.Series))
	for i, s := range f.Series {
		lines[i] = Summarize(s.Values).Line(s.Station.Name)
	}
	return lines
}

// ChartName returns the HTML file name, keyed by the first station's name.
// Variables are joined with "-" as in export.SpreadsheetName.
func ChartName(stationName string, variables []string, start, end string) string {
	return fmt.Sprintf("KNMI_data_%s_%s_%s_%s.html", stationName, strings.Join(variables, "-"), start, end)
}

// Build renders the figure as a two-chart page: temperatures over time and
// their distribution.
func Build(f Figure) (*components.Page, error) {
	for _, s := range f.Series {
		if len(s.Values) != len(f.Index) {
			return nil, fmt.Errorf("series %s has %d values for %d timestamps", s.Station.Name, len(s.Values), len(f.Index))
		}
	}

	bar, err := distributionChart(f)
	if err != nil {
		return nil, err
	}

	page := components.NewPage()
	page.PageTitle = f.Title()
	page.AddCharts(timeSeriesChart(f), bar)
	return page, nil
}

func timeSeriesChart(f Figure) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: chartWidth, Height: chartHeight}),
		charts.WithTitleOpts(opts.Title{Title: f.Title(), Subtitle: timeSeriesTitle, Left: "center"}),
		charts.WithLegendOpts(opts.Legend{Top: "bottom"}),
		charts.WithTooltipOpts(opts.Tooltip{Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Date", Type: "time"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Temperature"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider"}),
	)

	for _, s := range f.Series {
		data := make([]opts.LineData, len(f.Index))
		for i, ts := range f.Index {
			data[i] = opts.LineData{Value: []interface{}{ts.UnixMilli(), value(s.Values[i])}}
		}
		line.AddSeries(seriesPrefix+s.Station.Name, data,
			charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
		)
	}
	return line
}

func distributionChart(f Figure) (*charts.Bar, error) {
	size := f.BinSize
	if size == 0 {
		size = DefaultBinSize
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: chartWidth, Height: chartHeight}),
		charts.WithTitleOpts(opts.Title{
			Title:    distributionTitle,
			Subtitle: strings.Join(f.StatsLines(), "\n"),
			Left:     "center",
		}),
		charts.WithLegendOpts(opts.Legend{Top: "bottom"}),
		charts.WithTooltipOpts(opts.Tooltip{Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Temperature [°C]", Type: "value"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Occurrence [hours/year]"}),
	)

	for _, s := range f.Series {
		h, err := NewHistogram(s.Values, size)
		if err != nil {
			return nil, fmt.Errorf("histogram %s: %w", s.Station.Name, err)
		}
		centers := h.Centers()
		data := make([]opts.BarData, len(centers))
		for i, c := range centers {
			data[i] = opts.BarData{Value: []interface{}{c, h.Counts[i]}}
		}
		bar.AddSeries(seriesPrefix+s.Station.Name, data,
			charts.WithBarChartOpts(opts.BarChart{BarGap: "-100%"}),
		)
	}
	return bar, nil
}

// value maps NaN to the echarts gap marker; encoding/json cannot encode NaN.
func value(v float64) interface{} {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return missing
	}
	return v
}

// Render writes the HTML page for f to w.
func Render(w io.Writer, f Figure) error {
	page, err := Build(f)
	if err != nil {
		return err
	}
	if err := page.Render(w); err != nil {
		return fmt.Errorf("render page: %w", err)
	}
	return nil
}

// WriteHTML writes the interactive page to path, replacing any existing file.
func WriteHTML(path string, f Figure) (err error) {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", path, cerr)
		}
	}()
	return Render(out, f)
}
