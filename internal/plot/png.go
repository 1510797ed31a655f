package plot

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/wcharczuk/go-chart/v2"
)

// ErrNoData is returned when no series has enough points to draw.
var ErrNoData = errors.New("no plottable data")

// RenderPNG draws a static time-series preview of f. Gaps are dropped.
func RenderPNG(w io.Writer, f Figure) error {
	graph := chart.Chart{
		Title:  f.Title(),
		Width:  1200,
		Height: 500,
		XAxis: chart.XAxis{
			Name:           "Date",
			ValueFormatter: chart.TimeValueFormatterWithFormat("2006-01-02"),
		},
		YAxis: chart.YAxis{
			Name: "Temperature",
		},
	}

	for _, s := range f.Series {
		var xs []time.Time
		var ys []float64
		for i, v := range s.Values {
			if i >= len(f.Index) || math.IsNaN(v) {
				continue
			}
			xs = append(xs, f.Index[i])
			ys = append(ys, v)
		}
		if len(xs) < 2 {
			continue
		}
		graph.Series = append(graph.Series, chart.TimeSeries{
			Name:    seriesPrefix + s.Station.Name,
			XValues: xs,
			YValues: ys,
		})
	}
	if len(graph.Series) == 0 {
		return ErrNoData
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	if err := graph.Render(chart.PNG, w); err != nil {
		return fmt.Errorf("render png: %w", err)
	}
	return nil
}

// WritePNG writes the static preview to path.
func WritePNG(path string, f Figure) (err error) {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", path, cerr)
		}
	}()
	return RenderPNG(out, f)
}
