package plot

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Stats summarises a temperature series.
type Stats struct {
	Max   float64
	Min   float64
	Mean  float64
	Count int
}

// Summarize returns max, min and mean of values, ignoring NaN. All fields
// except Count are NaN when no value is present.
func Summarize(values []float64) Stats {
	present := dropNaN(values)
	if len(present) == 0 {
		return Stats{Max: math.NaN(), Min: math.NaN(), Mean: math.NaN()}
	}
	return Stats{
		Max:   floats.Max(present),
		Min:   floats.Min(present),
		Mean:  stat.Mean(present, nil),
		Count: len(present),
	}
}

// Line formats the stats as "<name>: Max: 28.7°C, Min: -5.3°C, Avg: 11.2°C".
func (s Stats) Line(name string) string {
	return fmt.Sprintf("%s: Max: %.1f°C, Min: %.1f°C, Avg: %.1f°C", name, s.Max, s.Min, s.Mean)
}

func dropNaN(values []float64) []float64 {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	return out
}
